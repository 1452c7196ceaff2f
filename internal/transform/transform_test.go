package transform

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLookup(t *testing.T, name string) Func {
	t.Helper()
	fn, err := Lookup(name)
	require.NoError(t, err)
	require.NotNil(t, fn)
	return fn
}

func TestLookup(t *testing.T) {
	fn, err := Lookup("")
	require.NoError(t, err)
	assert.Nil(t, fn)

	for _, name := range []string{"identity", "string", "hex", "number", "bool", "address", "units:18", "parseUnits:6"} {
		fn, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotNil(t, fn, name)
	}

	for _, name := range []string{"nope", "units", "units:x", "units:-1", "parseUnits:100"} {
		_, err := Lookup(name)
		assert.ErrorIs(t, err, ErrUnknownTransform, name)
	}
}

func TestApply(t *testing.T) {
	addr := common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)

	tests := []struct {
		name      string
		transform string
		in        any
		want      any
	}{
		{"identity", "identity", 7, 7},
		{"string big", "string", big.NewInt(42), "42"},
		{"string address", "string", addr, "0x6B175474E89094C44Da98b954EedeAC495271d0F"},
		{"string bytes", "string", []byte{0xde, 0xad}, "0xdead"},
		{"hex big", "hex", big.NewInt(255), "0xff"},
		{"hex fixed bytes", "hex", [2]byte{0xbe, 0xef}, "0xbeef"},
		{"number big", "number", big.NewInt(12), 12.0},
		{"number uint8", "number", uint8(18), 18.0},
		{"number text", "number", "1.25", 1.25},
		{"bool true", "bool", true, true},
		{"bool nonzero", "bool", big.NewInt(3), true},
		{"bool zero", "bool", big.NewInt(0), false},
		{"address", "address", addr, "0x6B175474E89094C44Da98b954EedeAC495271d0F"},
		{"address lower text", "address", "0x6b175474e89094c44da98b954eedeac495271d0f", "0x6B175474E89094C44Da98b954EedeAC495271d0F"},
		{"units", "units:18", wei, 1.5},
		{"units hex text", "units:2", "0x64", 1.0},
		{"parseUnits decimal", "parseUnits:18", "1.5", wei},
		{"parseUnits integer", "parseUnits:2", 3, big.NewInt(300)},
		{"parseUnits truncates", "parseUnits:2", "0.129", big.NewInt(12)},
		{"parseUnits negative", "parseUnits:1", "-2.5", big.NewInt(-25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustLookup(t, tt.transform)(tt.in)
			require.NoError(t, err)
			if want, ok := tt.want.(*big.Int); ok {
				require.IsType(t, &big.Int{}, got)
				assert.Equal(t, 0, want.Cmp(got.(*big.Int)), "got %s", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_Errors(t *testing.T) {
	_, err := Number(struct{}{})
	assert.Error(t, err)

	_, err = Address("0x1234")
	assert.Error(t, err)

	_, err = Bool("maybe")
	assert.Error(t, err)

	_, err = ParseUnits(18)("1.2.3")
	assert.Error(t, err)
}

func TestUnits_RejectsNegativeDecimals(t *testing.T) {
	for _, fn := range []Func{Units(-1), ParseUnits(-1), Units(maxDecimals + 1)} {
		_, err := fn(big.NewInt(1000))
		assert.ErrorIs(t, err, ErrInvalidDecimals)
	}

	_, err := ParseUnits(-2)("1.5")
	assert.ErrorIs(t, err, ErrInvalidDecimals)

	_, err = Lookup("parseUnits:-3")
	assert.ErrorIs(t, err, ErrInvalidDecimals)
}

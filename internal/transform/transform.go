// Package transform provides named value transforms usable from definition files.
//
// Decode-side transforms turn raw ABI values (*big.Int, common.Address, []byte, ...)
// into presentation values. Encode-side transforms prepare call arguments.
package transform

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Func converts one value
type Func func(v any) (any, error)

var (
	ErrUnknownTransform = errors.New("unknown transform")
	ErrInvalidDecimals  = errors.New("decimals out of range")
)

// maxDecimals bounds units:N and parseUnits:N
const maxDecimals = 77

// Lookup returns the transform registered under name.
// Parameterised transforms take their argument after a colon, e.g. "units:18".
// The empty name yields nil, meaning no transform.
func Lookup(name string) (Func, error) {
	name = strings.TrimSpace(name)
	base, param, hasParam := strings.Cut(name, ":")

	switch base {
	case "":
		return nil, nil
	case "identity":
		return Identity, nil
	case "string":
		return String, nil
	case "hex":
		return Hex, nil
	case "number":
		return Number, nil
	case "bool":
		return Bool, nil
	case "address":
		return Address, nil
	case "units", "parseUnits":
		if !hasParam {
			return nil, fmt.Errorf("%w: %s requires decimals, e.g. %s:18", ErrUnknownTransform, base, base)
		}
		decimals, err := strconv.Atoi(param)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid decimals %q", ErrUnknownTransform, param)
		}
		if decimals < 0 || decimals > maxDecimals {
			return nil, fmt.Errorf("%w: %w: %s:%d", ErrUnknownTransform, ErrInvalidDecimals, base, decimals)
		}
		if base == "units" {
			return Units(decimals), nil
		}
		return ParseUnits(decimals), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTransform, name)
}

// Identity returns v unchanged
func Identity(v any) (any, error) {
	return v, nil
}

// String renders v as text; integers in base 10, addresses checksummed, bytes as hex
func String(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case *big.Int:
		if t == nil {
			return "0", nil
		}
		return t.String(), nil
	case common.Address:
		return t.Hex(), nil
	case []byte:
		return hexutil.Encode(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	if b, ok := fixedBytes(v); ok {
		return hexutil.Encode(b), nil
	}
	return fmt.Sprint(v), nil
}

// Hex renders integers and byte values as 0x-prefixed hex
func Hex(v any) (any, error) {
	switch t := v.(type) {
	case []byte:
		return hexutil.Encode(t), nil
	case common.Address:
		return t.Hex(), nil
	case string:
		if strings.HasPrefix(t, "0x") {
			return t, nil
		}
	}
	if b, ok := fixedBytes(v); ok {
		return hexutil.Encode(b), nil
	}
	n, err := toBigInt(v)
	if err != nil {
		return nil, fmt.Errorf("hex: %w", err)
	}
	return hexutil.EncodeBig(n), nil
}

// Number converts numeric values to float64
func Number(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, fmt.Errorf("number: %w", err)
		}
		return f, nil
	}
	n, err := toBigInt(v)
	if err != nil {
		return nil, fmt.Errorf("number: %w", err)
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return f, nil
}

// Bool converts booleans, numbers and "true"/"false" text to bool
func Bool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("bool: %w", err)
		}
		return b, nil
	}
	n, err := toBigInt(v)
	if err != nil {
		return nil, fmt.Errorf("bool: %w", err)
	}
	return n.Sign() != 0, nil
}

// Address renders addresses as checksummed hex
func Address(v any) (any, error) {
	switch t := v.(type) {
	case common.Address:
		return t.Hex(), nil
	case string:
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("address: invalid hex address %q", t)
		}
		return common.HexToAddress(t).Hex(), nil
	case []byte:
		if len(t) != common.AddressLength {
			return nil, fmt.Errorf("address: %d bytes", len(t))
		}
		return common.BytesToAddress(t).Hex(), nil
	}
	return nil, fmt.Errorf("address: unsupported type %T", v)
}

// Units scales an integer amount down by 10^decimals into a float64
func Units(decimals int) Func {
	if decimals < 0 || decimals > maxDecimals {
		return failing(fmt.Errorf("units: %w: %d", ErrInvalidDecimals, decimals))
	}
	scale := new(big.Float).SetInt(pow10(decimals))
	return func(v any) (any, error) {
		n, err := toBigInt(v)
		if err != nil {
			return nil, fmt.Errorf("units: %w", err)
		}
		f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), scale).Float64()
		return f, nil
	}
}

// ParseUnits scales a decimal amount up by 10^decimals into a *big.Int.
// Digits beyond the given precision are truncated.
func ParseUnits(decimals int) Func {
	if decimals < 0 || decimals > maxDecimals {
		return failing(fmt.Errorf("parseUnits: %w: %d", ErrInvalidDecimals, decimals))
	}
	return func(v any) (any, error) {
		var text string
		switch t := v.(type) {
		case string:
			text = strings.TrimSpace(t)
		case float64:
			text = strconv.FormatFloat(t, 'f', -1, 64)
		case float32:
			text = strconv.FormatFloat(float64(t), 'f', -1, 32)
		default:
			n, err := toBigInt(v)
			if err != nil {
				return nil, fmt.Errorf("parseUnits: %w", err)
			}
			return new(big.Int).Mul(n, pow10(decimals)), nil
		}

		negative := strings.HasPrefix(text, "-")
		text = strings.TrimPrefix(text, "-")
		whole, frac, _ := strings.Cut(text, ".")
		if whole == "" {
			whole = "0"
		}
		if len(frac) > decimals {
			frac = frac[:decimals]
		}
		frac += strings.Repeat("0", decimals-len(frac))

		n, ok := new(big.Int).SetString(whole+frac, 10)
		if !ok {
			return nil, fmt.Errorf("parseUnits: invalid decimal %q", v)
		}
		if negative {
			n.Neg(n)
		}
		return n, nil
	}
}

// failing returns a transform that rejects every value with err
func failing(err error) Func {
	return func(any) (any, error) {
		return nil, err
	}
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// toBigInt accepts *big.Int, the Go integer kinds and decimal or 0x-hex text
func toBigInt(v any) (*big.Int, error) {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return new(big.Int), nil
		}
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s, base = s[2:], 16
		}
		n, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", t)
		}
		return n, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// fixedBytes returns the contents of a [N]byte array
func fixedBytes(v any) ([]byte, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array || rv.Type().Elem().Kind() != reflect.Uint8 {
		return nil, false
	}
	b := make([]byte, rv.Len())
	reflect.Copy(reflect.ValueOf(b), rv)
	return b, true
}

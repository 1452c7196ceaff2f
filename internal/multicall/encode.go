package multicall

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"schemawatch/internal/schema"
)

var ErrUnsupportedArgument = errors.New("unsupported argument")

var bigIntType = reflect.TypeOf(&big.Int{})

// preparedCall is a descriptor with its calldata and return decoder built once at submission
type preparedCall struct {
	desc     schema.CallDescriptor
	calldata []byte
	outputs  abi.Arguments
}

// name identifies the call in logs
func (p *preparedCall) name() string {
	if len(p.desc.Returns) > 0 {
		return p.desc.Returns[0].Key
	}
	return p.desc.Signature()
}

// prepare parses the descriptor's signature and encodes its arguments
func prepare(desc schema.CallDescriptor) (*preparedCall, error) {
	sig, err := schema.ParseSignature(desc.Signature())
	if err != nil {
		return nil, err
	}
	args := desc.Args()
	if len(args) != len(sig.ArgTypes) {
		return nil, fmt.Errorf("%w: %s takes %d args, got %d", schema.ErrArityMismatch, sig.FnName, len(sig.ArgTypes), len(args))
	}
	if len(desc.Returns) != len(sig.ReturnTypes) {
		return nil, fmt.Errorf("%w: %s returns %d values, got %d keys", schema.ErrArityMismatch, sig.FnName, len(sig.ReturnTypes), len(desc.Returns))
	}

	inputs, err := arguments(sig.ArgTypes)
	if err != nil {
		return nil, fmt.Errorf("%s inputs: %w", sig.FnName, err)
	}
	outputs, err := arguments(sig.ReturnTypes)
	if err != nil {
		return nil, fmt.Errorf("%s outputs: %w", sig.FnName, err)
	}

	values := make([]any, len(args))
	for i, arg := range args {
		values[i], err = coerce(inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", sig.FnName, i, err)
		}
	}
	packed, err := inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", sig.FnName, err)
	}

	selector := sig.Selector()
	return &preparedCall{
		desc:     desc,
		calldata: append(selector[:], packed...),
		outputs:  outputs,
	}, nil
}

// decode unpacks return data and applies the descriptor's decode transforms
func (p *preparedCall) decode(data []byte) ([]any, error) {
	values, err := p.outputs.Unpack(data)
	if err != nil {
		return nil, err
	}
	for i, ret := range p.desc.Returns {
		if ret.Transform == nil {
			continue
		}
		values[i], err = ret.Transform(values[i])
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", ret.Key, err)
		}
	}
	return values, nil
}

func arguments(types []string) (abi.Arguments, error) {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(schema.CanonicalType(t), "", nil)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", t, err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args, nil
}

// coerce converts a call-site value to the Go type the ABI packer expects for t
func coerce(t abi.Type, v any) (any, error) {
	if v != nil && reflect.TypeOf(v) == t.GetType() {
		return v, nil
	}

	switch t.T {
	case abi.AddressTy:
		switch a := v.(type) {
		case string:
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("%w: invalid address %q", ErrUnsupportedArgument, a)
			}
			return common.HexToAddress(a), nil
		case []byte:
			if len(a) != common.AddressLength {
				return nil, fmt.Errorf("%w: address of %d bytes", ErrUnsupportedArgument, len(a))
			}
			return common.BytesToAddress(a), nil
		}

	case abi.BoolTy:
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnsupportedArgument, err)
			}
			return b, nil
		}

	case abi.StringTy:
		return fmt.Sprint(v), nil

	case abi.IntTy, abi.UintTy:
		return coerceInteger(t, v)

	case abi.BytesTy:
		if s, ok := v.(string); ok {
			b, err := hexutil.Decode(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnsupportedArgument, err)
			}
			return b, nil
		}

	case abi.FixedBytesTy:
		var b []byte
		switch raw := v.(type) {
		case []byte:
			b = raw
		case string:
			decoded, err := hexutil.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnsupportedArgument, err)
			}
			b = decoded
		}
		if b != nil {
			if len(b) > t.Size {
				return nil, fmt.Errorf("%w: %d bytes for bytes%d", ErrUnsupportedArgument, len(b), t.Size)
			}
			arr := reflect.New(t.GetType()).Elem()
			reflect.Copy(arr, reflect.ValueOf(b))
			return arr.Interface(), nil
		}
	}

	return nil, fmt.Errorf("%w: %T for %s", ErrUnsupportedArgument, v, t.String())
}

func coerceInteger(t abi.Type, v any) (any, error) {
	n, err := toBigInt(v)
	if err != nil {
		return nil, err
	}
	if !fits(t, n) {
		return nil, fmt.Errorf("%w: %s out of range for %s", ErrUnsupportedArgument, n, t.String())
	}

	goType := t.GetType()
	if goType == bigIntType {
		return n, nil
	}
	rv := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		rv.SetUint(n.Uint64())
	} else {
		rv.SetInt(n.Int64())
	}
	return rv.Interface(), nil
}

// fits reports whether n is representable by the integer type t
func fits(t abi.Type, n *big.Int) bool {
	if t.T == abi.UintTy {
		return n.Sign() >= 0 && n.BitLen() <= t.Size
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Sign() >= 0 {
		return n.Cmp(limit) < 0
	}
	return new(big.Int).Neg(n).Cmp(limit) <= 0
}

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("%w: nil integer", ErrUnsupportedArgument)
		}
		return n, nil
	case string:
		s := strings.TrimSpace(n)
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s, base = s[2:], 16
		}
		i, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("%w: invalid integer %q", ErrUnsupportedArgument, n)
		}
		return i, nil
	case float64:
		if n != float64(int64(n)) {
			return nil, fmt.Errorf("%w: non-integral %v", ErrUnsupportedArgument, n)
		}
		return big.NewInt(int64(n)), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("%w: %T is not an integer", ErrUnsupportedArgument, v)
}

package script

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"
)

// newRuntime creates a goja VM with the console and utils bindings
func newRuntime(logger zerolog.Logger) *goja.Runtime {
	vm := goja.New()
	setupConsole(vm, logger)
	setupUtils(vm)
	return vm
}

// setupConsole routes console.* to the logger
func setupConsole(vm *goja.Runtime, logger zerolog.Logger) {
	console := vm.NewObject()
	levels := map[string]zerolog.Level{
		"log":   zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}
	for name, level := range levels {
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			logger.WithLevel(level).Msgf("[script] %v", args)
			return goja.Undefined()
		})
	}
	vm.Set("console", console)
}

// setupUtils exposes hashing and unit helpers to combining functions
func setupUtils(vm *goja.Runtime) {
	utils := vm.NewObject()

	utils.Set("keccak256", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.ToValue("keccak256 requires 1 argument"))
		}
		data, err := bytesArg(call.Arguments[0].Export())
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		hash := sha3.NewLegacyKeccak256()
		hash.Write(data)
		return vm.ToValue("0x" + hex.EncodeToString(hash.Sum(nil)))
	})

	utils.Set("bytesToHex", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.ToValue("bytesToHex requires 1 argument"))
		}
		data, err := bytesArg(call.Arguments[0].Export())
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue("0x" + hex.EncodeToString(data))
	})

	// formatUnits scales an integer (number or decimal string) down by 10^decimals
	utils.Set("formatUnits", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.ToValue("formatUnits requires value and decimals"))
		}
		n, ok := new(big.Float).SetString(call.Arguments[0].String())
		if !ok {
			panic(vm.ToValue(fmt.Sprintf("invalid number: %s", call.Arguments[0].String())))
		}
		decimals := call.Arguments[1].ToInteger()
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
		f, _ := new(big.Float).Quo(n, scale).Float64()
		return vm.ToValue(f)
	})

	vm.Set("utils", utils)
}

// bytesArg accepts 0x-hex strings, plain strings and byte arrays
func bytesArg(exported any) ([]byte, error) {
	switch v := exported.(type) {
	case string:
		if strings.HasPrefix(v, "0x") {
			data, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
			if err != nil {
				return nil, fmt.Errorf("invalid hex string: %w", err)
			}
			return data, nil
		}
		return []byte(v), nil
	case []byte:
		return v, nil
	case []any:
		data := make([]byte, len(v))
		for i, b := range v {
			switch num := b.(type) {
			case int64:
				data[i] = byte(num)
			case float64:
				data[i] = byte(num)
			}
		}
		return data, nil
	}
	return nil, fmt.Errorf("expected string or byte array, got %T", exported)
}

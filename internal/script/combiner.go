// Package script compiles JavaScript combining functions for derived values.
package script

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single combiner run when no timeout is given
const DefaultTimeout = time.Second

var (
	ErrNotFunction = errors.New("script does not evaluate to a function")
	ErrTimeout     = errors.New("script execution timed out")
	ErrNoValue     = errors.New("script returned no value")
)

// Combiner runs one JavaScript function over dependency values.
// A combiner owns its VM; runs are serialised.
type Combiner struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	fn      goja.Callable
	timeout time.Duration
	logger  zerolog.Logger
}

// Compile evaluates source, which must be a function expression such as
// "function (a, b) { return a + b }" or "(a, b) => a + b".
func Compile(source string, timeout time.Duration, logger zerolog.Logger) (*Combiner, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger = logger.With().Str("component", "script").Logger()

	vm := newRuntime(logger)
	value, err := vm.RunString("(" + source + "\n)")
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, ErrNotFunction
	}

	return &Combiner{
		vm:      vm,
		fn:      fn,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Call invokes the function with values as positional arguments
func (c *Combiner) Call(values []any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := make([]goja.Value, len(values))
	for i, v := range values {
		args[i] = c.vm.ToValue(toJS(v))
	}

	fired := make(chan struct{})
	timer := time.AfterFunc(c.timeout, func() {
		c.vm.Interrupt(ErrTimeout)
		close(fired)
	})
	result, err := c.fn(goja.Undefined(), args...)
	if !timer.Stop() {
		// an interrupt landing after ClearInterrupt would abort the next run
		<-fired
	}
	c.vm.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("script failed: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, ErrNoValue
	}
	return result.Export(), nil
}

// Func returns Call as a plain function
func (c *Combiner) Func() func([]any) (any, error) {
	return c.Call
}

// toJS converts chain values into types goja represents naturally
func toJS(v any) any {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return 0
		}
		f, _ := new(big.Float).SetInt(t).Float64()
		return f
	case common.Address:
		return t.Hex()
	case []byte:
		return hexutil.Encode(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toJS(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b)
	}
	return v
}

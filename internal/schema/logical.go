package schema

import (
	"fmt"

	"github.com/rs/zerolog"

	"schemawatch/internal/registry"
	"schemawatch/internal/stream"
)

// Compiler turns logical schemas into batch call descriptors and registry entries
type Compiler struct {
	results   stream.Observable[stream.Event]
	addresses AddressResolver
	submitter CallSubmitter
	logger    zerolog.Logger
}

// NewCompiler creates a compiler reading results from results, resolving contract
// addresses through addresses and handing descriptors to submitter.
func NewCompiler(results stream.Observable[stream.Event], addresses AddressResolver, submitter CallSubmitter, logger zerolog.Logger) *Compiler {
	return &Compiler{
		results:   results,
		addresses: addresses,
		submitter: submitter,
		logger:    logger.With().Str("component", "schema-compiler").Logger(),
	}
}

// compiledCall is a fully validated logical schema entry, ready to take effect
type compiledCall struct {
	callKey    string
	descriptor CallDescriptor
	paths      [][]string
}

// CompileLogical compiles schemas in order and returns the updated registry.
//
// Each entry is validated completely before it takes effect, so a failing entry
// submits nothing and registers nothing. Entries before it have already been
// submitted and are part of the returned registry; the error is returned with it.
func (c *Compiler) CompileLogical(reg *registry.Registry, schemas []LogicalSchema) (*registry.Registry, error) {
	if c == nil || c.submitter == nil || c.results == nil {
		return reg, ErrUnconfiguredExecutor
	}
	if reg == nil {
		reg = registry.New()
	}

	for i, s := range schemas {
		compiled, err := c.compile(s)
		if err != nil {
			return reg, fmt.Errorf("logical schema %d (%s %s): %w", i, s.ContractName, s.ContractCall, err)
		}

		for j, path := range compiled.paths {
			if len(path) == 0 {
				c.logger.Warn().Str("callKey", compiled.callKey).Int("return", j).Msg("empty observable key, return not registered")
				continue
			}
			returnKey := compiled.descriptor.Returns[j].Key
			reg = reg.Merge(path, stream.Values(c.results, returnKey))
		}
		c.submitter.SubmitCalls([]CallDescriptor{compiled.descriptor})

		c.logger.Debug().
			Str("callKey", compiled.callKey).
			Str("target", compiled.descriptor.Target.Hex()).
			Int("returns", len(compiled.descriptor.Returns)).
			Msg("logical schema registered")
	}

	return reg, nil
}

// compile validates one entry and builds everything it needs without side effects
func (c *Compiler) compile(s LogicalSchema) (*compiledCall, error) {
	sig, err := ParseSignature(s.ContractCall)
	if err != nil {
		return nil, err
	}

	if len(s.CallArgs) != len(sig.ArgTypes) {
		return nil, fmt.Errorf("%w: %s takes %d args, got %d", ErrArityMismatch, sig.FnName, len(sig.ArgTypes), len(s.CallArgs))
	}
	if len(s.ReturnKeys) != len(sig.ReturnTypes) {
		return nil, fmt.Errorf("%w: %s returns %d values, got %d return keys", ErrArityMismatch, sig.FnName, len(sig.ReturnTypes), len(s.ReturnKeys))
	}
	if len(s.ObservableKeys) > len(s.ReturnKeys) {
		return nil, fmt.Errorf("%w: %d observable keys for %d return keys", ErrArityMismatch, len(s.ObservableKeys), len(s.ReturnKeys))
	}

	if c.addresses == nil {
		return nil, fmt.Errorf("%w: %s: no contract registry", ErrUnknownContract, s.ContractName)
	}
	target, err := c.addresses.Resolve(s.ContractName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownContract, err)
	}

	callKey := CallKey(s.ContractName, sig.FnName, argIdentifiers(s))

	call := make([]any, 0, len(s.CallArgs)+1)
	call = append(call, s.ContractCall)
	for i, arg := range s.CallArgs {
		value := arg.Value
		if arg.Transform != nil {
			value, err = arg.Transform(arg.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: arg %d of %s: %v", ErrArgumentTransform, i, callKey, err)
			}
		}
		call = append(call, value)
	}

	returns := make([]ReturnSpec, len(s.ReturnKeys))
	for i, rk := range s.ReturnKeys {
		returns[i] = ReturnSpec{
			Key:       ReturnKeyOf(callKey, rk.Key),
			Transform: rk.Transform,
		}
	}

	return &compiledCall{
		callKey: callKey,
		descriptor: CallDescriptor{
			Target:  target,
			Call:    call,
			Returns: returns,
		},
		paths: s.ObservableKeys,
	}, nil
}

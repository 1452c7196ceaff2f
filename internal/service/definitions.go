package service

import (
	"fmt"

	"schemawatch/internal/config"
	"schemawatch/internal/registry"
	"schemawatch/internal/schema"
	"schemawatch/internal/script"
	"schemawatch/internal/transform"
)

// LoadDefinitions builds schemas from definition files and registers them:
// logical entries first, then derived entries, then any pending retries.
// Transforms and scripts are all resolved before anything is registered.
func (s *Service) LoadDefinitions(defs *config.Definitions) error {
	if defs == nil {
		return nil
	}

	logical := make([]schema.LogicalSchema, 0, len(defs.Logical))
	for i, d := range defs.Logical {
		ls, err := buildLogical(d)
		if err != nil {
			return fmt.Errorf("logical definition %d (%s %s): %w", i, d.Contract, d.Call, err)
		}
		logical = append(logical, ls)
	}

	derived := make([]schema.DerivedSchema, 0, len(defs.Derived))
	for i, d := range defs.Derived {
		combiner, err := script.Compile(d.Fn, s.opts.ScriptTimeout, s.opts.Logger)
		if err != nil {
			return fmt.Errorf("derived definition %d (%s): %w", i, d.Observe, err)
		}
		deps := make([][]string, len(d.Dependencies))
		for j, dep := range d.Dependencies {
			deps[j] = registry.SplitPath(dep)
		}
		derived = append(derived, schema.DerivedSchema{
			ObservableKeys: registry.SplitPath(d.Observe),
			Dependencies:   deps,
			Fn:             schema.Combine(combiner.Func(), s.logger.With().Str("path", d.Observe).Logger()),
		})
	}

	if len(logical) > 0 {
		if _, err := s.RegisterLogicalSchema(logical); err != nil {
			return err
		}
	}
	if len(derived) > 0 {
		s.RegisterDerivedSchema(derived)
	}
	s.RetryPending()

	s.logger.Info().
		Int("logical", len(logical)).
		Int("derived", len(derived)).
		Int("pending", len(s.Pending())).
		Int("streams", s.Snapshot().Len()).
		Msg("definitions loaded")
	return nil
}

func buildLogical(d config.LogicalDefinition) (schema.LogicalSchema, error) {
	ls := schema.LogicalSchema{
		ContractName:      d.Contract,
		ContractCall:      d.Call,
		CallArgsOverrides: d.ArgOverrides,
		CallArgs:          make([]schema.CallArg, len(d.Args)),
		ReturnKeys:        make([]schema.ReturnKey, len(d.Returns)),
		ObservableKeys:    make([][]string, len(d.Observe)),
	}
	for i, a := range d.Args {
		fn, err := transform.Lookup(a.Transform)
		if err != nil {
			return ls, fmt.Errorf("arg %d: %w", i, err)
		}
		ls.CallArgs[i] = schema.CallArg{Value: a.Value, Transform: schema.Transform(fn)}
	}
	for i, r := range d.Returns {
		fn, err := transform.Lookup(r.Transform)
		if err != nil {
			return ls, fmt.Errorf("return %s: %w", r.Key, err)
		}
		ls.ReturnKeys[i] = schema.ReturnKey{Key: r.Key, Transform: schema.Transform(fn)}
	}
	for i, o := range d.Observe {
		ls.ObservableKeys[i] = registry.SplitPath(o)
	}
	return ls, nil
}

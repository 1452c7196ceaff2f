package schema

import (
	"github.com/rs/zerolog"

	"schemawatch/internal/registry"
	"schemawatch/internal/stream"
)

// CompileDerived registers every derived schema whose dependencies all resolve in reg.
//
// An entry with any unresolved dependency is skipped entirely and returned in
// pending; nothing is retried, the caller recompiles once the topology changes.
// Entries compile in order, so an entry may depend on one registered earlier in
// the same call.
func CompileDerived(reg *registry.Registry, schemas []DerivedSchema, logger zerolog.Logger) (*registry.Registry, []DerivedSchema) {
	if reg == nil {
		reg = registry.New()
	}

	var pending []DerivedSchema
	for _, s := range schemas {
		if s.Fn == nil || len(s.ObservableKeys) == 0 {
			logger.Warn().Str("path", registry.JoinPath(s.ObservableKeys)).Msg("derived schema without function or path ignored")
			continue
		}

		deps, missing := resolve(reg, s.Dependencies)
		if missing != nil {
			logger.Debug().
				Str("path", registry.JoinPath(s.ObservableKeys)).
				Str("missing", registry.JoinPath(missing)).
				Msg("derived schema dependency not registered yet")
			pending = append(pending, s)
			continue
		}

		reg = reg.Merge(s.ObservableKeys, s.Fn(deps))
		logger.Debug().
			Str("path", registry.JoinPath(s.ObservableKeys)).
			Int("dependencies", len(deps)).
			Msg("derived schema registered")
	}
	return reg, pending
}

// resolve looks up every dependency; missing is the first path that is absent
func resolve(reg *registry.Registry, paths [][]string) (deps []stream.Observable[any], missing []string) {
	deps = make([]stream.Observable[any], 0, len(paths))
	for _, path := range paths {
		s, ok := reg.Lookup(path)
		if !ok {
			if path == nil {
				path = []string{}
			}
			return nil, path
		}
		deps = append(deps, s)
	}
	return deps, nil
}

// Combine adapts a function over the latest dependency values into a CombineFunc.
// The result emits once every dependency has a value and again whenever one changes;
// an emission is skipped when fn returns an error.
func Combine(fn func(values []any) (any, error), logger zerolog.Logger) CombineFunc {
	return func(deps []stream.Observable[any]) stream.Observable[any] {
		combined := stream.CombineLatest(deps)
		return stream.Func[any](func(emit func(any)) stream.Subscription {
			return combined.Subscribe(func(values []any) {
				v, err := fn(values)
				if err != nil {
					logger.Warn().Err(err).Msg("derived value computation failed")
					return
				}
				emit(v)
			})
		})
	}
}

// Package service wires the result stream, the schema compilers and the
// observable registry into a single facade owned by the application.
package service

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"schemawatch/internal/metrics"
	"schemawatch/internal/registry"
	"schemawatch/internal/schema"
	"schemawatch/internal/stream"
)

// ErrDisconnected is returned when registering schemas after Disconnect
var ErrDisconnected = errors.New("service disconnected")

// Executor is the batch executor: it accepts call descriptors and emits result events
type Executor interface {
	stream.Observable[stream.Event]
	schema.CallSubmitter
}

// Options configures a Service
type Options struct {
	// ReplayLimit bounds the result stream replay log; 0 keeps every event
	ReplayLimit   int
	ScriptTimeout time.Duration
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

// Service owns the result stream and the registry snapshot.
// Registrations are serialised; lookups read the published snapshot without locking.
type Service struct {
	addresses schema.AddressResolver
	opts      Options
	results   *stream.ResultStream
	logger    zerolog.Logger

	mu           sync.Mutex // serialises registrations and lifecycle changes
	compiler     *schema.Compiler
	pending      []schema.DerivedSchema
	disconnected bool

	registry atomic.Pointer[registry.Registry]
}

// New creates a service resolving contract names through addresses
func New(addresses schema.AddressResolver, opts Options) *Service {
	s := &Service{
		addresses: addresses,
		opts:      opts,
		results:   stream.NewResultStream(opts.ReplayLimit, opts.Logger),
		logger:    opts.Logger.With().Str("component", "service").Logger(),
	}
	s.registry.Store(registry.New())
	return s
}

// Connect attaches the batch executor. Logical schemas can be registered afterwards.
func (s *Service) Connect(executor Executor) error {
	if executor == nil {
		return schema.ErrUnconfiguredExecutor
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnected {
		return ErrDisconnected
	}
	if err := s.results.Connect(executor); err != nil {
		return fmt.Errorf("failed to connect executor: %w", err)
	}
	s.compiler = schema.NewCompiler(s.results, s.addresses, executor, s.opts.Logger)
	s.logger.Info().Msg("executor connected")
	return nil
}

// Disconnect tears down the result stream. It is idempotent and safe before Connect.
func (s *Service) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnected {
		return
	}
	s.disconnected = true
	s.compiler = nil
	s.results.Close()
	s.logger.Info().Msg("service disconnected")
}

// Results returns the replaying result stream
func (s *Service) Results() stream.Observable[stream.Event] {
	return s.results
}

// RegisterLogicalSchema compiles schemas in order and publishes the new registry.
// On error, entries before the failing one remain registered and the registry
// holding them is returned alongside the error.
func (s *Service) RegisterLogicalSchema(schemas []schema.LogicalSchema) (*registry.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnected {
		return s.registry.Load(), ErrDisconnected
	}

	reg, err := s.compiler.CompileLogical(s.registry.Load(), schemas)
	s.publish(reg)
	if err != nil {
		s.logger.Error().Err(err).Msg("logical schema registration failed")
	}
	return reg, err
}

// RegisterDerivedSchema registers every derived schema whose dependencies resolve.
// The rest are kept as pending until RetryPending or a later registration satisfies them.
func (s *Service) RegisterDerivedSchema(schemas []schema.DerivedSchema) *registry.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a new entry supersedes a pending one at the same path
	replaced := make(map[string]bool, len(schemas))
	for _, d := range schemas {
		replaced[registry.JoinPath(d.ObservableKeys)] = true
	}
	kept := s.pending[:0:0]
	for _, d := range s.pending {
		if !replaced[registry.JoinPath(d.ObservableKeys)] {
			kept = append(kept, d)
		}
	}

	reg, pending := schema.CompileDerived(s.registry.Load(), schemas, s.opts.Logger)
	s.pending = append(kept, pending...)
	s.publish(reg)
	return reg
}

// RetryPending recompiles the pending derived schemas against the current registry.
// Passes repeat until one resolves nothing, so chains declared in any order settle.
func (s *Service) RetryPending() *registry.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return s.registry.Load()
	}
	before := len(s.pending)
	reg := s.registry.Load()
	pending := s.pending
	for {
		var next []schema.DerivedSchema
		reg, next = schema.CompileDerived(reg, pending, s.opts.Logger)
		progressed := len(next) < len(pending)
		pending = next
		if !progressed || len(pending) == 0 {
			break
		}
	}
	s.pending = pending
	s.publish(reg)

	s.logger.Debug().
		Int("resolved", before-len(pending)).
		Int("pending", len(pending)).
		Msg("pending derived schemas retried")
	return reg
}

// Pending returns the dotted paths of derived schemas waiting for dependencies
func (s *Service) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, len(s.pending))
	for i, d := range s.pending {
		paths[i] = registry.JoinPath(d.ObservableKeys)
	}
	return paths
}

// Snapshot returns the current registry
func (s *Service) Snapshot() *registry.Registry {
	return s.registry.Load()
}

// Lookup returns the stream registered at a dotted path
func (s *Service) Lookup(dotted string) (registry.Stream, bool) {
	return s.registry.Load().LookupPath(dotted)
}

// Latest returns the current value at a dotted path.
// The bool is false when no stream is registered or no value has arrived yet.
func (s *Service) Latest(dotted string) (any, bool) {
	st, ok := s.Lookup(dotted)
	if !ok {
		return nil, false
	}
	return stream.Latest(st)
}

// publish must be called with mu held
func (s *Service) publish(reg *registry.Registry) {
	if reg == nil {
		return
	}
	s.registry.Store(reg)
	s.opts.Metrics.SetRegisteredStreams(reg.Len())
	s.opts.Metrics.SetPendingDerived(len(s.pending))
}

// Package multicall batches contract reads through Multicall3 and emits result events.
package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"schemawatch/internal/blockparam"
	"schemawatch/internal/metrics"
	"schemawatch/internal/schema"
	"schemawatch/internal/stream"
)

const (
	DefaultMaxCalls     = 500
	DefaultPollInterval = 12 * time.Second
)

// ContractCaller executes eth_call against a node
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config configures a Watcher
type Config struct {
	// Address of the Multicall3 contract
	Address common.Address
	// MaxCalls is the largest number of calls packed into one aggregate3
	MaxCalls int
	// AllowFailure lets individual calls revert without failing their chunk
	AllowFailure bool
	// BlockNumber pins polls to a block or tag in blockparam form; nil polls latest
	BlockNumber     *big.Int
	PollInterval    time.Duration
	ChangeCacheSize int
}

// Watcher is the batch executor: it accumulates call descriptors, polls them
// in Multicall3 chunks and emits a result event for every changed return value.
type Watcher struct {
	cfg     Config
	caller  ContractCaller
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu    sync.RWMutex
	calls []*preparedCall

	pollMu  sync.Mutex
	changes *changeSet

	obsMu     sync.RWMutex
	observers map[uint64]func(stream.Event)
	nextID    uint64

	trigger chan uint64

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWatcher creates a watcher polling through caller; m may be nil
func NewWatcher(cfg Config, caller ContractCaller, m *metrics.Metrics, logger zerolog.Logger) (*Watcher, error) {
	if caller == nil {
		return nil, errors.New("contract caller is required")
	}
	if cfg.Address == (common.Address{}) {
		cfg.Address = common.HexToAddress(DefaultAddress)
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = DefaultMaxCalls
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	changes, err := newChangeSet(cfg.ChangeCacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:       cfg,
		caller:    caller,
		metrics:   m,
		logger:    logger.With().Str("component", "multicall").Logger(),
		changes:   changes,
		observers: make(map[uint64]func(stream.Event)),
		trigger:   make(chan uint64, 1),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SubmitCalls appends descriptors to the polled call list. It never replaces
// earlier submissions. Descriptors that cannot be encoded are logged and skipped.
func (w *Watcher) SubmitCalls(descs []schema.CallDescriptor) {
	prepared := make([]*preparedCall, 0, len(descs))
	for _, desc := range descs {
		call, err := prepare(desc)
		if err != nil {
			w.logger.Error().
				Err(err).
				Str("target", desc.Target.Hex()).
				Str("call", desc.Signature()).
				Msg("call descriptor rejected")
			w.metrics.CallFailed()
			continue
		}
		prepared = append(prepared, call)
	}

	w.mu.Lock()
	w.calls = append(w.calls, prepared...)
	total := len(w.calls)
	w.mu.Unlock()

	w.metrics.SetCalls(total)
	w.logger.Debug().Int("submitted", len(prepared)).Int("total", total).Msg("calls submitted")
}

// Len returns the number of calls polled
func (w *Watcher) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.calls)
}

// Subscribe registers fn for every emitted result event
func (w *Watcher) Subscribe(fn func(stream.Event)) stream.Subscription {
	w.obsMu.Lock()
	id := w.nextID
	w.nextID++
	w.observers[id] = fn
	w.obsMu.Unlock()

	return stream.NewSubscription(func() {
		w.obsMu.Lock()
		delete(w.observers, id)
		w.obsMu.Unlock()
	})
}

func (w *Watcher) emit(e stream.Event) {
	w.obsMu.RLock()
	observers := make([]func(stream.Event), 0, len(w.observers))
	for _, fn := range w.observers {
		observers = append(observers, fn)
	}
	w.obsMu.RUnlock()

	for _, fn := range observers {
		fn(e)
	}
	w.metrics.EventEmitted()
}

// Poll executes every submitted call once and emits the changed results.
// Calls that revert or fail to decode are skipped; a chunk whose aggregate
// call fails makes Poll return an error after the remaining chunks ran.
func (w *Watcher) Poll(ctx context.Context) error {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	w.mu.RLock()
	calls := w.calls[:len(w.calls):len(w.calls)]
	w.mu.RUnlock()
	if len(calls) == 0 {
		return nil
	}

	start := time.Now()
	var errs []error
	emitted := 0
	for offset := 0; offset < len(calls); offset += w.cfg.MaxCalls {
		end := min(offset+w.cfg.MaxCalls, len(calls))
		n, err := w.pollChunk(ctx, calls[offset:end])
		emitted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("chunk %d-%d: %w", offset, end, err))
		}
	}
	err := errors.Join(errs...)

	w.metrics.ObservePoll(time.Since(start), err)
	if err != nil {
		w.logger.Error().Err(err).Int("calls", len(calls)).Msg("poll failed")
		return err
	}
	w.logger.Debug().
		Int("calls", len(calls)).
		Int("emitted", emitted).
		Dur("duration", time.Since(start)).
		Msg("poll completed")
	return nil
}

func (w *Watcher) pollChunk(ctx context.Context, calls []*preparedCall) (int, error) {
	batch := make([]call3, len(calls))
	for i, c := range calls {
		batch[i] = call3{
			Target:       c.desc.Target,
			AllowFailure: w.cfg.AllowFailure,
			CallData:     c.calldata,
		}
	}

	data, err := encodeAggregate3(batch)
	if err != nil {
		return 0, err
	}
	to := w.cfg.Address
	raw, err := w.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, w.cfg.BlockNumber)
	if err != nil {
		return 0, err
	}
	results, err := decodeAggregate3(raw)
	if err != nil {
		return 0, err
	}
	if len(results) != len(calls) {
		return 0, fmt.Errorf("result size mismatch: expected %d, got %d", len(calls), len(results))
	}

	emitted := 0
	for i, res := range results {
		call := calls[i]
		if !res.Success {
			w.logger.Warn().Str("call", call.name()).Str("target", call.desc.Target.Hex()).Msg("call reverted")
			w.metrics.CallFailed()
			continue
		}
		values, err := call.decode(res.ReturnData)
		if err != nil {
			w.logger.Warn().Err(err).Str("call", call.name()).Msg("failed to decode call result")
			w.metrics.CallFailed()
			continue
		}
		for j, ret := range call.desc.Returns {
			if !w.changes.changed(ret.Key, values[j]) {
				continue
			}
			w.emit(stream.Event{Type: ret.Key, Value: values[j]})
			emitted++
		}
	}
	return emitted, nil
}

// Trigger requests a poll, typically on a new block. Requests made while a
// poll is pending are coalesced.
func (w *Watcher) Trigger(block uint64) {
	select {
	case w.trigger <- block:
	default:
	}
}

// Start polls immediately, then on every PollInterval tick and every Trigger until Stop
func (w *Watcher) Start(ctx context.Context) {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info().
		Str("multicall", w.cfg.Address.Hex()).
		Dur("interval", w.cfg.PollInterval).
		Int("maxCalls", w.cfg.MaxCalls).
		Str("block", blockparam.Format(w.cfg.BlockNumber)).
		Msg("watcher started")
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		case block := <-w.trigger:
			w.logger.Debug().Uint64("block", block).Msg("poll triggered")
			w.pollOnce(ctx)
			ticker.Reset(w.cfg.PollInterval)
		}
	}
}

func (w *Watcher) pollOnce(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	// errors are logged and counted by Poll
	_ = w.Poll(ctx)
}

// Stop ends polling and waits for an in-flight poll; it is idempotent
func (w *Watcher) Stop() {
	w.lifecycleMu.Lock()
	if w.stopped {
		w.lifecycleMu.Unlock()
		return
	}
	w.stopped = true
	w.lifecycleMu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.logger.Info().Msg("watcher stopped")
}

package stream

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrStreamClosed is returned when connecting a stream that was already torn down
	ErrStreamClosed = errors.New("result stream closed")
	// ErrAlreadyConnected is returned when a stream already has an upstream source
	ErrAlreadyConnected = errors.New("result stream already connected")
)

// observerEntry is a registered observer, kept in subscription order
type observerEntry struct {
	id uint64
	fn func(Event)
}

// ResultStream is a replaying broadcast of result events.
// Every event retained in the log is replayed to observers that subscribe late,
// then live events follow in emission order.
type ResultStream struct {
	mu         sync.Mutex // guards log, observers, source, closed
	dispatchMu sync.Mutex // serialises delivery so replay and live events never interleave

	log         []Event
	replayLimit int
	observers   []observerEntry
	nextID      uint64
	source      Subscription
	closed      bool

	logger zerolog.Logger
}

// NewResultStream creates a result stream.
// replayLimit of 0 keeps every event for replay.
func NewResultStream(replayLimit int, logger zerolog.Logger) *ResultStream {
	if replayLimit < 0 {
		replayLimit = 0
	}
	return &ResultStream{
		replayLimit: replayLimit,
		logger:      logger.With().Str("component", "result-stream").Logger(),
	}
}

// Connect attaches the stream to an upstream event source (the batch executor).
// Events from src are re-broadcast to all observers.
func (s *ResultStream) Connect(src Observable[Event]) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if s.source != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	// Reserve the slot before subscribing: src may replay synchronously into Emit.
	s.source = NewSubscription(nil)
	s.mu.Unlock()

	sub := src.Subscribe(s.Emit)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return ErrStreamClosed
	}
	s.source = sub
	s.mu.Unlock()

	s.logger.Info().Msg("result stream connected")
	return nil
}

// Emit appends an event to the replay log and delivers it to every observer.
// Events emitted after Close are dropped.
func (s *ResultStream) Emit(event Event) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.log = append(s.log, event)
	s.compact()
	observers := make([]observerEntry, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.fn(event)
	}
}

// Subscribe replays the retained log to fn and then delivers live events.
// fn must not subscribe to or emit on this stream.
func (s *ResultStream) Subscribe(fn func(Event)) Subscription {
	return s.subscribe(fn, false)
}

// SubscribeLatest is Subscribe with a replay reduced to the latest retained event
// of each type, in log order.
func (s *ResultStream) SubscribeLatest(fn func(Event)) Subscription {
	return s.subscribe(fn, true)
}

func (s *ResultStream) subscribe(fn func(Event), latestOnly bool) Subscription {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	var replay []Event
	if latestOnly {
		replay = latestPerType(s.log)
	} else {
		replay = make([]Event, len(s.log))
		copy(replay, s.log)
	}
	s.mu.Unlock()

	for _, e := range replay {
		fn(e)
	}

	return NewSubscription(func() {
		s.removeObserver(id)
	})
}

func (s *ResultStream) removeObserver(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.observers {
		if o.id == id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Close tears down the upstream subscription. Safe to call repeatedly and before Connect.
func (s *ResultStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	source := s.source
	s.source = nil
	s.mu.Unlock()

	if source != nil {
		source.Unsubscribe()
	}
	s.logger.Info().Msg("result stream closed")
}

// Closed reports whether Close has been called
func (s *ResultStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Len returns the number of events retained for replay
func (s *ResultStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// compact bounds the replay log. The log is first reduced to the latest event per
// type (relative order kept); if that is still over the limit the oldest events go.
// Caller must hold s.mu.
func (s *ResultStream) compact() {
	if s.replayLimit == 0 || len(s.log) <= s.replayLimit {
		return
	}

	kept := latestPerType(s.log)
	if len(kept) > s.replayLimit {
		dropped := len(kept) - s.replayLimit
		s.logger.Warn().Int("dropped", dropped).Int("limit", s.replayLimit).Msg("replay log over limit, dropping oldest events")
		kept = kept[dropped:]
	}
	s.log = kept
}

// latestPerType returns a new slice holding the last event of each type in log,
// keeping their relative order
func latestPerType(log []Event) []Event {
	latest := make(map[string]int, len(log))
	for i, e := range log {
		latest[e.Type] = i
	}
	kept := make([]Event, 0, len(latest))
	for i, e := range log {
		if latest[e.Type] == i {
			kept = append(kept, e)
		}
	}
	return kept
}

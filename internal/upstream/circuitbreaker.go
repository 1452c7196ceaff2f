package upstream

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects requests
var ErrCircuitOpen = errors.New("circuit breaker open")

type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

func (s cbState) String() string {
	switch s {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// circuitBreaker stops calling the node after consecutive transport failures
// and lets a few trial requests through once RecoveryTimeout has passed.
type circuitBreaker struct {
	cfg             CircuitBreakerConfig
	mu              sync.Mutex
	state           cbState
	failures        int
	halfOpenSuccess int
	lastFailureAt   time.Time
	now             func() time.Time
}

func newCircuitBreaker(cfg CircuitBreakerConfig) *circuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 2
	}
	return &circuitBreaker{cfg: cfg, now: time.Now}
}

func (cb *circuitBreaker) allow() bool {
	if !cb.cfg.Enabled {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case cbHalfOpen:
		return cb.halfOpenSuccess < cb.cfg.HalfOpenMaxRequests
	case cbOpen:
		if cb.now().Sub(cb.lastFailureAt) < cb.cfg.RecoveryTimeout {
			return false
		}
		cb.state = cbHalfOpen
		cb.halfOpenSuccess = 0
	}
	return true
}

func (cb *circuitBreaker) success() {
	if !cb.cfg.Enabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case cbHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.cfg.HalfOpenMaxRequests {
			cb.state = cbClosed
			cb.failures = 0
		}
	case cbClosed:
		cb.failures = 0
	}
}

// failure records a failed request and reports whether the breaker just opened
func (cb *circuitBreaker) failure() bool {
	if !cb.cfg.Enabled {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureAt = cb.now()
	switch cb.state {
	case cbClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = cbOpen
			return true
		}
	case cbHalfOpen:
		cb.state = cbOpen
		cb.halfOpenSuccess = 0
		return true
	}
	return false
}

func (cb *circuitBreaker) currentState() cbState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

package upstream

import (
	"sync/atomic"
	"time"
)

// Status tracks the observed health and head of the node
type Status struct {
	healthy       atomic.Bool
	currentBlock  atomic.Uint64
	lastBlockTime atomic.Int64
}

// NewStatus creates a new Status
func NewStatus() *Status {
	s := &Status{}
	s.healthy.Store(true)
	return s
}

// IsHealthy returns the health status
func (s *Status) IsHealthy() bool {
	return s.healthy.Load()
}

// SetHealthy sets the health status
func (s *Status) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// CurrentBlock returns the highest block seen
func (s *Status) CurrentBlock() uint64 {
	return s.currentBlock.Load()
}

// LastBlockTime returns when the current block was first seen
func (s *Status) LastBlockTime() time.Time {
	nanos := s.lastBlockTime.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// UpdateBlock updates the block if the new value is higher
// Returns true if the block was updated
func (s *Status) UpdateBlock(block uint64) bool {
	for {
		current := s.currentBlock.Load()
		if block <= current {
			return false
		}
		if s.currentBlock.CompareAndSwap(current, block) {
			s.lastBlockTime.Store(time.Now().UnixNano())
			return true
		}
	}
}

package tracer

import (
	"sync/atomic"

	"github.com/ethpandaops/finecov/internal/host"
)

// EventStats provides lock-free per-Kind counters.
// Snapshot atomically reads and resets all counters, making it
// suitable for periodic reporting without contention.
type EventStats struct {
	counts [MaxKind + 1]atomic.Uint64
}

// NewEventStats creates a new EventStats instance.
func NewEventStats() *EventStats {
	return &EventStats{}
}

// Record increments the counter for the given kind by one.
func (s *EventStats) Record(k Kind) {
	if k > MaxKind {
		return
	}

	s.counts[k].Add(1)
}

// Snapshot atomically reads and resets all counters, returning
// a map of only non-zero entries.
func (s *EventStats) Snapshot() map[Kind]uint64 {
	result := make(map[Kind]uint64, MaxKind)

	for i := range s.counts {
		v := s.counts[i].Swap(0)
		if v > 0 {
			result[Kind(i)] = v
		}
	}

	return result
}

// Counted wraps obs so every event delivered to it is recorded in s.
// Activation hooks are forwarded to obs.
func Counted[E Event](obs Observer[E], s *EventStats) Observer[E] {
	return &counted[E]{obs: obs, stats: s}
}

type counted[E Event] struct {
	obs   Observer[E]
	stats *EventStats
}

func (c *counted[E]) Trace(frame *host.Frame, event E) error {
	c.stats.Record(event.Kind())

	return c.obs.Trace(frame, event)
}

func (c *counted[E]) Activate() {
	if a, ok := c.obs.(Activator); ok {
		a.Activate()
	}
}

func (c *counted[E]) Deactivate() {
	if a, ok := c.obs.(Activator); ok {
		a.Deactivate()
	}
}

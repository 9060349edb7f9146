// Package tracer bridges the host engine's raw callback slots to typed
// observers. It classifies raw notifications into events, owns the single
// dispatch function installed into each slot, and manages the lifetime of
// the observer handed to the host.
package tracer

import "github.com/ethpandaops/finecov/internal/host"

// Observer receives classified events for one callback family. Trace runs
// synchronously on every qualifying notification and must not block.
type Observer[E Event] interface {
	Trace(frame *host.Frame, event E) error
}

// Activator is implemented by observers that track whether they are
// registered. Activate runs after the slot is installed and Deactivate
// after it is cleared.
type Activator interface {
	Activate()
	Deactivate()
}

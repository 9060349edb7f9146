package tracer

import (
	"fmt"

	"github.com/ethpandaops/finecov/internal/host"
)

// cell is the value stored behind the observer handle given to the host.
type cell[E Event] struct {
	obs      Observer[E]
	classify Classifier[E]
	// depth counts Trace invocations currently on the stack.
	depth int
}

// dispatch is the function installed into a host slot. It is the only place
// where structured errors are flattened into the host's sentinel protocol.
func dispatch[E Event](
	ts *host.ThreadState,
	obj, frame host.Handle,
	what int32,
	arg host.Handle,
) int32 {
	v, ok := ts.Lookup(obj)
	if !ok {
		ts.SetError(fmt.Errorf("%w: observer %s", ErrInvalidHandle, obj))

		return host.Failure
	}

	c, ok := v.(*cell[E])
	if !ok {
		ts.SetError(fmt.Errorf("%w: observer %s holds %T", ErrInvalidHandle, obj, v))

		return host.Failure
	}

	fv, ok := ts.Lookup(frame)
	if !ok {
		ts.SetError(fmt.Errorf("%w: frame %s", ErrInvalidHandle, frame))

		return host.Failure
	}

	f, ok := fv.(*host.Frame)
	if !ok {
		ts.SetError(fmt.Errorf("%w: frame %s holds %T", ErrInvalidHandle, frame, fv))

		return host.Failure
	}

	event, err := c.classify(ts, what, arg)
	if err != nil {
		ts.SetError(err)

		return host.Failure
	}

	if err := c.trace(f, event); err != nil {
		ts.SetError(&ObserverError{Kind: event.Kind(), Err: err})

		return host.Failure
	}

	return host.Continue
}

// trace calls the observer, keeping depth balanced and turning a panic into
// an error so it never unwinds through the host.
func (c *cell[E]) trace(f *host.Frame, event E) (err error) {
	c.depth++

	defer func() {
		c.depth--

		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return c.obs.Trace(f, event)
}

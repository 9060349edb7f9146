package tracer

import (
	"fmt"

	"github.com/ethpandaops/finecov/internal/host"
)

// Registration is the receipt for an observer installed into a host slot.
// While it is live the host owns the observer: callers must not touch it
// directly until Deregister hands it back.
type Registration[E Event] struct {
	ts     *host.ThreadState
	family host.Family
	cell   *cell[E]
	done   bool
}

// RegisterTrace installs obs into the trace slot.
func RegisterTrace(
	ts *host.ThreadState,
	obs Observer[TraceEvent],
) (*Registration[TraceEvent], error) {
	return register(ts, host.FamilyTrace, obs, ClassifyTrace)
}

// RegisterProfile installs obs into the profile slot.
func RegisterProfile(
	ts *host.ThreadState,
	obs Observer[ProfileEvent],
) (*Registration[ProfileEvent], error) {
	return register(ts, host.FamilyProfile, obs, ClassifyProfile)
}

func register[E Event](
	ts *host.ThreadState,
	family host.Family,
	obs Observer[E],
	classify Classifier[E],
) (*Registration[E], error) {
	c := &cell[E]{obs: obs, classify: classify}
	h := ts.NewHandle(c)

	if err := ts.Install(family, dispatch[E], h); err != nil {
		ts.ReleaseHandle(h)

		return nil, &RegistrationError{Family: family, Op: "register", Err: err}
	}

	if a, ok := obs.(Activator); ok {
		a.Activate()
	}

	return &Registration[E]{
		ts:     ts,
		family: family,
		cell:   c,
	}, nil
}

// Family returns the slot the observer was installed into.
func (r *Registration[E]) Family() host.Family {
	return r.family
}

// Deregister clears the slot and returns the observer to the caller. It is
// idempotent: once the observer has been returned, further calls are no-ops.
// It fails with ErrObserverBusy when called from inside the observer's own
// callback.
func (r *Registration[E]) Deregister() (Observer[E], error) {
	if r.done {
		return r.cell.obs, nil
	}

	if r.cell.depth > 0 {
		return nil, &RegistrationError{
			Family: r.family,
			Op:     "deregister",
			Err:    fmt.Errorf("%w (depth %d)", ErrObserverBusy, r.cell.depth),
		}
	}

	if err := Deregister(r.ts, r.family); err != nil {
		return nil, err
	}

	r.done = true

	if a, ok := r.cell.obs.(Activator); ok {
		a.Deactivate()
	}

	return r.cell.obs, nil
}

// Deregister clears a family's slot. Clearing an empty slot is a no-op.
func Deregister(ts *host.ThreadState, family host.Family) error {
	if err := ts.Install(family, nil, host.Null); err != nil {
		return &RegistrationError{Family: family, Op: "deregister", Err: err}
	}

	return nil
}

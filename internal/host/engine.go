// Package host models the execution engine whose notification API finecov
// consumes: a handle table, one global callback slot per family, a single
// exclusive execution token and an out-of-band error channel.
package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTokenHeld is returned when the execution token is acquired while
	// another thread state still holds it.
	ErrTokenHeld = errors.New("execution token already held")
	// ErrTokenNotHeld is returned when a thread state that no longer holds
	// the execution token tries to act on the engine.
	ErrTokenNotHeld = errors.New("execution token not held")
	// ErrNoErrorSet is raised when a callback returns Failure without
	// placing an error on the error channel.
	ErrNoErrorSet = errors.New("callback returned failure without setting an error")
	// ErrErrorOnContinue is raised when a callback returns Continue but
	// leaves an error pending on the error channel.
	ErrErrorOnContinue = errors.New("callback returned continue with an error set")
)

// RaisedError is returned by Notify when a callback failed. It is the
// engine's equivalent of an exception raised through the traced program at
// the point of the notification.
type RaisedError struct {
	Family Family
	What   int32
	Err    error
}

func (e *RaisedError) Error() string {
	return fmt.Sprintf("%s callback failed on notification %d: %v", e.Family, e.What, e.Err)
}

func (e *RaisedError) Unwrap() error {
	return e.Err
}

type slot struct {
	fn  TraceFunc
	obj Handle
}

// Engine is the host execution engine.
type Engine struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	current *ThreadState
	handles *handleTable
	slots   [familyCount]slot
}

// New creates an engine with empty slots.
func New(log logrus.FieldLogger) *Engine {
	return &Engine{
		log:     log.WithField("component", "host"),
		handles: newHandleTable(),
	}
}

// Acquire takes the execution token. Only one thread state may exist at a
// time; a second Acquire fails instead of blocking.
func (e *Engine) Acquire() (*ThreadState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		return nil, ErrTokenHeld
	}

	e.current = &ThreadState{engine: e}

	return e.current, nil
}

// Installed reports whether a callback occupies the family's slot.
func (e *Engine) Installed(family Family) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(family) >= familyCount {
		return false
	}

	return e.slots[family].fn != nil
}

// LiveHandles returns the number of handles currently allocated.
func (e *Engine) LiveHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.handles.len()
}

// ThreadState is the exclusive right to run code on the engine. All engine
// mutation goes through it.
type ThreadState struct {
	engine   *Engine
	released bool
	err      error
}

// Engine returns the engine this thread state belongs to.
func (ts *ThreadState) Engine() *Engine {
	return ts.engine
}

// Release gives the execution token back. Releasing twice is a no-op.
func (ts *ThreadState) Release() {
	e := ts.engine

	e.mu.Lock()
	defer e.mu.Unlock()

	if ts.released {
		return
	}

	ts.released = true

	if e.current == ts {
		e.current = nil
	}
}

func (ts *ThreadState) check() error {
	if ts.released || ts.engine.current != ts {
		return ErrTokenNotHeld
	}

	return nil
}

// NewHandle stores v in the handle table and returns its handle.
func (ts *ThreadState) NewHandle(v any) Handle {
	ts.engine.mu.Lock()
	defer ts.engine.mu.Unlock()

	return ts.engine.handles.add(v)
}

// Lookup resolves a handle. Null and released handles resolve to false.
func (ts *ThreadState) Lookup(h Handle) (any, bool) {
	ts.engine.mu.Lock()
	defer ts.engine.mu.Unlock()

	return ts.engine.handles.lookup(h)
}

// ReleaseHandle drops a handle. Unknown handles are logged and ignored.
func (ts *ThreadState) ReleaseHandle(h Handle) {
	if h == Null {
		return
	}

	ts.engine.mu.Lock()
	ok := ts.engine.handles.release(h)
	ts.engine.mu.Unlock()

	if !ok {
		ts.engine.log.WithField("handle", h.String()).
			Warn("Release of unknown handle")
	}
}

// Install installs fn and obj into the family's slot, replacing and
// releasing whatever was there. A nil fn clears the slot. On success the
// engine owns obj and releases it when the slot is next changed.
func (ts *ThreadState) Install(family Family, fn TraceFunc, obj Handle) error {
	return ts.install(family, fn, obj)
}

func (ts *ThreadState) install(family Family, fn TraceFunc, obj Handle) error {
	e := ts.engine

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ts.check(); err != nil {
		return err
	}

	if int(family) >= familyCount {
		return fmt.Errorf("unknown callback family %d", family)
	}

	old := e.slots[family]

	if fn == nil && obj != Null {
		e.handles.release(obj)
		obj = Null
	}

	e.slots[family] = slot{fn: fn, obj: obj}

	if old.obj != Null && old.obj != obj {
		e.handles.release(old.obj)
	}

	e.log.WithFields(logrus.Fields{
		"family":    family.String(),
		"installed": fn != nil,
	}).Debug("Callback slot updated")

	return nil
}

// SetError places err on the error channel, replacing any pending error.
func (ts *ThreadState) SetError(err error) {
	ts.err = err
}

// ErrOccurred reports whether an error is pending on the error channel.
func (ts *ThreadState) ErrOccurred() bool {
	return ts.err != nil
}

// FetchError returns and clears the pending error.
func (ts *ThreadState) FetchError() error {
	err := ts.err
	ts.err = nil

	return err
}

// EnterFrame makes f addressable by callbacks and returns its handle.
func (ts *ThreadState) EnterFrame(f *Frame) Handle {
	return ts.NewHandle(f)
}

// ExitFrame forgets a frame handle returned by EnterFrame.
func (ts *ThreadState) ExitFrame(h Handle) {
	ts.ReleaseHandle(h)
}

// Notify delivers one notification to every slot whose family accepts it.
// Slots are read fresh on every call, so a callback removed during dispatch
// receives nothing further. Notify may be called from inside a callback.
func (ts *ThreadState) Notify(frame Handle, what int32, arg Handle) error {
	e := ts.engine

	e.mu.Lock()
	err := ts.check()
	f, _ := e.handles.lookup(frame)
	e.mu.Unlock()

	if err != nil {
		return err
	}

	fr, _ := f.(*Frame)

	for family := Family(0); family < familyCount; family++ {
		if !family.Accepts(what) {
			continue
		}

		if family == FamilyTrace && fr != nil && fr.traceDisabled {
			continue
		}

		e.mu.Lock()
		s := e.slots[family]
		e.mu.Unlock()

		if s.fn == nil {
			continue
		}

		rc := s.fn(ts, s.obj, frame, what, arg)
		if rc >= 0 && !ts.ErrOccurred() {
			continue
		}

		err := ts.FetchError()

		switch {
		case rc >= 0:
			err = fmt.Errorf("%w: %w", ErrErrorOnContinue, err)
		case err == nil:
			err = ErrNoErrorSet
		}

		if fr != nil && family == FamilyTrace {
			fr.traceDisabled = true
		}

		return &RaisedError{Family: family, What: what, Err: err}
	}

	return nil
}

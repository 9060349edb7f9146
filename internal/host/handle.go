package host

import "fmt"

// Handle is an opaque reference to a value owned by the engine. Handles are
// how observers, frames and notification payloads cross the callback
// boundary.
type Handle uintptr

// Null is the absent handle.
const Null Handle = 0

// String implements fmt.Stringer.
func (h Handle) String() string {
	if h == Null {
		return "null"
	}

	return fmt.Sprintf("handle(%d)", uintptr(h))
}

// handleTable maps handles to the values they reference. It is only ever
// touched by the holder of the execution token.
type handleTable struct {
	next    Handle
	entries map[Handle]any
}

func newHandleTable() *handleTable {
	return &handleTable{
		next:    Null,
		entries: make(map[Handle]any, 64),
	}
}

func (t *handleTable) add(v any) Handle {
	t.next++
	t.entries[t.next] = v

	return t.next
}

func (t *handleTable) lookup(h Handle) (any, bool) {
	if h == Null {
		return nil, false
	}

	v, ok := t.entries[h]

	return v, ok
}

func (t *handleTable) release(h Handle) bool {
	if _, ok := t.entries[h]; !ok {
		return false
	}

	delete(t.entries, h)

	return true
}

func (t *handleTable) len() int {
	return len(t.entries)
}

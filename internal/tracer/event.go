package tracer

import (
	"fmt"

	"github.com/ethpandaops/finecov/internal/host"
)

// Kind identifies what happened at a notification.
type Kind uint8

const (
	KindCall       Kind = 1
	KindException  Kind = 2
	KindLine       Kind = 3
	KindReturn     Kind = 4
	KindOpcode     Kind = 5
	KindCCall      Kind = 6
	KindCException Kind = 7
	KindCReturn    Kind = 8
)

// MaxKind is the highest defined Kind.
const MaxKind = KindCReturn

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindException:
		return "exception"
	case KindLine:
		return "line"
	case KindReturn:
		return "return"
	case KindOpcode:
		return "opcode"
	case KindCCall:
		return "c_call"
	case KindCException:
		return "c_exception"
	case KindCReturn:
		return "c_return"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Event is implemented by every typed notification.
type Event interface {
	Kind() Kind
}

// TraceEvent is a notification delivered to trace-level observers: one of
// Call, Exception, Line, Return or Opcode.
type TraceEvent interface {
	Event
	traceEvent()
}

// ProfileEvent is a notification delivered to profile-level observers:
// Traced (wrapping any TraceEvent), CCall, CException or CReturn.
type ProfileEvent interface {
	Event
	profileEvent()
}

// Call signals entry into a new frame.
type Call struct{}

// Exception signals that an exception was raised in the frame.
type Exception struct {
	Type      host.Handle
	Value     host.Handle
	Traceback host.Handle
}

// Line signals that a new source range is about to execute.
type Line struct{}

// Return signals that the frame is about to return. Value is host.Null when
// the frame is unwinding because of an exception.
type Return struct {
	Value host.Handle
}

// Unwinding reports whether the return is caused by an exception.
func (r Return) Unwinding() bool {
	return r.Value == host.Null
}

// Opcode signals that a new instruction is about to execute.
type Opcode struct{}

func (Call) Kind() Kind { return KindCall }
func (Exception) Kind() Kind { return KindException }
func (Line) Kind() Kind { return KindLine }
func (Return) Kind() Kind { return KindReturn }
func (Opcode) Kind() Kind { return KindOpcode }

func (Call) traceEvent() {}
func (Exception) traceEvent() {}
func (Line) traceEvent() {}
func (Return) traceEvent() {}
func (Opcode) traceEvent() {}

// Traced is a ProfileEvent carrying a notification that is also visible at
// trace level.
type Traced struct {
	Event TraceEvent
}

// CCall signals a call into a natively implemented function.
type CCall struct {
	Func host.Handle
}

// CException signals that a natively implemented function raised.
type CException struct {
	Func host.Handle
}

// CReturn signals a return from a natively implemented function.
type CReturn struct {
	Func host.Handle
}

func (t Traced) Kind() Kind { return t.Event.Kind() }
func (CCall) Kind() Kind { return KindCCall }
func (CException) Kind() Kind { return KindCException }
func (CReturn) Kind() Kind { return KindCReturn }
func (Traced) profileEvent() {}
func (CCall) profileEvent() {}
func (CException) profileEvent() {}
func (CReturn) profileEvent() {}

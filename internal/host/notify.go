package host

import "fmt"

// Notification codes, as defined by the interpreter's tracing API.
const (
	WhatCall       int32 = 0
	WhatException  int32 = 1
	WhatLine       int32 = 2
	WhatReturn     int32 = 3
	WhatCCall      int32 = 4
	WhatCException int32 = 5
	WhatCReturn    int32 = 6
	WhatOpcode     int32 = 7
)

// Callback return protocol.
const (
	// Continue tells the engine to keep running.
	Continue int32 = 0
	// Failure tells the engine an error was placed on the error channel.
	Failure int32 = -1
)

// Family identifies one of the engine's global callback slots.
type Family uint8

const (
	// FamilyTrace receives call, line, return, exception and opcode
	// notifications.
	FamilyTrace Family = 0
	// FamilyProfile receives call, return and exception notifications,
	// including those of natively implemented functions.
	FamilyProfile Family = 1

	familyCount = 2
)

// String returns the human-readable name of the family.
func (f Family) String() string {
	switch f {
	case FamilyTrace:
		return "trace"
	case FamilyProfile:
		return "profile"
	default:
		return fmt.Sprintf("unknown(%d)", f)
	}
}

// Accepts reports whether notifications with the given code are delivered
// to this family.
func (f Family) Accepts(what int32) bool {
	switch f {
	case FamilyTrace:
		switch what {
		case WhatCall, WhatException, WhatLine, WhatReturn, WhatOpcode:
			return true
		}

		// Unrecognized codes are delivered so the callback can reject them.
		return what < 0 || what > WhatOpcode
	case FamilyProfile:
		switch what {
		case WhatLine, WhatOpcode:
			return false
		}

		return true
	default:
		return false
	}
}

// TraceFunc is the callback installed into a slot. obj is the handle that
// was installed alongside it, frame references the current *Frame, and arg
// is the notification payload or Null.
type TraceFunc func(ts *ThreadState, obj, frame Handle, what int32, arg Handle) int32

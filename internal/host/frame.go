package host

// Position is one source span the host associates with the code being
// executed. A negative coordinate means the host does not know it.
type Position struct {
	StartLine int
	EndLine   int
	StartCol  int
	EndCol    int
}

// Complete reports whether every coordinate of the position is known.
func (p Position) Complete() bool {
	return p.StartLine >= 0 && p.EndLine >= 0 && p.StartCol >= 0 && p.EndCol >= 0
}

// Frame is an execution context: one active call in the traced program.
type Frame struct {
	// Filename is the source the frame's code was loaded from. Synthetic
	// sources use a name starting with "<", e.g. "<string>".
	Filename string
	// Function is the name of the executing code object.
	Function string
	// Line is the current line number.
	Line int
	// Positions are the spans associated with the current execution
	// position. Overlapping spans on one line are all reported.
	Positions []Position

	traceDisabled bool
}

// TraceDisabled reports whether trace-level notifications were switched off
// for this frame after a callback failure.
func (f *Frame) TraceDisabled() bool {
	return f.traceDisabled
}

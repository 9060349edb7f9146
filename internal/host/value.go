package host

// Value is an interpreter object as seen from outside the interpreter:
// its type name and printable representation.
type Value struct {
	Type string
	Repr string
}

// Tuple is a fixed-size sequence of handles, used for multi-part payloads
// such as exception information.
type Tuple []Handle

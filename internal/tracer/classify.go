package tracer

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/finecov/internal/host"
)

// Resolver resolves payload handles. *host.ThreadState implements it.
type Resolver interface {
	Lookup(h host.Handle) (any, bool)
}

// Classifier converts a raw notification into a typed event.
type Classifier[E Event] func(r Resolver, what int32, arg host.Handle) (E, error)

// ClassifyTrace converts a raw notification into a TraceEvent.
func ClassifyTrace(r Resolver, what int32, arg host.Handle) (TraceEvent, error) {
	switch what {
	case host.WhatCall:
		return Call{}, nil
	case host.WhatException:
		return classifyException(r, arg)
	case host.WhatLine:
		return Line{}, nil
	case host.WhatReturn:
		return Return{Value: arg}, nil
	case host.WhatOpcode:
		return Opcode{}, nil
	default:
		return nil, &UnknownEventCodeError{Code: what}
	}
}

// ClassifyProfile converts a raw notification into a ProfileEvent. Codes
// understood by ClassifyTrace are always wrapped in Traced; only codes it
// does not know are tried as native-call notifications.
func ClassifyProfile(r Resolver, what int32, arg host.Handle) (ProfileEvent, error) {
	ev, err := ClassifyTrace(r, what, arg)
	if err == nil {
		return Traced{Event: ev}, nil
	}

	var unknown *UnknownEventCodeError
	if !errors.As(err, &unknown) {
		return nil, err
	}

	switch what {
	case host.WhatCCall:
		return CCall{Func: arg}, nil
	case host.WhatCException:
		return CException{Func: arg}, nil
	case host.WhatCReturn:
		return CReturn{Func: arg}, nil
	default:
		return nil, err
	}
}

func classifyException(r Resolver, arg host.Handle) (TraceEvent, error) {
	if arg == host.Null {
		return nil, fmt.Errorf("%w: exception notification without payload", ErrMalformedPayload)
	}

	v, ok := r.Lookup(arg)
	if !ok {
		return nil, fmt.Errorf("%w: exception payload %s does not resolve", ErrMalformedPayload, arg)
	}

	tuple, ok := v.(host.Tuple)
	if !ok {
		return nil, fmt.Errorf("%w: exception payload is %T, want tuple", ErrMalformedPayload, v)
	}

	if len(tuple) != 3 {
		return nil, fmt.Errorf("%w: exception payload has %d items, want 3", ErrMalformedPayload, len(tuple))
	}

	return Exception{
		Type:      tuple[0],
		Value:     tuple[1],
		Traceback: tuple[2],
	}, nil
}

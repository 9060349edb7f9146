package collector

import (
	"sort"

	"github.com/ethpandaops/finecov/internal/host"
	"github.com/ethpandaops/finecov/internal/tracer"
)

// CallSite identifies a called function. Native functions have no file.
type CallSite struct {
	File     string `json:"file,omitempty"`
	Function string `json:"function"`
	Native   bool   `json:"native"`
}

// CallCount is one row of a call table.
type CallCount struct {
	CallSite
	Calls uint64 `json:"calls"`
}

// CallCounter is a profile-level observer counting function entries,
// including natively implemented functions, and notifications per kind.
type CallCounter struct {
	resolver tracer.Resolver
	events   *tracer.EventStats
	calls    map[CallSite]uint64
}

var _ tracer.Observer[tracer.ProfileEvent] = (*CallCounter)(nil)

// NewCallCounter creates a call counter. The resolver names native
// functions from their payload handles; events may be nil.
func NewCallCounter(r tracer.Resolver, events *tracer.EventStats) *CallCounter {
	return &CallCounter{
		resolver: r,
		events:   events,
		calls:    make(map[CallSite]uint64, 64),
	}
}

// Trace implements tracer.Observer.
func (c *CallCounter) Trace(frame *host.Frame, event tracer.ProfileEvent) error {
	if c.events != nil {
		c.events.Record(event.Kind())
	}

	switch ev := event.(type) {
	case tracer.Traced:
		if _, ok := ev.Event.(tracer.Call); ok {
			c.calls[CallSite{File: frame.Filename, Function: frame.Function}]++
		}
	case tracer.CCall:
		c.calls[CallSite{Function: c.nativeName(ev.Func), Native: true}]++
	}

	return nil
}

func (c *CallCounter) nativeName(h host.Handle) string {
	v, ok := c.resolver.Lookup(h)
	if !ok {
		return "<unknown>"
	}

	if val, ok := v.(*host.Value); ok && val.Repr != "" {
		return val.Repr
	}

	return "<unknown>"
}

// Calls returns the call table ordered by descending count, then name.
func (c *CallCounter) Calls() []CallCount {
	out := make([]CallCount, 0, len(c.calls))
	for site, n := range c.calls {
		out = append(out, CallCount{CallSite: site, Calls: n})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}

		if out[i].Function != out[j].Function {
			return out[i].Function < out[j].Function
		}

		return out[i].File < out[j].File
	})

	return out
}

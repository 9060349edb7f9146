// Package collector contains the observers that turn typed events into
// coverage data.
package collector

import (
	"errors"
	"maps"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/finecov/internal/filter"
	"github.com/ethpandaops/finecov/internal/host"
	"github.com/ethpandaops/finecov/internal/tracer"
)

// ErrActive is returned when coverage data is read while the collector is
// still registered.
var ErrActive = errors.New("collector is registered")

// PathFilter decides whether a file is tracked.
type PathFilter interface {
	Match(path string) bool
}

// State is the collector's registration state.
type State uint8

const (
	StateIdle   State = 0
	StateActive State = 1
)

// String returns the human-readable name of the state.
func (s State) String() string {
	if s == StateActive {
		return "active"
	}

	return "idle"
}

// Collector counts line executions per file and source range.
type Collector struct {
	log    logrus.FieldLogger
	filter PathFilter
	state  State
	stats  map[string]LineStats
}

var (
	_ tracer.Observer[tracer.TraceEvent] = (*Collector)(nil)
	_ tracer.Activator                   = (*Collector)(nil)
)

// New creates an idle collector.
func New(log logrus.FieldLogger, f PathFilter) *Collector {
	return &Collector{
		log:    log.WithField("component", "collector"),
		filter: f,
		stats:  make(map[string]LineStats, 16),
	}
}

// Trace records a Line event against every range the frame reports for its
// current position. Other events, synthetic sources and filtered files are
// ignored. Trace never fails.
func (c *Collector) Trace(frame *host.Frame, event tracer.TraceEvent) error {
	if _, ok := event.(tracer.Line); !ok {
		return nil
	}

	path := frame.Filename
	if filter.IsSynthetic(path) || !c.filter.Match(path) {
		return nil
	}

	var file LineStats

	for _, pos := range frame.Positions {
		r, ok := RangeFromPosition(pos)
		if !ok {
			continue
		}

		if file == nil {
			file = c.stats[path]
			if file == nil {
				file = make(LineStats, 8)
				c.stats[path] = file
			}
		}

		file[r]++
	}

	return nil
}

// Activate marks the collector as registered.
func (c *Collector) Activate() {
	c.state = StateActive
	c.log.Debug("Collector activated")
}

// Deactivate marks the collector as idle again.
func (c *Collector) Deactivate() {
	c.state = StateIdle
	c.log.WithField("files", len(c.stats)).Debug("Collector deactivated")
}

// State returns the registration state.
func (c *Collector) State() State {
	return c.state
}

// Stats returns a copy of the per-file table. It is only available while
// idle, and changes to the copy do not reach the collector.
func (c *Collector) Stats() (map[string]LineStats, error) {
	if c.state == StateActive {
		return nil, ErrActive
	}

	out := make(map[string]LineStats, len(c.stats))
	for file, ls := range c.stats {
		out[file] = maps.Clone(ls)
	}

	return out, nil
}

// Package report turns a finished coverage table into ordered reports and
// renders them in several formats.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ethpandaops/finecov/internal/collector"
)

// Format selects a renderer.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatSource Format = "source"
	FormatPprof  Format = "pprof"
)

// Formats lists every supported format.
var Formats = []Format{FormatText, FormatJSON, FormatSource, FormatPprof}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}

	return "", fmt.Errorf("unknown report format %q (want one of %v)", s, Formats)
}

// Meta describes the session a report was taken from.
type Meta struct {
	SessionID uuid.UUID `json:"session_id"`
	Target    string    `json:"target"`
	Filter    string    `json:"filter"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Duration returns the session's wall time.
func (m Meta) Duration() time.Duration {
	if m.End.Before(m.Start) {
		return 0
	}

	return m.End.Sub(m.Start)
}

// RangeHits is one counted range.
type RangeHits struct {
	collector.SourceRange
	Hits uint64 `json:"hits"`
}

// File is the coverage of one source file.
type File struct {
	Path   string      `json:"path"`
	Lines  int         `json:"lines"`
	Hits   uint64      `json:"hits"`
	Ranges []RangeHits `json:"ranges"`
}

// Report is an ordered view of a coverage table.
type Report struct {
	Meta  Meta                  `json:"meta"`
	Files []File                `json:"files"`
	Calls []collector.CallCount `json:"calls,omitempty"`
}

// New builds a report with files sorted by path and ranges in source order.
func New(stats map[string]collector.LineStats, meta Meta) *Report {
	files := make([]File, 0, len(stats))

	for path, ls := range stats {
		if len(ls) == 0 {
			continue
		}

		f := File{
			Path:   path,
			Hits:   ls.Total(),
			Ranges: make([]RangeHits, 0, len(ls)),
		}

		lines := make(map[uint32]struct{}, len(ls))

		for _, r := range ls.Ranges() {
			f.Ranges = append(f.Ranges, RangeHits{SourceRange: r, Hits: ls[r]})
			lines[r.StartLine] = struct{}{}
		}

		f.Lines = len(lines)
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return &Report{Meta: meta, Files: files}
}

// Hits returns the sum of hits across all files.
func (r *Report) Hits() uint64 {
	var total uint64
	for _, f := range r.Files {
		total += f.Hits
	}

	return total
}

// Ranges returns the number of distinct ranges across all files.
func (r *Report) Ranges() int {
	var n int
	for _, f := range r.Files {
		n += len(f.Ranges)
	}

	return n
}

// Render writes the report to w in the given format.
func (r *Report) Render(w io.Writer, format Format) error {
	switch format {
	case FormatText:
		return r.renderText(w)
	case FormatJSON:
		return r.renderJSON(w)
	case FormatSource:
		return r.renderSource(w)
	case FormatPprof:
		return r.renderPprof(w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

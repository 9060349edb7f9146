package collector

import (
	"fmt"
	"sort"

	"github.com/ethpandaops/finecov/internal/host"
)

// SourceRange identifies a span of code within one file.
type SourceRange struct {
	StartLine uint32 `json:"start_line"`
	EndLine   uint32 `json:"end_line"`
	StartCol  uint32 `json:"start_col"`
	EndCol    uint32 `json:"end_col"`
}

// RangeFromPosition converts a host position. Positions with unknown
// coordinates have no range.
func RangeFromPosition(p host.Position) (SourceRange, bool) {
	if !p.Complete() {
		return SourceRange{}, false
	}

	return SourceRange{
		StartLine: uint32(p.StartLine),
		EndLine:   uint32(p.EndLine),
		StartCol:  uint32(p.StartCol),
		EndCol:    uint32(p.EndCol),
	}, true
}

// String formats the range as "line:col-line:col".
func (r SourceRange) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.StartLine, r.StartCol, r.EndLine, r.EndCol)
}

// Less orders ranges by start position, then end position.
func (r SourceRange) Less(o SourceRange) bool {
	if r.StartLine != o.StartLine {
		return r.StartLine < o.StartLine
	}

	if r.StartCol != o.StartCol {
		return r.StartCol < o.StartCol
	}

	if r.EndLine != o.EndLine {
		return r.EndLine < o.EndLine
	}

	return r.EndCol < o.EndCol
}

// LineStats maps each observed range in a file to its hit count.
type LineStats map[SourceRange]uint64

// Ranges returns the file's ranges in source order.
func (s LineStats) Ranges() []SourceRange {
	ranges := make([]SourceRange, 0, len(s))
	for r := range s {
		ranges = append(ranges, r)
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Less(ranges[j])
	})

	return ranges
}

// Total returns the sum of all hit counts.
func (s LineStats) Total() uint64 {
	var total uint64
	for _, n := range s {
		total += n
	}

	return total
}

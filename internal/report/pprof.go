package report

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"
)

// Profile converts the report into a pprof profile with one sample per
// range, valued by its hit count. Each file becomes one function.
func (r *Report) Profile() *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "hits", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "hits", Unit: "count"},
		Period:     1,
		Comments:   []string{"session " + r.Meta.SessionID.String(), "target " + r.Meta.Target},
	}

	if !r.Meta.Start.IsZero() {
		prof.TimeNanos = r.Meta.Start.UnixNano()
		prof.DurationNanos = r.Meta.Duration().Nanoseconds()
	}

	nextFuncID := uint64(1)
	nextLocID := uint64(1)

	for _, f := range r.Files {
		fn := &profile.Function{
			ID:         nextFuncID,
			Name:       f.Path,
			SystemName: f.Path,
			Filename:   f.Path,
		}
		if len(f.Ranges) > 0 {
			fn.StartLine = int64(f.Ranges[0].StartLine)
		}

		prof.Function = append(prof.Function, fn)
		nextFuncID++

		for _, rh := range f.Ranges {
			loc := &profile.Location{
				ID: nextLocID,
				Line: []profile.Line{
					{
						Function: fn,
						Line:     int64(rh.StartLine),
						Column:   int64(rh.StartCol),
					},
				},
			}
			prof.Location = append(prof.Location, loc)
			nextLocID++

			prof.Sample = append(prof.Sample, &profile.Sample{
				Location: []*profile.Location{loc},
				Value:    []int64{int64(rh.Hits)},
				Label:    map[string][]string{"range": {rh.SourceRange.String()}},
			})
		}
	}

	return prof
}

func (r *Report) renderPprof(w io.Writer) error {
	if err := r.Profile().Write(w); err != nil {
		return fmt.Errorf("writing pprof profile: %w", err)
	}

	return nil
}

package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// minPathWidth is the narrowest path column the text report truncates to.
const minPathWidth = 24

func (r *Report) renderText(w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("Session %s\n", r.Meta.SessionID)
	ew.printf("Target  %s\n", r.Meta.Target)
	ew.printf("Filter  %s\n", r.Meta.Filter)
	ew.printf("Elapsed %s\n\n", r.Meta.Duration().Round(1e6))

	if ew.err != nil {
		return ew.err
	}

	pathWidth := 0
	if width := terminalWidth(w); width > 0 {
		pathWidth = max(width-40, minPathWidth)
	}

	summary := tablewriter.NewWriter(ew)
	summary.SetHeader([]string{"File", "Ranges", "Lines", "Hits"})
	summary.SetBorder(false)
	summary.SetCenterSeparator("")
	summary.SetAutoWrapText(false)
	summary.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, f := range r.Files {
		summary.Append([]string{
			truncatePath(f.Path, pathWidth),
			strconv.Itoa(len(f.Ranges)),
			strconv.Itoa(f.Lines),
			strconv.FormatUint(f.Hits, 10),
		})
	}

	summary.SetFooter([]string{
		fmt.Sprintf("Total Files %d", len(r.Files)),
		strconv.Itoa(r.Ranges()),
		"",
		strconv.FormatUint(r.Hits(), 10),
	})
	summary.Render()

	for _, f := range r.Files {
		ew.printf("\n%s\n", f.Path)

		ranges := tablewriter.NewWriter(ew)
		ranges.SetHeader([]string{"Range", "Hits"})
		ranges.SetBorder(false)
		ranges.SetCenterSeparator("")
		ranges.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

		for _, rh := range f.Ranges {
			ranges.Append([]string{rh.String(), strconv.FormatUint(rh.Hits, 10)})
		}

		ranges.Render()
	}

	if len(r.Calls) > 0 {
		ew.printf("\nCalls\n")

		calls := tablewriter.NewWriter(ew)
		calls.SetHeader([]string{"Function", "File", "Calls"})
		calls.SetBorder(false)
		calls.SetCenterSeparator("")
		calls.SetAutoWrapText(false)
		calls.SetColumnAlignment([]int{
			tablewriter.ALIGN_LEFT,
			tablewriter.ALIGN_LEFT,
			tablewriter.ALIGN_RIGHT,
		})

		for _, c := range r.Calls {
			file := truncatePath(c.File, pathWidth)
			if c.Native {
				file = "(native)"
			}

			calls.Append([]string{c.Function, file, strconv.FormatUint(c.Calls, 10)})
		}

		calls.Render()
	}

	return ew.err
}

// truncatePath shortens p from the left to at most width bytes. A width of
// zero disables truncation.
func truncatePath(p string, width int) string {
	if width <= 0 || len(p) <= width {
		return p
	}

	return "..." + p[len(p)-width+3:]
}

// errWriter remembers the first write error so rendering code can write
// unconditionally and check once.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}

	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}

	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e, format, args...)
}

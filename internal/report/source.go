package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
)

// span is a half-open byte interval [start, end) within one line.
type span struct {
	start, end int
}

// SourceStyles controls how the source renderer marks code.
type SourceStyles struct {
	Hit    lipgloss.Style
	Gutter lipgloss.Style
}

// DefaultSourceStyles returns styles bound to the renderer of w.
func DefaultSourceStyles(w io.Writer) SourceStyles {
	r := lipgloss.NewRenderer(w)

	return SourceStyles{
		Hit:    r.NewStyle().Foreground(lipgloss.Color("2")).TabWidth(lipgloss.NoTabConversion),
		Gutter: r.NewStyle().Faint(true),
	}
}

func (r *Report) renderSource(w io.Writer) error {
	return r.RenderSource(w, DefaultSourceStyles(w), os.ReadFile)
}

// RenderSource prints every file in the report with the parts of each line
// covered by a counted range highlighted. The gutter shows the highest hit
// count of the ranges starting on that line. Columns are byte offsets.
func (r *Report) RenderSource(w io.Writer, styles SourceStyles, read func(string) ([]byte, error)) error {
	ew := &errWriter{w: w}

	for i, f := range r.Files {
		if i > 0 {
			ew.printf("\n")
		}

		ew.printf("%s\n", f.Path)

		src, err := read(f.Path)
		if err != nil {
			ew.printf("  (source unavailable: %v)\n", err)

			continue
		}

		lines := bytes.Split(src, []byte("\n"))
		if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
			lines = lines[:len(lines)-1]
		}

		gutter := lineHits(f)
		width := len(strconv.Itoa(len(lines)))

		for idx, line := range lines {
			no := uint32(idx + 1)
			line = bytes.TrimSuffix(line, []byte("\r"))

			hits := ""
			if n, ok := gutter[no]; ok {
				hits = strconv.FormatUint(n, 10)
			}

			ew.printf("%s %s ", styles.Gutter.Render(fmt.Sprintf("%*d", width, no)), styles.Gutter.Render(fmt.Sprintf("%6s", hits)))
			ew.printf("%s\n", highlight(line, coveredSpans(f, no, len(line)), styles.Hit))
		}
	}

	return ew.err
}

func lineHits(f File) map[uint32]uint64 {
	out := make(map[uint32]uint64, len(f.Ranges))

	for _, rh := range f.Ranges {
		if rh.Hits > out[rh.StartLine] {
			out[rh.StartLine] = rh.Hits
		}
	}

	return out
}

// coveredSpans clips every range touching line no to that line and merges
// the results into sorted, disjoint spans.
func coveredSpans(f File, no uint32, lineLen int) []span {
	var spans []span

	for _, rh := range f.Ranges {
		if rh.Hits == 0 || rh.StartLine > no || rh.EndLine < no {
			continue
		}

		s := span{start: 0, end: lineLen}
		if rh.StartLine == no {
			s.start = min(int(rh.StartCol), lineLen)
		}

		if rh.EndLine == no {
			s.end = min(int(rh.EndCol), lineLen)
		}

		if s.end > s.start {
			spans = append(spans, s)
		}
	}

	if len(spans) < 2 {
		return spans
	}

	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})

	merged := spans[:1]

	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)

			continue
		}

		merged = append(merged, s)
	}

	return merged
}

func highlight(line []byte, spans []span, style lipgloss.Style) string {
	var buf bytes.Buffer

	pos := 0

	for _, s := range spans {
		buf.Write(line[pos:s.start])
		buf.WriteString(style.Render(string(line[s.start:s.end])))
		pos = s.end
	}

	buf.Write(line[pos:])

	return buf.String()
}

package export

import (
	"time"

	"github.com/ethpandaops/finecov/internal/report"
)

// RowMeta is attached to every exported coverage row.
type RowMeta struct {
	// Project groups sessions of the same code base.
	Project string `yaml:"project"`

	// Host identifies the machine the session ran on.
	Host string `yaml:"host"`
}

// CoverageRow is one counted source range of one session.
type CoverageRow struct {
	SessionEnd time.Time `json:"session_end"`
	SessionID  string    `json:"session_id"`
	Project    string    `json:"project"`
	Host       string    `json:"host"`
	Target     string    `json:"target"`
	File       string    `json:"file"`
	StartLine  uint32    `json:"start_line"`
	EndLine    uint32    `json:"end_line"`
	StartCol   uint32    `json:"start_col"`
	EndCol     uint32    `json:"end_col"`
	Hits       uint64    `json:"hits"`
}

// CoverageRows flattens a report into rows, in report order.
func CoverageRows(rep *report.Report, meta RowMeta) []*CoverageRow {
	rows := make([]*CoverageRow, 0, rep.Ranges())
	sessionID := rep.Meta.SessionID.String()

	for _, f := range rep.Files {
		for _, rh := range f.Ranges {
			rows = append(rows, &CoverageRow{
				SessionEnd: rep.Meta.End,
				SessionID:  sessionID,
				Project:    meta.Project,
				Host:       meta.Host,
				Target:     rep.Meta.Target,
				File:       f.Path,
				StartLine:  rh.StartLine,
				EndLine:    rh.EndLine,
				StartCol:   rh.StartCol,
				EndCol:     rh.EndCol,
				Hits:       rh.Hits,
			})
		}
	}

	return rows
}

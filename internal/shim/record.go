package shim

import "github.com/ethpandaops/finecov/internal/host"

// record is one notification as written by the bootstrap.
type record struct {
	What     int32     `json:"w"`
	FrameID  uint64    `json:"id"`
	File     string    `json:"file"`
	Function string    `json:"fn"`
	Line     int       `json:"ln"`
	Pos      [][4]*int `json:"pos,omitempty"`
	Ret      *string   `json:"ret,omitempty"`
	Exc      []string  `json:"exc,omitempty"`
	CFunc    string    `json:"cfn,omitempty"`
}

func (r *record) positions() []host.Position {
	if len(r.Pos) == 0 {
		return nil
	}

	out := make([]host.Position, 0, len(r.Pos))

	for _, p := range r.Pos {
		out = append(out, host.Position{
			StartLine: coord(p[0]),
			EndLine:   coord(p[1]),
			StartCol:  coord(p[2]),
			EndCol:    coord(p[3]),
		})
	}

	return out
}

func coord(v *int) int {
	if v == nil {
		return -1
	}

	return *v
}

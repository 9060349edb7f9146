package shim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/finecov/internal/host"
)

// ctxCheckInterval is how many records are replayed between context checks.
const ctxCheckInterval = 1024

// ReplayStats summarizes one replay.
type ReplayStats struct {
	Records  uint64
	MaxDepth int
}

type liveFrame struct {
	frame  *host.Frame
	handle host.Handle
}

// replayer feeds decoded records into the engine in stream order.
type replayer struct {
	log    logrus.FieldLogger
	ts     *host.ThreadState
	frames map[uint64]liveFrame
	stats  ReplayStats
}

// Replay decodes a notification stream from r and delivers every record to
// the engine through ts. It stops at the first failed notification and
// returns the engine's *host.RaisedError.
func Replay(
	ctx context.Context,
	log logrus.FieldLogger,
	ts *host.ThreadState,
	r io.Reader,
) (ReplayStats, error) {
	rp := &replayer{
		log:    log.WithField("component", "replay"),
		ts:     ts,
		frames: make(map[uint64]liveFrame, 64),
	}
	defer rp.exitAll()

	dec := json.NewDecoder(r)

	for {
		if rp.stats.Records%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return rp.stats, err
			}
		}

		var rec record

		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return rp.stats, nil
			}

			return rp.stats, fmt.Errorf("decoding record %d: %w", rp.stats.Records+1, err)
		}

		rp.stats.Records++

		if err := rp.deliver(&rec); err != nil {
			return rp.stats, err
		}
	}
}

func (rp *replayer) deliver(rec *record) error {
	lf, ok := rp.frames[rec.FrameID]
	if !ok {
		lf.frame = &host.Frame{}
		lf.handle = rp.ts.EnterFrame(lf.frame)
		rp.frames[rec.FrameID] = lf

		if len(rp.frames) > rp.stats.MaxDepth {
			rp.stats.MaxDepth = len(rp.frames)
		}
	}

	lf.frame.Filename = rec.File
	lf.frame.Function = rec.Function
	lf.frame.Line = rec.Line

	if rec.What == host.WhatLine {
		lf.frame.Positions = rec.positions()
	}

	payload := rp.payload(rec)
	err := rp.ts.Notify(lf.handle, rec.What, payload)
	rp.releasePayload(payload)

	if rec.What == host.WhatReturn {
		rp.ts.ExitFrame(lf.handle)
		delete(rp.frames, rec.FrameID)
	}

	return err
}

// payload allocates the handles carried by a record.
func (rp *replayer) payload(rec *record) host.Handle {
	switch rec.What {
	case host.WhatException:
		if rec.Exc == nil {
			return host.Null
		}

		tuple := make(host.Tuple, 0, len(rec.Exc))

		for i, part := range rec.Exc {
			v := &host.Value{Repr: part}
			if i == 0 {
				v.Type = "type"
			}

			tuple = append(tuple, rp.ts.NewHandle(v))
		}

		return rp.ts.NewHandle(tuple)
	case host.WhatReturn:
		if rec.Ret == nil {
			return host.Null
		}

		return rp.ts.NewHandle(&host.Value{Repr: *rec.Ret})
	case host.WhatCCall, host.WhatCException, host.WhatCReturn:
		return rp.ts.NewHandle(&host.Value{
			Type: "builtin_function_or_method",
			Repr: rec.CFunc,
		})
	default:
		return host.Null
	}
}

func (rp *replayer) releasePayload(h host.Handle) {
	if h == host.Null {
		return
	}

	if v, ok := rp.ts.Lookup(h); ok {
		if tuple, ok := v.(host.Tuple); ok {
			for _, item := range tuple {
				rp.ts.ReleaseHandle(item)
			}
		}
	}

	rp.ts.ReleaseHandle(h)
}

func (rp *replayer) exitAll() {
	if len(rp.frames) > 0 {
		rp.log.WithField("frames", len(rp.frames)).
			Debug("Releasing frames still live at end of stream")
	}

	for id, lf := range rp.frames {
		rp.ts.ExitFrame(lf.handle)
		delete(rp.frames, id)
	}
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/finecov/internal/host"
	"github.com/ethpandaops/finecov/internal/report"
	"github.com/ethpandaops/finecov/internal/shim"
	"github.com/ethpandaops/finecov/internal/tracer"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// streamRunner replays a fixed notification stream instead of running an
// interpreter.
type streamRunner struct {
	stream string
	err    error
	target shim.Target
}

func (r *streamRunner) Run(ctx context.Context, ts *host.ThreadState, target shim.Target) (shim.ReplayStats, error) {
	r.target = target

	stats, err := shim.Replay(ctx, testLog(), ts, strings.NewReader(r.stream))
	if err != nil {
		return stats, err
	}

	return stats, r.err
}

const appStream = `{"w":0,"id":1,"file":"app/main.py","fn":"<module>","ln":0}
{"w":2,"id":1,"file":"app/main.py","fn":"<module>","ln":1,"pos":[[1,1,0,12]]}
{"w":4,"id":1,"file":"app/main.py","fn":"<module>","ln":1,"cfn":"print"}
{"w":6,"id":1,"file":"app/main.py","fn":"<module>","ln":1,"cfn":"print"}
{"w":0,"id":2,"file":"lib/util.py","fn":"helper","ln":3}
{"w":2,"id":2,"file":"lib/util.py","fn":"helper","ln":4,"pos":[[4,4,4,10]]}
{"w":3,"id":2,"file":"lib/util.py","fn":"helper","ln":4,"ret":"1"}
{"w":2,"id":1,"file":"app/main.py","fn":"<module>","ln":1,"pos":[[1,1,0,12]]}
{"w":2,"id":1,"file":"<frozen runpy>","fn":"_run_code","ln":9,"pos":[[9,9,0,3]]}
{"w":3,"id":1,"file":"app/main.py","fn":"<module>","ln":1,"ret":"None"}
`

func newTestSession(t *testing.T, cfg *Config, runner TargetRunner) (*Session, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer

	s, err := New(testLog(), cfg, WithRunner(runner), WithStdout(&out))
	require.NoError(t, err)

	return s, &out
}

func jsonConfig() *Config {
	cfg := DefaultConfig()
	cfg.Report.Format = string(report.FormatJSON)

	return cfg
}

func decodeReport(t *testing.T, data []byte) report.Report {
	t.Helper()

	var rep report.Report
	require.NoError(t, json.Unmarshal(data, &rep))

	return rep
}

func TestRun_ReportsFilteredCoverage(t *testing.T) {
	cfg := jsonConfig()
	cfg.Cov = "app"

	runner := &streamRunner{stream: appStream}
	s, out := newTestSession(t, cfg, runner)

	res, err := s.Run(context.Background(), shim.Target{Name: "app/main.py"})
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)
	assert.Equal(t, uint64(10), res.Replay.Records)
	assert.Equal(t, "app/main.py", runner.target.Name)

	require.Len(t, res.Report.Files, 1)
	assert.Equal(t, "app/main.py", res.Report.Files[0].Path)
	assert.Equal(t, uint64(2), res.Report.Files[0].Ranges[0].Hits)
	assert.Empty(t, res.Report.Calls, "call counting is off by default")

	rep := decodeReport(t, out.Bytes())
	assert.Equal(t, res.Report.Meta.SessionID, rep.Meta.SessionID)
	assert.Equal(t, "app/main.py", rep.Meta.Target)
	require.Len(t, rep.Files, 1)

	assert.False(t, s.engine.Installed(host.FamilyTrace))
	assert.False(t, s.engine.Installed(host.FamilyProfile))
	assert.Zero(t, s.engine.LiveHandles())
}

func TestRun_NoFilterSkipsSyntheticSources(t *testing.T) {
	s, _ := newTestSession(t, jsonConfig(), &streamRunner{stream: appStream})

	res, err := s.Run(context.Background(), shim.Target{Name: "app/main.py"})
	require.NoError(t, err)

	paths := make([]string, 0, len(res.Report.Files))
	for _, f := range res.Report.Files {
		paths = append(paths, f.Path)
	}

	assert.Equal(t, []string{"app/main.py", "lib/util.py"}, paths)
}

func TestRun_ProfileCountsCalls(t *testing.T) {
	cfg := jsonConfig()
	cfg.Shim.Profile = true

	s, _ := newTestSession(t, cfg, &streamRunner{stream: appStream})

	res, err := s.Run(context.Background(), shim.Target{Name: "app/main.py"})
	require.NoError(t, err)

	calls := make(map[string]uint64, len(res.Report.Calls))
	for _, c := range res.Report.Calls {
		calls[c.Function] = c.Calls
	}

	assert.Equal(t, map[string]uint64{"<module>": 1, "helper": 1, "print": 1}, calls)
	assert.False(t, s.engine.Installed(host.FamilyProfile))
}

func TestRun_NonZeroExitStillReports(t *testing.T) {
	runner := &streamRunner{stream: appStream, err: &shim.ExitError{Code: 3}}
	s, out := newTestSession(t, jsonConfig(), runner)

	res, err := s.Run(context.Background(), shim.Target{Name: "app/main.py"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.NotEmpty(t, res.Report.Files)
	assert.NotEmpty(t, out.String())
}

func TestRun_DispatchFailureDeregistersAndKeepsCounts(t *testing.T) {
	stream := `{"w":2,"id":1,"file":"a.py","fn":"f","ln":1,"pos":[[1,1,0,4]]}
{"w":1,"id":1,"file":"a.py","fn":"f","ln":1,"exc":["ValueError","x"]}
{"w":2,"id":1,"file":"a.py","fn":"f","ln":2,"pos":[[2,2,0,4]]}
`
	s, out := newTestSession(t, jsonConfig(), &streamRunner{stream: stream})

	res, err := s.Run(context.Background(), shim.Target{Name: "a.py"})
	require.ErrorIs(t, err, tracer.ErrMalformedPayload)

	var raised *host.RaisedError
	require.ErrorAs(t, err, &raised)

	require.NotNil(t, res)
	require.Len(t, res.Report.Files, 1)
	assert.Len(t, res.Report.Files[0].Ranges, 1, "counts before the failure survive")
	assert.NotEmpty(t, out.String())

	assert.False(t, s.engine.Installed(host.FamilyTrace))
	assert.Zero(t, s.engine.LiveHandles())
}

func TestRun_RunnerErrorBeforeNotifications(t *testing.T) {
	boom := errors.New("boom")
	s, _ := newTestSession(t, jsonConfig(), &streamRunner{err: boom})

	res, err := s.Run(context.Background(), shim.Target{Name: "a.py"})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Empty(t, res.Report.Files)
	assert.False(t, s.engine.Installed(host.FamilyTrace))
}

func TestRun_ReportToFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Report.Output = filepath.Join(t.TempDir(), "cov.txt")

	s, out := newTestSession(t, cfg, &streamRunner{stream: appStream})

	_, err := s.Run(context.Background(), shim.Target{Name: "app/main.py"})
	require.NoError(t, err)
	assert.Empty(t, out.String())

	data, err := os.ReadFile(cfg.Report.Output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "app/main.py")
	assert.Contains(t, string(data), "1:0-1:12")
}

func TestRun_ExportsOverHTTP(t *testing.T) {
	var (
		mu   sync.Mutex
		body strings.Builder
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)

		mu.Lock()
		body.Write(data)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := jsonConfig()
	cfg.Export.Meta.Project = "demo"
	cfg.Export.HTTP.Enabled = true
	cfg.Export.HTTP.Address = server.URL
	cfg.Export.HTTP.Compression = "none"

	s, _ := newTestSession(t, cfg, &streamRunner{stream: appStream})

	res, err := s.Run(context.Background(), shim.Target{Name: "app/main.py"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	lines := strings.Split(strings.TrimSpace(body.String()), "\n")
	assert.Len(t, lines, res.Report.Ranges())
	assert.Contains(t, lines[0], `"project":"demo"`)
	assert.Contains(t, lines[0], res.Report.Meta.SessionID.String())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Report.Format = "xml"

	_, err := New(testLog(), cfg)
	require.Error(t, err)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "unknown_event_code", errorType(&tracer.UnknownEventCodeError{Code: 9}))
	assert.Equal(t, "malformed_payload", errorType(tracer.ErrMalformedPayload))
	assert.Equal(t, "invalid_handle", errorType(tracer.ErrInvalidHandle))
	assert.Equal(t, "observer", errorType(&tracer.ObserverError{Kind: tracer.KindLine, Err: errors.New("x")}))
	assert.Equal(t, "no_error_set", errorType(host.ErrNoErrorSet))
	assert.Equal(t, "cancelled", errorType(context.Canceled))
	assert.Equal(t, "other", errorType(errors.New("x")))
}

func TestDeregisterFuncs_ReverseOrder(t *testing.T) {
	var order []int

	d := deregisterFuncs{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("second") },
	}

	err := d.run()
	require.EqualError(t, err, "second")
	assert.Equal(t, []int{2, 1}, order)
}

// Package session drives one coverage run: it registers the observers, runs
// the target, always deregisters, and reports and exports the results.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/finecov/internal/collector"
	"github.com/ethpandaops/finecov/internal/export"
	httpexport "github.com/ethpandaops/finecov/internal/export/http"
	"github.com/ethpandaops/finecov/internal/filter"
	"github.com/ethpandaops/finecov/internal/host"
	"github.com/ethpandaops/finecov/internal/migrate"
	"github.com/ethpandaops/finecov/internal/report"
	"github.com/ethpandaops/finecov/internal/shim"
	"github.com/ethpandaops/finecov/internal/tracer"
)

// TargetRunner executes a target, delivering its notifications through ts.
type TargetRunner interface {
	Run(ctx context.Context, ts *host.ThreadState, target shim.Target) (shim.ReplayStats, error)
}

// Result is the outcome of a finished session.
type Result struct {
	Report *report.Report
	Replay shim.ReplayStats
	// ExitCode is the target's exit status.
	ExitCode int
}

// Session runs targets under coverage.
type Session struct {
	log    logrus.FieldLogger
	cfg    *Config
	engine *host.Engine
	runner TargetRunner
	health *export.HealthMetrics
	stdout io.Writer
	now    func() time.Time
}

// Option customizes a Session.
type Option func(*Session)

// WithRunner replaces the interpreter-backed runner.
func WithRunner(r TargetRunner) Option {
	return func(s *Session) {
		s.runner = r
	}
}

// WithStdout sets where reports without an output file are written.
func WithStdout(w io.Writer) Option {
	return func(s *Session) {
		s.stdout = w
	}
}

// New creates a session for cfg.
func New(log logrus.FieldLogger, cfg *Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Session{
		log:    log.WithField("component", "session"),
		cfg:    cfg,
		engine: host.New(log),
		runner: shim.NewRunner(log, cfg.Shim),
		health: export.NewHealthMetrics(log, cfg.Health),
		stdout: os.Stdout,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Health returns the session's metrics.
func (s *Session) Health() *export.HealthMetrics {
	return s.health
}

// Run executes target under coverage. The observers are deregistered on
// every exit path. A target that exits non-zero still produces a report; its
// status is returned in Result.ExitCode. A failed notification aborts the
// target but the coverage gathered up to that point is still reported, and
// the failure is returned alongside the result.
func (s *Session) Run(ctx context.Context, target shim.Target) (*Result, error) {
	if s.cfg.Health.Enabled {
		if err := s.health.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting health metrics: %w", err)
		}

		defer func() {
			if err := s.health.Stop(); err != nil {
				s.log.WithError(err).Warn("Failed to stop health metrics")
			}
		}()
	}

	f, err := filter.New(s.cfg.Cov)
	if err != nil {
		return nil, fmt.Errorf("building filter: %w", err)
	}

	meta := report.Meta{
		SessionID: uuid.New(),
		Target:    target.Name,
		Filter:    f.String(),
		Start:     s.now(),
	}

	log := s.log.WithField("session", meta.SessionID)

	coll := collector.New(log, f)
	traceStats := tracer.NewEventStats()
	profileStats := tracer.NewEventStats()

	var (
		calls  *collector.CallCounter
		replay shim.ReplayStats
		runErr error
	)

	err = s.withThreadState(func(ts *host.ThreadState) error {
		var deregister deregisterFuncs

		defer func() {
			// Safety net for early returns; deregistration is idempotent.
			if err := deregister.run(); err != nil {
				log.WithError(err).Error("Failed to deregister observers")
			}
		}()

		treg, err := tracer.RegisterTrace(ts, tracer.Counted[tracer.TraceEvent](coll, traceStats))
		if err != nil {
			return fmt.Errorf("registering collector: %w", err)
		}

		deregister = append(deregister, func() error {
			_, err := treg.Deregister()

			return err
		})

		if s.cfg.Shim.Profile {
			calls = collector.NewCallCounter(ts, profileStats)

			preg, err := tracer.RegisterProfile(ts, calls)
			if err != nil {
				return fmt.Errorf("registering call counter: %w", err)
			}

			deregister = append(deregister, func() error {
				_, err := preg.Deregister()

				return err
			})
		}

		log.WithFields(logrus.Fields{
			"target": target.Name,
			"mode":   target.Mode(),
			"filter": f.String(),
		}).Info("Running target under coverage")

		replay, runErr = s.runner.Run(ctx, ts, target)

		return deregister.run()
	})
	if err != nil {
		return nil, err
	}

	meta.End = s.now()

	result := &Result{Replay: replay}

	var exitErr *shim.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.Code
		runErr = nil
	}

	if runErr != nil {
		s.health.DispatchErrors.WithLabelValues(errorType(runErr)).Inc()
		log.WithError(runErr).Error("Target aborted")
	}

	stats, err := coll.Stats()
	if err != nil {
		return nil, fmt.Errorf("reading coverage: %w", err)
	}

	rep := report.New(stats, meta)
	if calls != nil {
		rep.Calls = calls.Calls()
	}

	result.Report = rep

	s.observe(rep, result, traceStats, profileStats, runErr)

	if err := s.writeReport(rep); err != nil {
		return result, errors.Join(runErr, err)
	}

	if err := s.export(ctx, rep); err != nil {
		return result, errors.Join(runErr, err)
	}

	if err := s.health.Push(ctx); err != nil {
		log.WithError(err).Warn("Failed to push session metrics")
	}

	if runErr != nil {
		return result, fmt.Errorf("running %s: %w", target.Name, runErr)
	}

	return result, nil
}

// withThreadState holds the engine's execution token for the duration of fn.
func (s *Session) withThreadState(fn func(ts *host.ThreadState) error) error {
	ts, err := s.engine.Acquire()
	if err != nil {
		return fmt.Errorf("acquiring thread state: %w", err)
	}
	defer ts.Release()

	if err := fn(ts); err != nil {
		return err
	}

	if n := s.engine.LiveHandles(); n > 0 {
		s.log.WithField("handles", n).Warn("Host handles still live after run")
	}

	return nil
}

type deregisterFuncs []func() error

// run calls every function in reverse registration order.
func (d deregisterFuncs) run() error {
	var errs []error

	for i := len(d) - 1; i >= 0; i-- {
		if err := d[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Session) observe(
	rep *report.Report,
	result *Result,
	traceStats, profileStats *tracer.EventStats,
	runErr error,
) {
	s.health.ObserveEvents(host.FamilyTrace.String(), traceStats.Snapshot())
	s.health.ObserveEvents(host.FamilyProfile.String(), profileStats.Snapshot())
	s.health.ReplayRecords.Add(float64(result.Replay.Records))
	s.health.ReplayMaxDepth.Set(float64(result.Replay.MaxDepth))
	s.health.FilesTracked.Set(float64(len(rep.Files)))
	s.health.RangesTracked.Set(float64(rep.Ranges()))
	s.health.LineHits.Add(float64(rep.Hits()))
	s.health.TargetExitCode.Set(float64(result.ExitCode))

	status := "ok"

	switch {
	case runErr != nil:
		status = "aborted"
	case result.ExitCode != 0:
		status = "failed"
	}

	s.health.ObserveSession(status, rep.Meta.Duration())

	s.log.WithFields(logrus.Fields{
		"status":  status,
		"records": result.Replay.Records,
		"files":   len(rep.Files),
		"ranges":  rep.Ranges(),
		"hits":    rep.Hits(),
		"elapsed": rep.Meta.Duration(),
	}).Info("Session finished")
}

func (s *Session) writeReport(rep *report.Report) error {
	format, err := report.ParseFormat(s.cfg.Report.Format)
	if err != nil {
		return err
	}

	if out := s.cfg.Report.Output; out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}

		if err := rep.Render(f, format); err != nil {
			_ = f.Close()

			return fmt.Errorf("rendering %s report: %w", format, err)
		}

		if err := f.Close(); err != nil {
			return fmt.Errorf("closing report file: %w", err)
		}

		s.log.WithField("path", out).Info("Report written")

		return nil
	}

	if err := rep.Render(s.stdout, format); err != nil {
		return fmt.Errorf("rendering %s report: %w", format, err)
	}

	return nil
}

// export sends the report's rows to every enabled exporter concurrently.
func (s *Session) export(ctx context.Context, rep *report.Report) error {
	if !s.cfg.Export.Enabled() {
		return nil
	}

	rows := export.CoverageRows(rep, s.cfg.Export.Meta)

	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.Export.HTTP.Enabled {
		g.Go(func() error {
			return httpexport.Send(gctx, s.log, s.cfg.Export.HTTP, s.health, rows)
		})
	}

	if s.cfg.Export.ClickHouse.Enabled {
		g.Go(func() error {
			return s.exportClickHouse(gctx, rows)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("exporting coverage: %w", err)
	}

	s.log.WithField("rows", len(rows)).Info("Coverage exported")

	return nil
}

func (s *Session) exportClickHouse(ctx context.Context, rows []*export.CoverageRow) error {
	cfg := s.cfg.Export.ClickHouse

	if cfg.Migrate {
		m := migrate.New(s.log, migrate.DSN(cfg.Endpoint, cfg.Database, cfg.Username, cfg.Password))
		if err := m.Up(ctx); err != nil {
			return fmt.Errorf("migrating clickhouse schema: %w", err)
		}
	}

	w := export.NewClickHouseWriter(s.log, cfg, s.health)
	if err := w.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := w.Stop(); err != nil {
			s.log.WithError(err).Warn("Failed to close ClickHouse connection")
		}
	}()

	return w.Write(ctx, rows)
}

// errorType labels a dispatch failure for metrics.
func errorType(err error) string {
	var (
		unknown  *tracer.UnknownEventCodeError
		observer *tracer.ObserverError
	)

	switch {
	case errors.As(err, &unknown):
		return "unknown_event_code"
	case errors.Is(err, tracer.ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, tracer.ErrInvalidHandle):
		return "invalid_handle"
	case errors.As(err, &observer):
		return "observer"
	case errors.Is(err, host.ErrNoErrorSet):
		return "no_error_set"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/finecov/internal/tracer"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Enabled starts the metrics server for the lifetime of the session.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`

	// PushGateway, when set, receives the final metrics of the session.
	PushGateway string `yaml:"push_gateway"`

	// Job is the Pushgateway job name. Defaults to "finecov".
	Job string `yaml:"job"`
}

// HealthMetrics exposes Prometheus metrics for coverage sessions.
type HealthMetrics struct {
	log      logrus.FieldLogger
	cfg      HealthConfig
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Dispatch
	Notifications  *prometheus.CounterVec // family, kind
	DispatchErrors *prometheus.CounterVec // error_type

	// Replay
	ReplayRecords  prometheus.Counter
	ReplayMaxDepth prometheus.Gauge

	// Coverage
	FilesTracked  prometheus.Gauge
	RangesTracked prometheus.Gauge
	LineHits      prometheus.Counter

	// Session
	Sessions        *prometheus.CounterVec // status
	SessionDuration prometheus.Histogram
	TargetExitCode  prometheus.Gauge

	// Export
	ClickHouseConnected     prometheus.Gauge
	ExportRows              *prometheus.CounterVec   // sink
	ExportBatchErrors       *prometheus.CounterVec   // sink, error_type
	ClickHouseBatchDuration *prometheus.HistogramVec // operation

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	if cfg.Job == "" {
		cfg.Job = "finecov"
	}

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		cfg:      cfg,
		addr:     cfg.Addr,
		registry: reg,

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "finecov",
				Name:      "notifications_total",
				Help:      "Notifications delivered to observers by family and kind.",
			},
			[]string{"family", "kind"},
		),
		DispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "finecov",
				Name:      "dispatch_errors_total",
				Help:      "Notifications that failed in the dispatch bridge by error type.",
			},
			[]string{"error_type"},
		),
		ReplayRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finecov",
			Name:      "replay_records_total",
			Help:      "Total notification records replayed from the interpreter.",
		}),
		ReplayMaxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finecov",
			Name:      "replay_max_depth",
			Help:      "Deepest frame stack seen during the last replay.",
		}),
		FilesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finecov",
			Name:      "files_tracked",
			Help:      "Number of files with coverage data in the last session.",
		}),
		RangesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finecov",
			Name:      "ranges_tracked",
			Help:      "Number of distinct source ranges hit in the last session.",
		}),
		LineHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finecov",
			Name:      "line_hits_total",
			Help:      "Total range hits recorded by the collector.",
		}),
		Sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "finecov",
				Name:      "sessions_total",
				Help:      "Coverage sessions by outcome.",
			},
			[]string{"status"},
		),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "finecov",
			Name:      "session_duration_seconds",
			Help:      "Wall time of coverage sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		TargetExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finecov",
			Name:      "target_exit_code",
			Help:      "Exit status of the last target.",
		}),
		ClickHouseConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finecov",
			Name:      "clickhouse_connected",
			Help:      "Whether the ClickHouse writer is connected (1) or not (0).",
		}),
		ExportRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "finecov",
				Name:      "export_rows_total",
				Help:      "Coverage rows exported by sink.",
			},
			[]string{"sink"},
		),
		ExportBatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "finecov",
				Name:      "export_batch_errors_total",
				Help:      "Export batch errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		ClickHouseBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "finecov",
				Name:      "clickhouse_batch_duration_seconds",
				Help:      "ClickHouse batch operation duration.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		h.Notifications,
		h.DispatchErrors,
		h.ReplayRecords,
		h.ReplayMaxDepth,
		h.FilesTracked,
		h.RangesTracked,
		h.LineHits,
		h.Sessions,
		h.SessionDuration,
		h.TargetExitCode,
		h.ClickHouseConnected,
		h.ExportRows,
		h.ExportBatchErrors,
		h.ClickHouseBatchDuration,
	)

	return h
}

// Registry returns the registry all session metrics are registered with.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// ObserveEvents adds a snapshot of per-kind notification counts.
func (h *HealthMetrics) ObserveEvents(family string, snapshot map[tracer.Kind]uint64) {
	for kind, n := range snapshot {
		h.Notifications.WithLabelValues(family, kind.String()).Add(float64(n))
	}
}

// ObserveSession records the outcome of a finished session.
func (h *HealthMetrics) ObserveSession(status string, elapsed time.Duration) {
	h.Sessions.WithLabelValues(status).Inc()
	h.SessionDuration.Observe(elapsed.Seconds())
}

// Push sends the current metrics to the configured Pushgateway. It is a
// no-op without one.
func (h *HealthMetrics) Push(ctx context.Context) error {
	if h.cfg.PushGateway == "" {
		return nil
	}

	if err := push.New(h.cfg.PushGateway, h.cfg.Job).
		Gatherer(h.registry).
		PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", h.cfg.PushGateway, err)
	}

	h.log.WithField("gateway", h.cfg.PushGateway).Debug("Pushed session metrics")

	return nil
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}

// Package http streams coverage rows to an HTTP endpoint (Vector or any
// NDJSON receiver) in compressed batches.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/finecov/internal/export"
)

// Exporter implements processor.ItemExporter for coverage rows. The NDJSON
// buffer, its encoder and the compressor are reused across batches;
// ExportItems calls are serialized.
type Exporter struct {
	cfg    Config
	client *http.Client
	health *export.HealthMetrics
	log    logrus.FieldLogger

	mu         sync.Mutex
	payload    bytes.Buffer
	encoder    *json.Encoder
	compressor *Compressor
}

var _ processor.ItemExporter[export.CoverageRow] = (*Exporter)(nil)

// NewExporter creates a new HTTP exporter. health may be nil.
func NewExporter(log logrus.FieldLogger, cfg Config, health *export.HealthMetrics) (*Exporter, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	e := &Exporter{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ExportTimeout,
		},
		compressor: compressor,
		health:     health,
		log:        log.WithField("component", "http_exporter"),
	}

	e.encoder = json.NewEncoder(&e.payload)

	return e, nil
}

// ExportItems posts one batch of rows as NDJSON.
func (e *Exporter) ExportItems(ctx context.Context, rows []*export.CoverageRow) error {
	if len(rows) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.payload.Reset()
	e.payload.Grow(len(rows) * 192)

	for _, row := range rows {
		if row == nil {
			continue
		}

		if err := e.encoder.Encode(row); err != nil {
			e.recordError("encode")

			return fmt.Errorf("encoding row: %w", err)
		}
	}

	data := e.payload.Bytes()

	compressed, err := e.compressor.Compress(data)
	if err != nil {
		e.recordError("compress")

		return fmt.Errorf("compressing data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.recordError("send")

		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	// Drain response body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.recordError("status")

		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if e.health != nil {
		e.health.ExportRows.WithLabelValues("http").Add(float64(len(rows)))
	}

	e.log.WithFields(logrus.Fields{
		"rows":       len(rows),
		"bytes":      len(data),
		"compressed": len(compressed),
	}).Debug("Exported coverage rows via HTTP")

	return nil
}

func (e *Exporter) recordError(errType string) {
	if e.health != nil {
		e.health.ExportBatchErrors.WithLabelValues("http", errType).Inc()
	}
}

// Shutdown releases the exporter's compressor.
func (e *Exporter) Shutdown(_ context.Context) error {
	if e.compressor != nil {
		return e.compressor.Close()
	}

	return nil
}

// NewProcessor creates a single-worker BatchItemProcessor backed by an
// Exporter. Its queue holds one batch; extra options are applied after the
// ones derived from cfg.
func NewProcessor(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
	opts ...processor.BatchItemProcessorOption,
) (*processor.BatchItemProcessor[export.CoverageRow], error) {
	exporter, err := NewExporter(log, cfg, health)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	proc, err := processor.NewBatchItemProcessor[export.CoverageRow](
		exporter,
		"coverage_http",
		log,
		append([]processor.BatchItemProcessorOption{
			processor.WithMaxQueueSize(cfg.BatchSize),
			processor.WithExportTimeout(cfg.ExportTimeout),
			processor.WithMaxExportBatchSize(cfg.BatchSize),
			processor.WithWorkers(1),
		}, opts...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}

// Send exports rows synchronously in batches of cfg.BatchSize and returns
// the first export error.
func Send(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
	rows []*export.CoverageRow,
) error {
	cfg.ApplyDefaults()

	proc, err := NewProcessor(log, cfg, health,
		processor.WithShippingMethod(processor.ShippingMethodSync),
		processor.WithMaxQueueSize(max(len(rows), cfg.BatchSize)))
	if err != nil {
		return err
	}

	proc.Start(ctx)

	writeErr := proc.Write(ctx, rows)

	if err := proc.Shutdown(context.Background()); err != nil && writeErr == nil {
		writeErr = err
	}

	if writeErr != nil {
		return fmt.Errorf("exporting %d coverage rows: %w", len(rows), writeErr)
	}

	return nil
}

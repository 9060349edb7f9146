package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/finecov/internal/migrate"
)

// DefaultTable is the coverage table created by the schema migrations.
const DefaultTable = migrate.Table

// ClickHouseConfig configures the ClickHouse writer.
type ClickHouseConfig struct {
	// Enabled writes coverage rows to ClickHouse at the end of a session.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name.
	Database string `yaml:"database"`

	// Table is the target table name. Defaults to DefaultTable, and must be
	// DefaultTable when Migrate is set since the migrations create only that
	// table.
	Table string `yaml:"table"`

	// BatchSize is the number of rows per batch insert.
	// Defaults to 10000.
	BatchSize int `yaml:"batch_size"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`

	// Migrate applies the coverage schema before the first write.
	Migrate bool `yaml:"migrate"`
}

// Validate validates the configuration.
func (c *ClickHouseConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return errors.New("clickhouse endpoint is required when enabled")
	}

	if c.Database == "" {
		return errors.New("clickhouse database is required when enabled")
	}

	if c.Migrate && c.Table != "" && c.Table != DefaultTable {
		return fmt.Errorf("clickhouse table %q cannot be migrated: the migrations create %q", c.Table, DefaultTable)
	}

	return nil
}

// ClickHouseWriter manages writes to ClickHouse.
type ClickHouseWriter struct {
	log    logrus.FieldLogger
	cfg    ClickHouseConfig
	health *HealthMetrics
	conn   clickhouse.Conn
}

// NewClickHouseWriter creates a new ClickHouse writer. health may be nil.
func NewClickHouseWriter(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	health *HealthMetrics,
) *ClickHouseWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}

	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	return &ClickHouseWriter{
		log:    log.WithField("component", "clickhouse"),
		cfg:    cfg,
		health: health,
	}
}

// Start opens the ClickHouse connection.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()

		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn

	if w.health != nil {
		w.health.ClickHouseConnected.Set(1)
	}

	w.log.WithField("endpoint", w.cfg.Endpoint).
		Info("ClickHouse writer connected")

	return nil
}

// Config returns the writer configuration.
func (w *ClickHouseWriter) Config() ClickHouseConfig {
	return w.cfg
}

// Write inserts rows in batches of at most BatchSize.
func (w *ClickHouseWriter) Write(ctx context.Context, rows []*CoverageRow) error {
	if w.conn == nil {
		return errors.New("clickhouse writer is not started")
	}

	for len(rows) > 0 {
		n := min(len(rows), w.cfg.BatchSize)
		if err := w.writeBatch(ctx, rows[:n]); err != nil {
			return err
		}

		rows = rows[n:]
	}

	return nil
}

func (w *ClickHouseWriter) writeBatch(ctx context.Context, rows []*CoverageRow) error {
	start := time.Now()

	batch, err := w.conn.PrepareBatch(
		ctx,
		fmt.Sprintf("INSERT INTO %s.%s", w.cfg.Database, w.cfg.Table),
	)
	if err != nil {
		w.recordBatchError("prepare")

		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.SessionEnd,
			row.SessionID,
			row.Project,
			row.Host,
			row.Target,
			row.File,
			row.StartLine,
			row.EndLine,
			row.StartCol,
			row.EndCol,
			row.Hits,
		); err != nil {
			w.recordBatchError("append")

			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		w.recordBatchError("send")

		return fmt.Errorf("sending batch of %d rows: %w", len(rows), err)
	}

	if w.health != nil {
		w.health.ClickHouseBatchDuration.WithLabelValues("send").
			Observe(time.Since(start).Seconds())
		w.health.ExportRows.WithLabelValues("clickhouse").Add(float64(len(rows)))
	}

	w.log.WithField("rows", len(rows)).Debug("Flushed coverage rows")

	return nil
}

func (w *ClickHouseWriter) recordBatchError(errType string) {
	if w.health != nil {
		w.health.ExportBatchErrors.WithLabelValues("clickhouse", errType).Inc()
	}
}

// Stop closes the ClickHouse connection.
func (w *ClickHouseWriter) Stop() error {
	if w.conn == nil {
		return nil
	}

	if w.health != nil {
		w.health.ClickHouseConnected.Set(0)
	}

	err := w.conn.Close()
	w.conn = nil

	return err
}

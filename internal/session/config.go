package session

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/finecov/internal/export"
	httpexport "github.com/ethpandaops/finecov/internal/export/http"
	"github.com/ethpandaops/finecov/internal/report"
	"github.com/ethpandaops/finecov/internal/shim"
)

// Config is the top-level configuration of a coverage session.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Log configures an optional rotating log file.
	Log LogConfig `yaml:"log"`

	// Cov restricts coverage to a package or directory. Dotted names are
	// module paths. Empty tracks every non-synthetic source.
	Cov string `yaml:"cov"`

	// Shim configures the interpreter that runs the target.
	Shim shim.Config `yaml:"shim"`

	// Report configures the report printed after the run.
	Report ReportConfig `yaml:"report"`

	// Health configures the Prometheus health metrics.
	Health export.HealthConfig `yaml:"health"`

	// Export configures coverage row exports.
	Export ExportConfig `yaml:"export"`
}

// LogConfig configures log output.
type LogConfig struct {
	// File, when set, receives logs instead of stderr.
	File string `yaml:"file"`

	// MaxSizeMB is the size at which the file is rotated. Defaults to 100.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// ReportConfig configures report rendering.
type ReportConfig struct {
	// Format is one of text, json, source or pprof. Defaults to text.
	Format string `yaml:"format"`

	// Output is a file path. Empty or "-" writes to stdout.
	Output string `yaml:"output"`
}

// ExportConfig configures where coverage rows are sent.
type ExportConfig struct {
	// Meta is attached to every exported row.
	Meta export.RowMeta `yaml:"meta"`

	// HTTP streams rows as NDJSON.
	HTTP httpexport.Config `yaml:"http"`

	// ClickHouse inserts rows into a table.
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`
}

// Enabled reports whether any exporter is configured.
func (c ExportConfig) Enabled() bool {
	return c.HTTP.Enabled || c.ClickHouse.Enabled
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "warn",
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Shim: shim.DefaultConfig(),
		Report: ReportConfig{
			Format: string(report.FormatText),
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
		Export: ExportConfig{
			HTTP: httpexport.DefaultConfig(),
		},
	}
}

// LoadConfig reads and parses a YAML configuration file. An empty path
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		return fmt.Errorf("report.format: %w", err)
	}

	if c.Shim.Python == "" {
		return fmt.Errorf("shim.python is required")
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr is required when health is enabled")
	}

	if err := c.Export.HTTP.Validate(); err != nil {
		return fmt.Errorf("export.http: %w", err)
	}

	if err := c.Export.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("export.clickhouse: %w", err)
	}

	return nil
}

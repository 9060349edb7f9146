package http

import (
	"errors"
	"time"
)

// Config configures the HTTP exporter. A session ships its rows once, after
// the target exits, so rows are sent synchronously in BatchSize requests on
// a single connection rather than queued behind background workers.
type Config struct {
	// Enabled enables the HTTP exporter.
	Enabled bool `yaml:"enabled"`

	// Address is the HTTP endpoint receiving NDJSON coverage rows.
	Address string `yaml:"address"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	// Compression is one of none, gzip, zstd, zlib, snappy. Defaults to gzip.
	Compression string `yaml:"compression"`

	// BatchSize is the maximum number of rows per request. Defaults to 512.
	BatchSize int `yaml:"batch_size"`

	// ExportTimeout bounds each request. Defaults to 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// KeepAlive reuses the connection between requests. Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:   CompressionGzip,
		BatchSize:     512,
		ExportTimeout: 30 * time.Second,
		KeepAlive:     &keepAlive,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return errors.New("http address is required when enabled")
	}

	if c.BatchSize <= 0 {
		return errors.New("batch_size must be greater than 0")
	}

	if c.ExportTimeout < 0 {
		return errors.New("export_timeout cannot be negative")
	}

	if _, ok := contentEncodings[c.Compression]; c.Compression != "" && !ok {
		return errors.New("invalid compression type: " + c.Compression)
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.ExportTimeout == 0 {
		c.ExportTimeout = defaults.ExportTimeout
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}

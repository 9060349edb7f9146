package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "python3", cfg.Shim.Python)
	assert.Equal(t, "text", cfg.Report.Format)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.False(t, cfg.Export.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
log:
  file: /tmp/finecov.log
  max_size_mb: 10
cov: mypkg.sub
shim:
  python: /usr/bin/python3.12
  profile: true
  env:
    PYTHONHASHSEED: "0"
report:
  format: json
  output: coverage.json
health:
  enabled: true
  addr: ":9191"
  push_gateway: "http://gateway:9091"
export:
  meta:
    project: demo
    host: ci-1
  http:
    enabled: true
    address: "http://vector:8080"
    compression: zstd
    export_timeout: 2s
  clickhouse:
    enabled: true
    endpoint: "clickhouse:9000"
    database: coverage
    migrate: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/finecov.log", cfg.Log.File)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, 3, cfg.Log.MaxBackups, "unset fields keep defaults")
	assert.Equal(t, "mypkg.sub", cfg.Cov)
	assert.Equal(t, "/usr/bin/python3.12", cfg.Shim.Python)
	assert.True(t, cfg.Shim.Profile)
	assert.Equal(t, map[string]string{"PYTHONHASHSEED": "0"}, cfg.Shim.Env)
	assert.Equal(t, "json", cfg.Report.Format)
	assert.Equal(t, "coverage.json", cfg.Report.Output)
	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, ":9191", cfg.Health.Addr)
	assert.Equal(t, "http://gateway:9091", cfg.Health.PushGateway)
	assert.Equal(t, "demo", cfg.Export.Meta.Project)
	assert.Equal(t, "http://vector:8080", cfg.Export.HTTP.Address)
	assert.Equal(t, "zstd", cfg.Export.HTTP.Compression)
	assert.Equal(t, 2*time.Second, cfg.Export.HTTP.ExportTimeout)
	assert.Equal(t, 512, cfg.Export.HTTP.BatchSize)
	assert.True(t, cfg.Export.ClickHouse.Migrate)
	assert.True(t, cfg.Export.Enabled())
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [unterminated"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "bad report format",
			mutate:  func(c *Config) { c.Report.Format = "xml" },
			wantErr: "report.format",
		},
		{
			name:    "no interpreter",
			mutate:  func(c *Config) { c.Shim.Python = "" },
			wantErr: "shim.python",
		},
		{
			name: "health without addr",
			mutate: func(c *Config) {
				c.Health.Enabled = true
				c.Health.Addr = ""
			},
			wantErr: "health.addr",
		},
		{
			name:    "http without address",
			mutate:  func(c *Config) { c.Export.HTTP.Enabled = true },
			wantErr: "export.http",
		},
		{
			name:    "clickhouse without endpoint",
			mutate:  func(c *Config) { c.Export.ClickHouse.Enabled = true },
			wantErr: "export.clickhouse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"

	log, closer, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.NoError(t, closer.Close())
}

func TestNewLogger_File(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "info"
	cfg.Log.File = filepath.Join(t.TempDir(), "finecov.log")

	log, closer, err := NewLogger(cfg)
	require.NoError(t, err)

	log.WithField("component", "test").Info("hello from the session")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.Log.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the session")
	assert.Contains(t, string(data), "component=test")
}

func TestNewLogger_BadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"

	_, _, err := NewLogger(cfg)
	require.Error(t, err)
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/finecov/internal/migrate"
	"github.com/ethpandaops/finecov/internal/session"
)

func TestFlagsStopAtTarget(t *testing.T) {
	cmd := rootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"-m", "--cov", "pkg", "pkg.main", "--verbose", "-x"}))

	assert.Equal(t, []string{"pkg.main", "--verbose", "-x"}, cmd.Flags().Args())

	m, err := cmd.Flags().GetBool("module")
	require.NoError(t, err)
	assert.True(t, m)
}

func TestApplyFlags_OnlyChanged(t *testing.T) {
	opts := &options{}
	cmd := newRootCmd(opts)

	require.NoError(t, cmd.Flags().Set("cov", "mypkg"))
	require.NoError(t, cmd.Flags().Set("format", "json"))

	cfg := session.DefaultConfig()
	cfg.Shim.Python = "/opt/python"
	cfg.Report.Output = "keep.txt"

	applyFlags(cmd, opts, cfg)

	assert.Equal(t, "mypkg", cfg.Cov)
	assert.Equal(t, "json", cfg.Report.Format)
	assert.Equal(t, "/opt/python", cfg.Shim.Python, "unset flags keep config values")
	assert.Equal(t, "keep.txt", cfg.Report.Output)
}

type fakeMigrator struct {
	dsn   string
	calls []string
}

func (m *fakeMigrator) Up(context.Context) error {
	m.calls = append(m.calls, "up")

	return nil
}

func (m *fakeMigrator) Down(context.Context) error {
	m.calls = append(m.calls, "down")

	return nil
}

func (m *fakeMigrator) Status(context.Context) (uint, bool, error) {
	m.calls = append(m.calls, "status")

	return 1, false, nil
}

func migrateConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "finecov.yaml")
	yaml := `
export:
  clickhouse:
    endpoint: "ch:9000"
    database: cov
    username: bob
    password: secret
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	return path
}

func executeMigrate(t *testing.T, args ...string) (*fakeMigrator, string, error) {
	t.Helper()

	fake := &fakeMigrator{}
	opts := &options{
		newMigrator: func(_ logrus.FieldLogger, dsn string) migrate.Migrator {
			fake.dsn = dsn

			return fake
		},
	}

	var out bytes.Buffer

	cmd := newRootCmd(opts)
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"migrate"}, args...))

	err := cmd.Execute()

	return fake, out.String(), err
}

func TestMigrate_Subcommands(t *testing.T) {
	cfg := migrateConfig(t)

	for _, action := range []string{"up", "down", "status"} {
		t.Run(action, func(t *testing.T) {
			fake, _, err := executeMigrate(t, action, "--config", cfg)
			require.NoError(t, err)

			assert.Equal(t, []string{action}, fake.calls)
			assert.Equal(t, "clickhouse://bob:secret@ch:9000/cov", fake.dsn)
		})
	}
}

func TestMigrate_StatusOutput(t *testing.T) {
	_, out, err := executeMigrate(t, "status", "--config", migrateConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "version: 1\ndirty: false\n", out)
}

func TestMigrate_RequiresConnection(t *testing.T) {
	fake, _, err := executeMigrate(t, "up")
	require.Error(t, err)

	assert.Contains(t, err.Error(), "endpoint and database are required")
	assert.Empty(t, fake.calls)
}

func TestMigrate_RejectsArgs(t *testing.T) {
	fake, _, err := executeMigrate(t, "up", "extra", "--config", migrateConfig(t))
	require.Error(t, err)
	assert.Empty(t, fake.calls)
}

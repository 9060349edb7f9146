package migrate

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "clickhouse://localhost:9000/cov", DSN("localhost:9000", "cov", "", ""))
	assert.Equal(t,
		"clickhouse://bob:s%40cret@ch:9000/cov",
		DSN("ch:9000", "cov", "bob", "s@cret"))
}

func TestMigrations_Paired(t *testing.T) {
	ups, err := fs.Glob(migrations, "sql/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations, "sql/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))

	up, err := fs.ReadFile(migrations, "sql/001_coverage_ranges.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+Table+"\n")

	down, err := fs.ReadFile(migrations, "sql/001_coverage_ranges.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), Table)
}

package report

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile(t *testing.T) {
	r := New(testStats(), testMeta())

	prof := r.Profile()
	require.NoError(t, prof.CheckValid())

	require.Len(t, prof.Function, 2)
	assert.Equal(t, "pkg/a.py", prof.Function[0].Filename)
	assert.Equal(t, int64(1), prof.Function[0].StartLine)

	require.Len(t, prof.Sample, 5)
	assert.Equal(t, []int64{1}, prof.Sample[0].Value)
	assert.Equal(t, []string{"1:0-1:3"}, prof.Sample[0].Label["range"])
	assert.Equal(t, int64(2), prof.Sample[1].Location[0].Line[0].Line)

	var total int64
	for _, s := range prof.Sample {
		total += s.Value[0]
	}

	assert.Equal(t, int64(r.Hits()), total)
	assert.Equal(t, testMeta().Start.UnixNano(), prof.TimeNanos)
}

func TestRender_PprofRoundTrip(t *testing.T) {
	r := New(testStats(), testMeta())

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, FormatPprof))

	parsed, err := profile.Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, parsed.Sample, 5)
	assert.Equal(t, "hits", parsed.SampleType[0].Type)
}

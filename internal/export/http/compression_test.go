package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ndjsonPayload is a repetitive NDJSON body shaped like exported coverage rows.
func ndjsonPayload(rows int) []byte {
	var buf bytes.Buffer

	for i := range rows {
		fmt.Fprintf(&buf,
			`{"session_id":"7f1c2c1e","file":"pkg/mod.py","start_line":%d,"end_line":%d,"start_col":4,"end_col":17,"hits":%d}`+"\n",
			i+1, i+1, i*3)
	}

	return buf.Bytes()
}

func TestCompressor_RoundTrip(t *testing.T) {
	tests := []struct {
		algorithm  string
		encoding   string
		decompress func([]byte) ([]byte, error)
		shrinks    bool
	}{
		{CompressionGzip, "gzip", decompressGzip, true},
		{CompressionZstd, "zstd", decompressZstd, true},
		{CompressionZlib, "deflate", decompressZlib, true},
		{CompressionSnappy, "snappy", decompressSnappy, true},
	}

	original := ndjsonPayload(64)

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			compressed, err := c.Compress(original)
			require.NoError(t, err)
			assert.Equal(t, tt.encoding, c.ContentEncoding())

			if tt.shrinks {
				assert.Less(t, len(compressed), len(original))
			}

			decompressed, err := tt.decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, original, decompressed)
		})
	}
}

func TestCompressor_None(t *testing.T) {
	for _, algorithm := range []string{CompressionNone, ""} {
		c, err := NewCompressor(algorithm)
		require.NoError(t, err)

		original := ndjsonPayload(1)
		compressed, err := c.Compress(original)
		require.NoError(t, err)

		assert.Equal(t, original, compressed)
		assert.Empty(t, c.ContentEncoding())
		require.NoError(t, c.Close())
	}
}

func TestCompressor_ReusedAcrossBatches(t *testing.T) {
	tests := []struct {
		algorithm  string
		decompress func([]byte) ([]byte, error)
	}{
		{CompressionGzip, decompressGzip},
		{CompressionZstd, decompressZstd},
		{CompressionZlib, decompressZlib},
		{CompressionSnappy, decompressSnappy},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			// A large batch followed by a small one must not leak bytes
			// from the first into the second.
			for _, rows := range []int{256, 3, 64} {
				original := ndjsonPayload(rows)

				compressed, err := c.Compress(original)
				require.NoError(t, err)

				decompressed, err := tt.decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, original, decompressed, "batch of %d rows", rows)
			}
		})
	}
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("brotli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Enabled:   true,
				Address:   "http://localhost:8080",
				BatchSize: 100,
			},
			wantErr: false,
		},
		{
			name: "disabled config - no validation",
			cfg: Config{
				Enabled: false,
			},
			wantErr: false,
		},
		{
			name: "missing address",
			cfg: Config{
				Enabled: true,
			},
			wantErr: true,
		},
		{
			name: "invalid compression",
			cfg: Config{
				Enabled:     true,
				Address:     "http://localhost:8080",
				Compression: "invalid",
			},
			wantErr: true,
		},
		{
			name: "negative export timeout",
			cfg: Config{
				Enabled:       true,
				Address:       "http://localhost:8080",
				ExportTimeout: -time.Second,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// decompressGzip decompresses gzip data.
func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// decompressZstd decompresses zstd data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	return io.ReadAll(decoder)
}

// decompressZlib decompresses zlib data.
func decompressZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// decompressSnappy decompresses snappy data.
func decompressSnappy(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

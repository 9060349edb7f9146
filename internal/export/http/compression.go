package http

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithms accepted in Config.Compression.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// contentEncodings maps each algorithm to its Content-Encoding header value.
var contentEncodings = map[string]string{
	CompressionNone:   "",
	CompressionGzip:   "gzip",
	CompressionZstd:   "zstd",
	CompressionZlib:   "deflate",
	CompressionSnappy: "snappy",
}

// resetWriter is a stream encoder that can be pointed at a new destination.
type resetWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// Compressor compresses NDJSON payloads. The encoders and output buffers are
// allocated once and reused by every Compress call, so the slice
// returned by Compress is only valid until the next call. A Compressor is
// not safe for concurrent use.
type Compressor struct {
	algorithm string
	out       bytes.Buffer
	scratch   []byte
	stream    resetWriter
	zstd      *zstd.Encoder
}

// NewCompressor creates a Compressor for algorithm. An empty algorithm means
// no compression.
func NewCompressor(algorithm string) (*Compressor, error) {
	if algorithm == "" {
		algorithm = CompressionNone
	}

	c := &Compressor{algorithm: algorithm}

	switch algorithm {
	case CompressionNone, CompressionSnappy:
	case CompressionGzip:
		c.stream = gzip.NewWriter(io.Discard)
	case CompressionZlib:
		c.stream = zlib.NewWriter(io.Discard)
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	return c, nil
}

// Algorithm returns the configured algorithm.
func (c *Compressor) Algorithm() string {
	return c.algorithm
}

// Compress returns data compressed with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch {
	case c.stream != nil:
		c.out.Reset()
		c.stream.Reset(&c.out)

		if _, err := c.stream.Write(data); err != nil {
			return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
		}

		if err := c.stream.Close(); err != nil {
			return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
		}

		return c.out.Bytes(), nil
	case c.zstd != nil:
		c.scratch = c.zstd.EncodeAll(data, c.scratch[:0])

		return c.scratch, nil
	case c.algorithm == CompressionSnappy:
		if n := snappy.MaxEncodedLen(len(data)); cap(c.scratch) < n {
			c.scratch = make([]byte, n)
		}

		return snappy.Encode(c.scratch[:cap(c.scratch)], data), nil
	default:
		return data, nil
	}
}

// ContentEncoding returns the Content-Encoding header value for the algorithm.
func (c *Compressor) ContentEncoding() string {
	return contentEncodings[c.algorithm]
}

// Close releases the zstd encoder.
func (c *Compressor) Close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}

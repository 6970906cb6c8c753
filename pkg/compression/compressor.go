// Package compression wraps output streams with a compressing writer.
//
// # Overview
//
// File sinks write newline delimited Singer messages through one of the
// supported algorithms. The writer is streaming: every Flush pushes a
// complete block to the underlying file so a crash loses at most the
// unflushed tail.
//
//	w, err := compression.NewWriter(f, compression.Zstd, compression.Default)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
// # Algorithm Selection
//
//   - Gzip: wide compatibility, readable with zcat
//   - Zstd: best ratio at good speed
//   - LZ4: fastest, moderate ratio
//   - Snappy/S2: framed snappy streams, S2 is the faster superset
//   - Deflate: raw deflate without a gzip header
package compression

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None writes through unchanged
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

var extensions = map[Algorithm]string{
	None:    "",
	Gzip:    ".gz",
	Snappy:  ".sz",
	LZ4:     ".lz4",
	Zstd:    ".zst",
	S2:      ".s2",
	Deflate: ".deflate",
}

// ParseAlgorithm maps a configuration value to an Algorithm. The empty
// string means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case "":
		return None, nil
	case "gz":
		return Gzip, nil
	case "zst", "zstandard":
		return Zstd, nil
	}
	if _, ok := extensions[a]; !ok {
		return "", fmt.Errorf("unsupported compression algorithm: %s", s)
	}
	return a, nil
}

// Extension returns the conventional file suffix, empty for None.
func (a Algorithm) Extension() string {
	return extensions[a]
}

// Flusher is implemented by every writer returned from NewWriter.
type Flusher interface {
	Flush() error
}

// WriteFlushCloser is a compressing writer that can push buffered data
// downstream without ending the stream.
type WriteFlushCloser interface {
	io.WriteCloser
	Flusher
}

// NewWriter wraps w with a compressing writer. Closing the returned writer
// finishes the compressed stream but does not close w.
func NewWriter(w io.Writer, algorithm Algorithm, level Level) (WriteFlushCloser, error) {
	switch algorithm {
	case None, "":
		return nopWriter{w}, nil
	case Gzip:
		gw, err := gzip.NewWriterLevel(w, mapGzipLevel(level))
		if err != nil {
			return nil, err
		}
		return gw, nil
	case Deflate:
		fw, err := flate.NewWriter(w, mapDeflateLevel(level))
		if err != nil {
			return nil, err
		}
		return fw, nil
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
		if err != nil {
			return nil, err
		}
		return enc, nil
	case LZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, err
		}
		return lw, nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case S2:
		return s2.NewWriter(w, s2Options(level)...), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// NewReader wraps r with the matching decompressor.
func NewReader(r io.Reader, algorithm Algorithm) (io.ReadCloser, error) {
	switch algorithm {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gr, nil
	case Deflate:
		return flate.NewReader(r), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

type nopWriter struct {
	io.Writer
}

func (nopWriter) Flush() error { return nil }
func (nopWriter) Close() error { return nil }

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func s2Options(level Level) []s2.WriterOption {
	switch level {
	case Better:
		return []s2.WriterOption{s2.WriterBetterCompression()}
	case Best:
		return []s2.WriterOption{s2.WriterBestCompression()}
	default:
		return nil
	}
}

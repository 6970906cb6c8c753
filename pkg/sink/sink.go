// Package sink delivers Singer messages to their destination.
//
// A Sink is shared by every stream of a run. Emit may buffer; Flush must not
// return until everything emitted before it is durable at the destination,
// which is what lets a STATE message follow the records it covers.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/compression"
	"github.com/ajitpratap0/tap-tilroy/pkg/config"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/json"
	"github.com/ajitpratap0/tap-tilroy/pkg/singer"
)

// Sink receives SCHEMA, RECORD and STATE messages.
type Sink interface {
	Emit(msg singer.Message) error
	Flush() error
	Close() error
}

const writerBufferSize = 64 * 1024

// WriterSink writes newline delimited JSON to an io.Writer, optionally
// through a compressor.
type WriterSink struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	comp   compression.WriteFlushCloser
	closer io.Closer
	closed bool
	count  int64
}

// NewWriterSink writes uncompressed lines to w. w is not closed by Close.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{buf: bufio.NewWriterSize(w, writerBufferSize)}
}

// NewFileSink creates path (truncating) and writes through algorithm.
func NewFileSink(path string, algorithm compression.Algorithm) (*WriterSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // G304: operator supplied path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "open output file")
	}
	comp, err := compression.NewWriter(f, algorithm, compression.Default)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "create compressor")
	}
	return &WriterSink{
		buf:    bufio.NewWriterSize(comp, writerBufferSize),
		comp:   comp,
		closer: f,
	}, nil
}

// Emit implements Sink.
func (s *WriterSink) Emit(msg singer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrorTypeFile, "sink is closed")
	}
	if err := json.WriteLine(s.buf, msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "write message")
	}
	s.count++
	return nil
}

// Flush implements Sink.
func (s *WriterSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *WriterSink) flushLocked() error {
	if err := s.buf.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "flush output")
	}
	if s.comp != nil {
		if err := s.comp.Flush(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "flush compressor")
		}
	}
	if f, ok := s.closer.(*os.File); ok {
		if err := f.Sync(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "sync output file")
		}
	}
	return nil
}

// Close flushes and releases the underlying file, if any.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.buf.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "flush output")
	}
	if s.comp != nil {
		if err := s.comp.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "finish compressed stream")
		}
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Count returns the number of messages emitted.
func (s *WriterSink) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// New builds the sink selected by cfg. stdout is used for the stdout type.
func New(cfg config.OutputConfig, stdout io.Writer, logger *zap.Logger) (Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case "", "stdout":
		return NewWriterSink(stdout), nil
	case "file":
		algorithm, err := compression.ParseAlgorithm(cfg.Compression)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "output compression")
		}
		logger.Info("writing messages to file",
			zap.String("path", cfg.Path),
			zap.String("compression", string(algorithm)))
		fs, err := NewFileSink(cfg.Path, algorithm)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "kafka":
		ks, err := NewKafkaSink(KafkaConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			Compression: cfg.Compression,
		}, logger)
		if err != nil {
			return nil, err
		}
		return ks, nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unknown output type %q", cfg.Type))
	}
}

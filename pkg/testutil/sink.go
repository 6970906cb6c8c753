package testutil

import (
	"sync"

	"github.com/ajitpratap0/tap-tilroy/pkg/singer"
)

// MemorySink records every message. Messages count as delivered only once
// Flush succeeds; Pending lists the rest.
type MemorySink struct {
	mu        sync.Mutex
	flushed   []singer.Message
	pending   []singer.Message
	flushes   int
	closed    bool
	FlushErr  error
	EmitHook  func(msg singer.Message) error
	flushHook func()
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// OnFlush registers fn to run after every successful flush.
func (s *MemorySink) OnFlush(fn func()) {
	s.mu.Lock()
	s.flushHook = fn
	s.mu.Unlock()
}

func (s *MemorySink) Emit(msg singer.Message) error {
	s.mu.Lock()
	hook := s.EmitHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(msg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, msg)
	return nil
}

func (s *MemorySink) Flush() error {
	s.mu.Lock()
	if s.FlushErr != nil {
		err := s.FlushErr
		s.mu.Unlock()
		return err
	}
	s.flushed = append(s.flushed, s.pending...)
	s.pending = nil
	s.flushes++
	hook := s.flushHook
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (s *MemorySink) Close() error {
	err := s.Flush()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// Messages returns flushed messages followed by pending ones.
func (s *MemorySink) Messages() []singer.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]singer.Message, 0, len(s.flushed)+len(s.pending))
	out = append(out, s.flushed...)
	return append(out, s.pending...)
}

// Flushed returns only delivered messages.
func (s *MemorySink) Flushed() []singer.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]singer.Message(nil), s.flushed...)
}

// Records returns the RECORD payloads of stream in emission order.
func (s *MemorySink) Records(stream string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range s.Messages() {
		if m.Type == singer.TypeRecord && m.Stream == stream {
			out = append(out, m.Record)
		}
	}
	return out
}

// Values returns field of every RECORD of stream.
func (s *MemorySink) Values(stream, field string) []interface{} {
	var out []interface{}
	for _, r := range s.Records(stream) {
		out = append(out, r[field])
	}
	return out
}

// States returns the STATE payloads in emission order.
func (s *MemorySink) States() []interface{} {
	var out []interface{}
	for _, m := range s.Messages() {
		if m.Type == singer.TypeState {
			out = append(out, m.Value)
		}
	}
	return out
}

// Types returns the message type sequence, handy for ordering assertions.
func (s *MemorySink) Types() []singer.MessageType {
	msgs := s.Messages()
	out := make([]singer.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

// Flushes returns the number of successful flushes.
func (s *MemorySink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

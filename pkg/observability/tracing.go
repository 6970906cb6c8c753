// Package observability provides OpenTelemetry tracing for stream syncs.
//
// Spans are exported to stderr; stdout is reserved for the message stream.
package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/tap-tilroy"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
	BatchTimeout   time.Duration
	// Synchronous exports each span as it ends. Used by tests.
	Synchronous bool
	// Writer receives exported spans, os.Stderr when nil.
	Writer io.Writer
}

// DefaultConfig returns tracing disabled with full sampling once enabled.
func DefaultConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "tap-tilroy",
		ServiceVersion: "1.0.0",
		SamplingRate:   1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Span wraps a trace span and batches attributes until End.
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// NewSpan starts a span from the global tracer provider.
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, operationName)

	return ctx, &Span{
		span:      span,
		startTime: time.Now(),
	}
}

// SetAttribute adds an attribute, applied when the span ends.
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Finish records err, if any, and ends the span.
func (s *Span) Finish(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.End()
}

// End ends the span.
func (s *Span) End() {
	s.attributes = append(s.attributes, attribute.Int64("duration_ms", time.Since(s.startTime).Milliseconds()))
	s.span.SetAttributes(s.attributes...)
	s.span.End()
}

// StreamTracer names spans after the stream they belong to.
type StreamTracer struct {
	stream string
}

// NewStreamTracer creates a tracer for one stream.
func NewStreamTracer(stream string) *StreamTracer {
	return &StreamTracer{stream: stream}
}

// StartSpan starts "<stream>.<operation>" tagged with the stream name.
func (st *StreamTracer) StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, st.stream+"."+operation)
	span.SetAttribute("stream", st.stream)
	span.SetAttribute("operation", operation)
	return ctx, span
}

// TracePage wraps one page cycle: fetch, emit, checkpoint.
func (st *StreamTracer) TracePage(ctx context.Context, page int, fn func(context.Context) (int, error)) (int, error) {
	ctx, span := st.StartSpan(ctx, "page")
	span.SetAttribute("page.index", page)

	n, err := fn(ctx)
	span.SetAttribute("page.records", n)
	span.Finish(err)
	return n, err
}

// InjectHeaders propagates the span context in ctx onto outgoing headers.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

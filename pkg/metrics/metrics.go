// Package metrics exposes Prometheus instrumentation for a tap run.
//
// # Overview
//
// Metrics are package level promauto collectors labelled by stream. They are
// recorded unconditionally and served only when a metrics address is set:
//
//	metrics.RecordsEmitted.WithLabelValues("sales").Add(float64(n))
//
//	timer := metrics.NewTimer("fetch")
//	page, err := executor.Fetch(ctx, spec)
//	metrics.FetchDuration.WithLabelValues("sales").Observe(timer.Stop().Seconds())
//
// # Metric Types
//
// Counter: records, pages, fetch attempts, persists, stream completions
// Gauge: last committed timestamp bookmark per stream
// Histogram: per-attempt fetch latency
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// RecordsEmitted counts RECORD messages written.
	// Labels: stream
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_records_emitted_total",
			Help: "Total number of RECORD messages emitted",
		},
		[]string{"stream"},
	)

	// RecordsSkipped counts records dropped by validation.
	// Labels: stream, reason (missing_required, missing_key, type_mismatch, filtered)
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_records_skipped_total",
			Help: "Total number of records skipped",
		},
		[]string{"stream", "reason"},
	)

	// PagesFetched counts pages returned by executors.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_pages_fetched_total",
			Help: "Total number of pages fetched",
		},
		[]string{"stream"},
	)

	// FetchAttempts counts individual fetch attempts by outcome.
	// Labels: stream, outcome (ok, or a failure kind such as RATE_LIMIT)
	//
	// Example:
	//	metrics.FetchAttempts.WithLabelValues("sales", "SERVER_ERROR").Inc()
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_fetch_attempts_total",
			Help: "Total number of fetch attempts",
		},
		[]string{"stream", "outcome"},
	)

	// FetchDuration tracks per-attempt latency in seconds.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tap_fetch_duration_seconds",
			Help: "Fetch attempt duration in seconds",
			Buckets: []float64{
				0.05, // 50ms - cached or tiny pages
				0.1,
				0.25,
				0.5,
				1, // 1s - typical API page
				2.5,
				5,
				10,
				30, // 30s - bulk exports
				120,
			},
		},
		[]string{"stream"},
	)

	// StatePersists counts state persistence calls.
	// Labels: result (ok, error)
	StatePersists = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_state_persist_total",
			Help: "Total number of state persistence attempts",
		},
		[]string{"result"},
	)

	// StreamSyncs counts finished stream syncs by terminal status.
	StreamSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_stream_sync_total",
			Help: "Total number of stream syncs by terminal status",
		},
		[]string{"stream", "status"},
	)

	// BookmarkTimestamp is the committed timestamp bookmark as unix seconds.
	BookmarkTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tap_bookmark_timestamp_seconds",
			Help: "Committed timestamp bookmark per stream, unix seconds",
		},
		[]string{"stream"},
	)
)

// Timer measures an operation's duration from creation.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Name returns the timer's label.
func (t *Timer) Name() string {
	return t.name
}

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics until Shutdown is called.
type Server struct {
	srv    *http.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// Start listens in the background. It returns once the socket is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

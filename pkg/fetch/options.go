package fetch

import (
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/metrics"
)

type execOptions struct {
	policy  *RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an executor.
type Option func(*execOptions)

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(o *execOptions) { o.policy = p }
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *execOptions) { o.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *execOptions) { o.logger = l }
}

func newOptions(component string, opts []Option) execOptions {
	o := execOptions{
		policy:  DefaultRetryPolicy(),
		timeout: 300 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("component", component))
	return o
}

// attemptHook records metrics and logs for each attempt of a stream.
func (o execOptions) attemptHook(stream string) func(int, Outcome, time.Duration) {
	return func(n int, out Outcome, wait time.Duration) {
		metrics.FetchAttempts.WithLabelValues(stream, out.Label()).Inc()
		switch out.Disposition {
		case DispositionOK:
			if n > 1 {
				o.logger.Info("fetch recovered", zap.String("stream", stream), zap.Int("attempt", n))
			}
		case DispositionRetryable:
			if wait > 0 {
				o.logger.Warn("fetch failed, retrying",
					zap.String("stream", stream),
					zap.Int("attempt", n),
					zap.Duration("backoff", wait),
					zap.Error(out.Err))
			}
		default:
			o.logger.Warn("fetch failed", zap.String("stream", stream), zap.Int("attempt", n), zap.Error(out.Err))
		}
	}
}

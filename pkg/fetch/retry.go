package fetch

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/tap-tilroy/pkg/config"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// RandomizeFactor adds jitter. Zero keeps delays deterministic.
	RandomizeFactor float64

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a deterministic exponential policy.
func NewRetryPolicy(maxRetries int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: initialDelay,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// DefaultRetryPolicy returns five retries starting at one second.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(5, time.Second)
}

// PolicyFromConfig builds a policy from the reliability settings.
func PolicyFromConfig(cfg config.ReliabilityConfig) *RetryPolicy {
	rp := NewRetryPolicy(cfg.RetryAttempts, cfg.RetryDelay)
	if cfg.MaxRetryDelay > 0 {
		rp.MaxDelay = cfg.MaxRetryDelay
	}
	if cfg.RetryMultiplier >= 1 {
		rp.Multiplier = cfg.RetryMultiplier
	}
	return rp
}

// Delay returns the wait before retry n (zero based):
// min(InitialDelay * Multiplier^n, MaxDelay).
func (rp *RetryPolicy) Delay(retry int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(retry))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay)) //nolint:gosec // jitter only
	}

	return time.Duration(delay)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	c := *rp
	return &c
}

// WithDelay returns a new policy with updated delays
func (rp *RetryPolicy) WithDelay(initial, max time.Duration) *RetryPolicy {
	policy := rp.Clone()
	policy.InitialDelay = initial
	policy.MaxDelay = max
	return policy
}

// WithSleep replaces the backoff sleep, e.g. to record delays in tests.
func (rp *RetryPolicy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *RetryPolicy {
	policy := rp.Clone()
	policy.sleep = sleep
	return policy
}

// Attempt performs attempt number n (1 based).
type Attempt func(ctx context.Context, n int) Outcome

// Hooks observe and steer the retry loop.
type Hooks struct {
	// Reauth is called once after the first AUTH failure; the failed attempt
	// is then repeated without consuming a retry.
	Reauth func()
	// OnAttempt is called after every attempt with the wait that follows it.
	OnAttempt func(n int, o Outcome, wait time.Duration)
}

// Execute runs attempt until it succeeds, fails fatally, or exhausts the
// retry budget. Terminal fetch errors carry the number of attempts made.
// Cancellation returns ctx.Err() unwrapped.
func (rp *RetryPolicy) Execute(ctx context.Context, attempt Attempt, hooks Hooks) (*Page, error) {
	attempts := 0
	retries := 0
	reauthed := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++
		o := attempt(ctx, attempts)

		switch o.Disposition {
		case DispositionOK:
			hooks.observe(attempts, o, 0)
			return o.Page, nil

		case DispositionRetryable:
			if retries >= rp.MaxRetries {
				hooks.observe(attempts, o, 0)
				return nil, withAttempts(o.Err, attempts)
			}
			wait := rp.Delay(retries)
			if o.RetryAfter > 0 {
				wait = o.RetryAfter
			}
			retries++
			hooks.observe(attempts, o, wait)
			if err := rp.wait(ctx, wait); err != nil {
				return nil, err
			}

		default:
			hooks.observe(attempts, o, 0)
			if o.isAuth() && !reauthed && hooks.Reauth != nil {
				reauthed = true
				hooks.Reauth()
				continue
			}
			if errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded) {
				return nil, o.Err
			}
			return nil, withAttempts(o.Err, attempts)
		}
	}
}

func (h Hooks) observe(n int, o Outcome, wait time.Duration) {
	if h.OnAttempt != nil {
		h.OnAttempt(n, o, wait)
	}
}

func (rp *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if rp.sleep != nil {
		return rp.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withAttempts(err error, attempts int) error {
	var fe *errors.FetchError
	if errors.As(err, &fe) {
		c := *fe
		c.Attempts = attempts
		return &c
	}
	return err
}

package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

// TokenSource obtains a fresh token from an identity service.
type TokenSource interface {
	FetchToken(ctx context.Context) (Token, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (Token, error)

func (f TokenSourceFunc) FetchToken(ctx context.Context) (Token, error) {
	return f(ctx)
}

// RefreshingProvider caches a token from a TokenSource and refreshes it
// lazily before expiry or after Invalidate. Concurrent callers that need a
// refresh share one in-flight request and block until it finishes.
type RefreshingProvider struct {
	source  TokenSource
	logger  *zap.Logger
	skew    time.Duration
	timeout time.Duration
	now     func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	current Token
	stale   bool

	refreshes int64
}

// RefreshOption configures a RefreshingProvider.
type RefreshOption func(*RefreshingProvider)

// WithExpirySkew refreshes tokens expiring within d.
func WithExpirySkew(d time.Duration) RefreshOption {
	return func(p *RefreshingProvider) { p.skew = d }
}

// WithRefreshTimeout bounds a single refresh call.
func WithRefreshTimeout(d time.Duration) RefreshOption {
	return func(p *RefreshingProvider) { p.timeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RefreshOption {
	return func(p *RefreshingProvider) { p.now = now }
}

// NewRefreshingProvider wraps source.
func NewRefreshingProvider(source TokenSource, logger *zap.Logger, opts ...RefreshOption) *RefreshingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RefreshingProvider{
		source:  source,
		logger:  logger.With(zap.String("component", "credential_provider")),
		skew:    time.Minute,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns the cached token or refreshes it. A refresh failure is a
// credential error; callers treat it as fatal for the run.
func (p *RefreshingProvider) Token(ctx context.Context) (Token, error) {
	p.mu.RLock()
	tok, stale := p.current, p.stale
	p.mu.RUnlock()

	if !stale && tok.Valid(p.now(), p.skew) {
		return tok, nil
	}

	ch := p.group.DoChan("refresh", func() (interface{}, error) {
		return p.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

func (p *RefreshingProvider) refresh(ctx context.Context) (Token, error) {
	// Another caller may have refreshed between our check and this call.
	p.mu.RLock()
	if !p.stale && p.current.Valid(p.now(), p.skew) {
		tok := p.current
		p.mu.RUnlock()
		return tok, nil
	}
	p.mu.RUnlock()

	// Detached so one waiter's cancellation does not fail the shared refresh.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	tok, err := p.source.FetchToken(rctx)
	if err != nil {
		p.logger.Error("token refresh failed", zap.Error(err))
		return Token{}, errors.Wrap(err, errors.ErrorTypeCredential, "credential refresh failed")
	}
	if !tok.Valid(p.now(), 0) {
		return Token{}, errors.New(errors.ErrorTypeCredential, "credential refresh returned an expired or empty token")
	}

	p.mu.Lock()
	p.current = tok
	p.stale = false
	p.refreshes++
	p.mu.Unlock()

	p.logger.Info("token refreshed", zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// Invalidate marks the cached token stale.
func (p *RefreshingProvider) Invalidate() {
	p.mu.Lock()
	p.stale = true
	p.mu.Unlock()
}

// Refreshes returns how many refreshes have completed.
func (p *RefreshingProvider) Refreshes() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshes
}

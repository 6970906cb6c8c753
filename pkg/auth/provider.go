// Package auth supplies credentials to request executors.
//
// A Provider is passed explicitly to every executor that needs it; there is
// no package level credential state.
package auth

import (
	"context"
	"net/http"
	"time"
)

// Token is auth material valid until ExpiresAt (zero means it never expires).
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	// Headers are set verbatim on each request, e.g. API key headers.
	Headers map[string]string
}

// Valid reports whether the token is usable for at least skew more.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" && len(t.Headers) == 0 {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(skew).Before(t.ExpiresAt)
}

// Apply sets the token's headers on req.
func (t Token) Apply(req *http.Request) {
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	if t.AccessToken != "" {
		typ := t.TokenType
		if typ == "" {
			typ = "Bearer"
		}
		req.Header.Set("Authorization", typ+" "+t.AccessToken)
	}
}

// Provider supplies tokens. Implementations must be safe for concurrent use.
type Provider interface {
	// Token returns a token valid for at least one request.
	Token(ctx context.Context) (Token, error)
	// Invalidate forces a refresh on the next Token call.
	Invalidate()
}

// StaticProvider returns fixed header credentials, such as API keys.
type StaticProvider struct {
	token Token
}

// NewStaticProvider creates a provider that always returns headers.
func NewStaticProvider(headers map[string]string) *StaticProvider {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &StaticProvider{token: Token{Headers: h}}
}

// NewAPIKeyProvider returns the Tilroy API key header pair.
func NewAPIKeyProvider(tilroyAPIKey, xAPIKey string) *StaticProvider {
	return NewStaticProvider(map[string]string{
		"Tilroy-Api-Key": tilroyAPIKey,
		"x-api-key":      xAPIKey,
	})
}

func (p *StaticProvider) Token(context.Context) (Token, error) {
	return p.token, nil
}

// Invalidate is a no-op: static credentials cannot be refreshed.
func (p *StaticProvider) Invalidate() {}

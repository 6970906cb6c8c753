package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

func TestStaticProvider(t *testing.T) {
	p := NewAPIKeyProvider("tk", "xk")
	tok, err := p.Token(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	tok.Apply(req)
	assert.Equal(t, "tk", req.Header.Get("Tilroy-Api-Key"))
	assert.Equal(t, "xk", req.Header.Get("x-api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))

	p.Invalidate()
	again, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, again)
}

func TestRefreshingProviderSingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	source := TokenSourceFunc(func(ctx context.Context) (Token, error) {
		n := atomic.AddInt32(&calls, 1)
		<-release
		return Token{AccessToken: fmt.Sprintf("tok-%d", n), ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	p := NewRefreshingProvider(source, zaptest.NewLogger(t))

	const callers = 16
	var wg sync.WaitGroup
	results := make([]Token, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := p.Token(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	// let every caller reach the in-flight refresh before releasing it
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, tok := range results {
		assert.Equal(t, "tok-1", tok.AccessToken)
	}
	assert.Equal(t, int64(1), p.Refreshes())
}

func TestRefreshingProviderRefreshTriggers(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var calls int32
	source := TokenSourceFunc(func(ctx context.Context) (Token, error) {
		n := atomic.AddInt32(&calls, 1)
		return Token{AccessToken: fmt.Sprintf("tok-%d", n), ExpiresAt: now.Add(10 * time.Minute)}, nil
	})
	p := NewRefreshingProvider(source, nil,
		WithExpirySkew(time.Minute),
		WithClock(func() time.Time { return now }))

	ctx := context.Background()
	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)

	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken, "cached token reused")

	p.Invalidate()
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.AccessToken, "invalidate forces refresh")

	// inside the skew window the token counts as expired
	now = now.Add(9*time.Minute + 30*time.Second)
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-3", tok.AccessToken)
}

func TestRefreshingProviderFailure(t *testing.T) {
	source := TokenSourceFunc(func(ctx context.Context) (Token, error) {
		return Token{}, fmt.Errorf("invalid client")
	})
	p := NewRefreshingProvider(source, nil)

	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCredential))
	assert.Equal(t, "AUTH", errors.KindOf(err))
}

func TestJWTLoginSource(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tap",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "gw", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token": %q}`, signed)
	}))
	defer srv.Close()

	src := NewJWTLoginSource(srv.URL, "user", "pass", map[string]string{"x-api-key": "gw"}, srv.Client())
	tok, err := src.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signed, tok.AccessToken)
	assert.True(t, exp.Equal(tok.ExpiresAt))
}

func TestClientCredentialsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"abc","token_type":"bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	src := NewClientCredentialsSource(srv.URL, "id", "secret", nil, srv.Client())
	tok, err := src.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	tok.Apply(req)
	assert.Equal(t, "Bearer abc", req.Header.Get("Authorization"))
}

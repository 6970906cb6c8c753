package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/json"
)

// ClientCredentialsSource fetches tokens with the OAuth2 client credentials grant.
type ClientCredentialsSource struct {
	config     clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentialsSource creates a source for tokenURL.
func NewClientCredentialsSource(tokenURL, clientID, clientSecret string, scopes []string, httpClient *http.Client) *ClientCredentialsSource {
	return &ClientCredentialsSource{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
		httpClient: httpClient,
	}
}

func (s *ClientCredentialsSource) FetchToken(ctx context.Context) (Token, error) {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	tok, err := s.config.Token(ctx)
	if err != nil {
		return Token{}, errors.Wrap(err, errors.ErrorTypeAuthentication, "client credentials exchange failed")
	}
	return Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		ExpiresAt:   tok.Expiry,
	}, nil
}

// JWTLoginSource posts username and password to a login endpoint that
// answers with a signed JWT. Expiry is read from the token's exp claim; the
// signature is the issuer's concern and is not verified here.
type JWTLoginSource struct {
	loginURL   string
	username   string
	password   string
	headers    map[string]string
	httpClient *http.Client
}

// NewJWTLoginSource creates a login source. headers are sent with the login
// request, e.g. an API gateway key.
func NewJWTLoginSource(loginURL, username, password string, headers map[string]string, httpClient *http.Client) *JWTLoginSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &JWTLoginSource{
		loginURL:   loginURL,
		username:   username,
		password:   password,
		headers:    headers,
		httpClient: httpClient,
	}
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *JWTLoginSource) FetchToken(ctx context.Context) (Token, error) {
	body, err := json.Marshal(map[string]string{"username": s.username, "password": s.password})
	if err != nil {
		return Token{}, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewReader(body))
	if err != nil {
		return Token{}, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create login request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Token{}, errors.Wrap(err, errors.ErrorTypeConnection, "login request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read login response")
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, errors.Newf(errors.ErrorTypeAuthentication, "login returned status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.Unmarshal(payload, &lr); err != nil {
		return Token{}, errors.Wrap(err, errors.ErrorTypeData, "failed to decode login response")
	}
	raw := lr.Token
	if raw == "" {
		raw = lr.AccessToken
	}
	if raw == "" {
		return Token{}, errors.New(errors.ErrorTypeData, "login response carried no token")
	}

	expiresAt, err := jwtExpiry(raw)
	if err != nil {
		return Token{}, err
	}
	if expiresAt.IsZero() && lr.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(lr.ExpiresIn) * time.Second)
	}

	return Token{AccessToken: raw, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// jwtExpiry returns the exp claim of raw, or the zero time when absent.
func jwtExpiry(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeData, "login token is not a JWT")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeData, "invalid exp claim")
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

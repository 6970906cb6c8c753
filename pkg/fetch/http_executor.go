package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/auth"
	"github.com/ajitpratap0/tap-tilroy/pkg/clients"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/json"
	"github.com/ajitpratap0/tap-tilroy/pkg/metrics"
	"github.com/ajitpratap0/tap-tilroy/pkg/observability"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

const maxBodyBytes = 256 << 20

// HTTPEndpoint describes how a stream's pages map onto a REST endpoint.
type HTTPEndpoint struct {
	Path   string
	Params url.Values

	// PageParam carries the page number, starting at PageBase.
	PageParam string
	PageBase  int
	// OffsetParam carries the row offset when the API pages by offset.
	OffsetParam string
	// SizeParam carries the page size.
	SizeParam   string
	CursorParam string

	// RecordsPath is a dotted path to the record array; empty when the body
	// itself is the array.
	RecordsPath string
	// CursorPath is a dotted path to the next cursor in the body.
	CursorPath string
	// CursorHeader names a response header carrying the next cursor.
	CursorHeader string
	// HasMorePath is a dotted path to a boolean continuation flag.
	HasMorePath string

	// BoundParam carries the lower bound, e.g. "dateFrom".
	BoundParam string
	// BoundLayout formats timestamp bounds, RFC3339 when empty.
	BoundLayout string
	// BoundLookback is subtracted from timestamp bounds before formatting.
	BoundLookback time.Duration
}

// HTTPExecutor fetches pages of JSON records over HTTP.
type HTTPExecutor struct {
	client   *clients.HTTPClient
	baseURL  *url.URL
	endpoint HTTPEndpoint
	creds    auth.Provider
	execOptions
	now func() time.Time
}

// NewHTTPExecutor creates an executor for one endpoint. creds may be shared
// with other executors.
func NewHTTPExecutor(client *clients.HTTPClient, baseURL string, endpoint HTTPEndpoint, creds auth.Provider, opts ...Option) (*HTTPExecutor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "base url %q must be absolute", baseURL)
	}
	if creds == nil {
		creds = auth.NewStaticProvider(nil)
	}
	return &HTTPExecutor{
		client:      client,
		baseURL:     u,
		endpoint:    endpoint,
		creds:       creds,
		execOptions: newOptions("http_executor", opts),
		now:         time.Now,
	}, nil
}

// Fetch retrieves one page.
func (e *HTTPExecutor) Fetch(ctx context.Context, spec RequestSpec) (*Page, error) {
	target := e.requestURL(spec)
	return e.policy.Execute(ctx, func(ctx context.Context, _ int) Outcome {
		return e.attempt(ctx, spec.Stream, target)
	}, Hooks{
		Reauth: func() {
			e.logger.Info("credentials rejected, refreshing", zap.String("stream", spec.Stream))
			e.creds.Invalidate()
		},
		OnAttempt: e.attemptHook(spec.Stream),
	})
}

func (e *HTTPExecutor) attempt(ctx context.Context, stream, target string) Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tok, err := e.creds.Token(attemptCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Fatal(ctx.Err())
		}
		return Fatal(err)
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return Fatal(&errors.FetchError{Kind: errors.FetchClientError, Stream: stream, Message: "build request", Cause: err})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	tok.Apply(req)
	observability.InjectHeaders(ctx, req.Header)

	timer := metrics.NewTimer("fetch")
	resp, err := e.client.Do(req)
	if err != nil {
		metrics.FetchDuration.WithLabelValues(stream).Observe(timer.Stop().Seconds())
		if ctx.Err() != nil {
			return Fatal(ctx.Err())
		}
		return Retryable(&errors.FetchError{Kind: errors.FetchTransport, Stream: stream, Message: "request failed", Cause: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.FetchDuration.WithLabelValues(stream).Observe(timer.Stop().Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return Fatal(ctx.Err())
		}
		return Retryable(&errors.FetchError{Kind: errors.FetchTransport, Stream: stream, StatusCode: resp.StatusCode, Message: "read body", Cause: err})
	}

	return e.classify(stream, resp, body)
}

func (e *HTTPExecutor) classify(stream string, resp *http.Response, body []byte) Outcome {
	code := resp.StatusCode
	fe := &errors.FetchError{Stream: stream, StatusCode: code}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		fe.Kind = errors.FetchAuth
		fe.Message = snippet(body)
		return Fatal(fe)
	case code == http.StatusTooManyRequests:
		fe.Kind = errors.FetchRateLimit
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), e.now())
		return Retryable(fe)
	case code >= 500:
		fe.Kind = errors.FetchServerError
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), e.now())
		fe.Message = snippet(body)
		return Retryable(fe)
	case code < 200 || code >= 300:
		fe.Kind = errors.FetchClientError
		fe.Message = snippet(body)
		return Fatal(fe)
	}

	page, err := e.decode(body, resp.Header)
	if err != nil {
		fe.Kind = errors.FetchClientError
		fe.Message = "malformed response body"
		fe.Cause = err
		return Fatal(fe)
	}
	return Ok(page)
}

func (e *HTTPExecutor) decode(body []byte, header http.Header) (*Page, error) {
	page := &Page{}
	if len(bytes.TrimSpace(body)) == 0 {
		return page, nil
	}

	var doc interface{}
	if err := json.UnmarshalUseNumber(body, &doc); err != nil {
		return nil, err
	}

	raw, ok := lookup(doc, e.endpoint.RecordsPath)
	if !ok || raw == nil {
		if e.endpoint.RecordsPath == "" && doc == nil {
			return page, nil
		}
		return nil, fmt.Errorf("no record array at %q", e.endpoint.RecordsPath)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array at %q, got %T", e.endpoint.RecordsPath, raw)
	}
	page.Records = make([]Record, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("item %d is %T, not an object", i, item)
		}
		page.Records = append(page.Records, rec)
	}

	if e.endpoint.CursorPath != "" {
		if v, ok := lookup(doc, e.endpoint.CursorPath); ok && v != nil {
			page.NextCursor = fmt.Sprint(v)
		}
	}
	if e.endpoint.CursorHeader != "" {
		page.NextCursor = header.Get(e.endpoint.CursorHeader)
	}
	if e.endpoint.HasMorePath != "" {
		if v, ok := lookup(doc, e.endpoint.HasMorePath); ok {
			if b, ok := v.(bool); ok {
				page.HasMore = &b
			}
		}
	}
	return page, nil
}

func (e *HTTPExecutor) requestURL(spec RequestSpec) string {
	ep := e.endpoint
	u := *e.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(ep.Path, "/")

	q := url.Values{}
	for k, vs := range ep.Params {
		q[k] = append([]string(nil), vs...)
	}
	if ep.PageParam != "" {
		q.Set(ep.PageParam, strconv.Itoa(spec.Page+ep.PageBase))
	}
	if ep.OffsetParam != "" {
		q.Set(ep.OffsetParam, strconv.Itoa(spec.Offset))
	}
	if ep.SizeParam != "" && spec.PageSize > 0 {
		q.Set(ep.SizeParam, strconv.Itoa(spec.PageSize))
	}
	if ep.CursorParam != "" && spec.Cursor != "" {
		q.Set(ep.CursorParam, spec.Cursor)
	}
	if ep.BoundParam != "" && spec.Bound != nil {
		q.Set(ep.BoundParam, e.formatBound(spec.Bound.Value))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *HTTPExecutor) formatBound(b state.Bookmark) string {
	if b.Kind != state.KindTimestamp {
		return b.Value
	}
	t, err := b.Time()
	if err != nil {
		return b.Value
	}
	layout := e.endpoint.BoundLayout
	if layout == "" {
		layout = time.RFC3339
	}
	return t.Add(-e.endpoint.BoundLookback).Format(layout)
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// lookup walks a dotted path through nested objects. An empty path
// returns doc itself.
func lookup(doc interface{}, path string) (interface{}, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

const snippetLimit = 200

// snippet trims an error body for messages, cutting on a rune boundary.
func snippet(body []byte) string {
	s := strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD")
	if len(s) <= snippetLimit {
		return s
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Package fetch issues single upstream fetches with bounded retry.
//
// An Executor turns a RequestSpec into one Page. Every attempt produces an
// explicit Outcome (ok, retryable, fatal) which a RetryPolicy consumes;
// callers see either a page or a terminal error, typically a
// *errors.FetchError carrying the failure kind and attempt count.
package fetch

import (
	"context"

	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// Record is one raw row as returned by the source.
type Record = map[string]interface{}

// Bound restricts a request to rows whose Field is past Value.
type Bound struct {
	Field string
	Value state.Bookmark
	// Inclusive selects >= instead of >.
	Inclusive bool
}

// RequestSpec describes one page request.
type RequestSpec struct {
	Stream string
	// Page is the zero based page index within the current window.
	Page     int
	Offset   int
	PageSize int
	Cursor   string
	Bound    *Bound
}

// Page is an ordered batch of raw records plus continuation.
type Page struct {
	Records    []Record
	NextCursor string
	// HasMore is the source's explicit continuation signal, nil when the
	// source gives none.
	HasMore *bool
}

// Len returns the number of records on the page.
func (p *Page) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Records)
}

// Executor performs one fetch, retrying transient failures internally.
// Implementations must be safe for concurrent use by different streams.
type Executor interface {
	Fetch(ctx context.Context, spec RequestSpec) (*Page, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, spec RequestSpec) (*Page, error)

func (f ExecutorFunc) Fetch(ctx context.Context, spec RequestSpec) (*Page, error) {
	return f(ctx, spec)
}

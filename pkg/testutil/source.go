package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// Source is an in-memory upstream. It serves Records in order, honoring the
// request bound, by offset or, when CursorField is set, by cursor: the
// cursor is the CursorField value of the first record of the next page.
type Source struct {
	Records     []fetch.Record
	Kind        state.BookmarkKind
	CursorField string

	mu       sync.Mutex
	specs    []fetch.RequestSpec
	failures map[int]error
	failFrom int
	failErr  error
	hook     func(call int, spec fetch.RequestSpec)
}

// NewSource serves records with bounds compared as kind.
func NewSource(kind state.BookmarkKind, records ...fetch.Record) *Source {
	return &Source{Records: records, Kind: kind, failures: make(map[int]error)}
}

// WithCursor switches to cursor continuation on field.
func (s *Source) WithCursor(field string) *Source {
	s.CursorField = field
	return s
}

// FailOn makes the call-th fetch (1 based) return err.
func (s *Source) FailOn(call int, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[call] = err
	return s
}

// FailFrom makes every fetch from the call-th on return err.
func (s *Source) FailFrom(call int, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFrom, s.failErr = call, err
	return s
}

// OnFetch runs fn at the start of every fetch.
func (s *Source) OnFetch(fn func(call int, spec fetch.RequestSpec)) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
	return s
}

// Specs returns every request received.
func (s *Source) Specs() []fetch.RequestSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fetch.RequestSpec(nil), s.specs...)
}

// Calls returns the number of fetches.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.specs)
}

// Fetch implements fetch.Executor.
func (s *Source) Fetch(ctx context.Context, spec fetch.RequestSpec) (*fetch.Page, error) {
	s.mu.Lock()
	s.specs = append(s.specs, spec)
	call := len(s.specs)
	hook := s.hook
	err := s.failures[call]
	if err == nil && s.failFrom > 0 && call >= s.failFrom {
		err = s.failErr
	}
	s.mu.Unlock()

	if hook != nil {
		hook(call, spec)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.window(spec.Bound)
	if err != nil {
		return nil, err
	}
	if s.CursorField == "" {
		return &fetch.Page{Records: slice(rows, spec.Offset, spec.PageSize)}, nil
	}

	start := 0
	if spec.Cursor != "" {
		start = -1
		for i, r := range rows {
			if fmt.Sprint(r[s.CursorField]) == spec.Cursor {
				start = i
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("unknown cursor %q", spec.Cursor)
		}
	}
	page := &fetch.Page{Records: slice(rows, start, spec.PageSize)}
	if next := start + spec.PageSize; spec.PageSize > 0 && next < len(rows) {
		page.NextCursor = fmt.Sprint(rows[next][s.CursorField])
	}
	return page, nil
}

func (s *Source) window(bound *fetch.Bound) ([]fetch.Record, error) {
	if bound == nil {
		return s.Records, nil
	}
	out := make([]fetch.Record, 0, len(s.Records))
	for _, r := range s.Records {
		b, err := state.BookmarkFromValue(s.Kind, r[bound.Field])
		if err != nil {
			return nil, err
		}
		c, err := b.Compare(bound.Value)
		if err != nil {
			return nil, err
		}
		if c > 0 || (bound.Inclusive && c == 0) {
			out = append(out, r)
		}
	}
	return out, nil
}

func slice(rows []fetch.Record, from, size int) []fetch.Record {
	if from >= len(rows) {
		return nil
	}
	to := len(rows)
	if size > 0 && from+size < to {
		to = from + size
	}
	out := make([]fetch.Record, 0, to-from)
	for _, r := range rows[from:to] {
		c := make(fetch.Record, len(r))
		for k, v := range r {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}

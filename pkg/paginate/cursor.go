package paginate

import (
	"fmt"

	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// Cursor follows opaque continuation tokens. A page without a token ends
// the sequence.
type Cursor struct {
	stream   string
	pageSize int
	page     int
	cursor   string
	bound    *fetch.Bound
	phase    Phase
}

// NewCursor creates a cursor paginator. pageSize may be zero when the
// source chooses its own page size.
func NewCursor(stream string, pageSize int) *Cursor {
	return &Cursor{stream: stream, pageSize: pageSize, phase: PhaseStart}
}

func (p *Cursor) Next() (fetch.RequestSpec, bool) {
	if p.phase == PhaseExhausted {
		return fetch.RequestSpec{}, false
	}
	p.phase = PhaseFetching
	return fetch.RequestSpec{
		Stream:   p.stream,
		Page:     p.page,
		PageSize: p.pageSize,
		Cursor:   p.cursor,
		Bound:    p.bound,
	}, true
}

func (p *Cursor) Observe(page *fetch.Page) error {
	if p.phase != PhaseFetching {
		return fmt.Errorf("stream %s: observe in phase %s", p.stream, p.phase)
	}
	if page.NextCursor == "" || !hasMore(page, true) {
		p.phase = PhaseExhausted
		return nil
	}
	if page.NextCursor == p.cursor {
		return fmt.Errorf("stream %s: cursor %q did not advance", p.stream, p.cursor)
	}
	p.cursor = page.NextCursor
	p.page++
	return nil
}

func (p *Cursor) Phase() Phase { return p.phase }

func (p *Cursor) Marker() state.ProgressMarker {
	return state.ProgressMarker{Page: p.page, Cursor: p.cursor}
}

func (p *Cursor) Resume(m state.ProgressMarker) error {
	if p.phase != PhaseStart {
		return fmt.Errorf("stream %s: resume in phase %s", p.stream, p.phase)
	}
	p.cursor = m.Cursor
	p.page = m.Page
	return nil
}

func (p *Cursor) setBound(b *fetch.Bound) { p.bound = b }

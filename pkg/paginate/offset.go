package paginate

import (
	"fmt"

	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// Offset pages by row offset. A page shorter than the page size, or an
// explicit no-more signal, ends the sequence.
type Offset struct {
	stream   string
	pageSize int
	page     int
	offset   int
	bound    *fetch.Bound
	phase    Phase
}

// NewOffset creates an offset paginator.
func NewOffset(stream string, pageSize int) *Offset {
	return &Offset{stream: stream, pageSize: pageSize, phase: PhaseStart}
}

func (p *Offset) Next() (fetch.RequestSpec, bool) {
	if p.phase == PhaseExhausted {
		return fetch.RequestSpec{}, false
	}
	p.phase = PhaseFetching
	return fetch.RequestSpec{
		Stream:   p.stream,
		Page:     p.page,
		Offset:   p.offset,
		PageSize: p.pageSize,
		Bound:    p.bound,
	}, true
}

func (p *Offset) Observe(page *fetch.Page) error {
	if p.phase != PhaseFetching {
		return fmt.Errorf("stream %s: observe in phase %s", p.stream, p.phase)
	}
	if !hasMore(page, page.Len() >= p.pageSize && page.Len() > 0) {
		p.phase = PhaseExhausted
		return nil
	}
	p.page++
	p.offset += p.pageSize
	return nil
}

func (p *Offset) Phase() Phase { return p.phase }

func (p *Offset) Marker() state.ProgressMarker {
	return state.ProgressMarker{Page: p.page, Offset: p.offset}
}

func (p *Offset) Resume(m state.ProgressMarker) error {
	if p.phase != PhaseStart {
		return fmt.Errorf("stream %s: resume in phase %s", p.stream, p.phase)
	}
	if m.Offset < 0 || m.Page < 0 {
		return fmt.Errorf("stream %s: invalid progress marker", p.stream)
	}
	p.offset = m.Offset
	p.page = m.Page
	if p.page == 0 && p.offset > 0 {
		p.page = p.offset / p.pageSize
	}
	return nil
}

func (p *Offset) setBound(b *fetch.Bound) { p.bound = b }

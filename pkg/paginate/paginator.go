// Package paginate produces successive page requests for one stream.
//
// A Paginator moves START -> FETCHING -> EXHAUSTED. Offset and cursor
// paginators continue from what each page reports; a Watermark wraps either
// and adds the incremental lower bound plus replication key tracking.
package paginate

import (
	"fmt"

	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// Phase is the paginator lifecycle.
type Phase string

const (
	PhaseStart     Phase = "START"
	PhaseFetching  Phase = "FETCHING"
	PhaseExhausted Phase = "EXHAUSTED"
)

// Strategy selects how pages continue.
type Strategy string

const (
	StrategyOffset Strategy = "offset"
	StrategyCursor Strategy = "cursor"
)

// Paginator yields page requests until the source is exhausted.
type Paginator interface {
	// Next returns the next request, or false once exhausted.
	Next() (fetch.RequestSpec, bool)
	// Observe advances past a fetched page.
	Observe(page *fetch.Page) error
	Phase() Phase
	// Marker is the position to resume from after the last observed page.
	Marker() state.ProgressMarker
	// Resume continues from a persisted marker. Only valid in START.
	Resume(m state.ProgressMarker) error
}

// boundable paginators accept a lower bound for every request.
type boundable interface {
	Paginator
	setBound(b *fetch.Bound)
}

// Config describes a paginator.
type Config struct {
	Stream   string
	Strategy Strategy
	PageSize int
	// Watermark, when set, wraps the strategy with an incremental window.
	Watermark *WatermarkConfig
}

// New builds the paginator described by cfg.
func New(cfg Config) (Paginator, error) {
	var inner boundable
	switch cfg.Strategy {
	case "", StrategyOffset:
		if cfg.PageSize <= 0 {
			return nil, fmt.Errorf("stream %s: offset pagination requires a positive page size", cfg.Stream)
		}
		inner = NewOffset(cfg.Stream, cfg.PageSize)
	case StrategyCursor:
		inner = NewCursor(cfg.Stream, cfg.PageSize)
	default:
		return nil, fmt.Errorf("stream %s: unknown pagination strategy %q", cfg.Stream, cfg.Strategy)
	}
	if cfg.Watermark == nil {
		return inner, nil
	}
	return NewWatermark(inner, *cfg.Watermark), nil
}

// hasMore reports whether another page follows. A short page always ends the
// window; an explicit signal can only stop a full one early.
func hasMore(page *fetch.Page, full bool) bool {
	if !full {
		return false
	}
	if page.HasMore != nil {
		return *page.HasMore && page.Len() > 0
	}
	return true
}

package paginate

import (
	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// WatermarkConfig describes an incremental window.
type WatermarkConfig struct {
	// Field is the replication key.
	Field string
	Kind  state.BookmarkKind
	// Lower is the committed bookmark or start date; nil for a full scan.
	Lower *state.Bookmark
	// Inclusive asks the source for values >= Lower instead of > Lower.
	Inclusive bool
	// Filter drops records at or below Lower on the client side.
	Filter bool
}

// Watermark wraps an offset or cursor paginator with a lower bound and
// tracks the highest replication key value seen in the window.
type Watermark struct {
	inner    boundable
	cfg      WatermarkConfig
	observed state.Bookmark
}

// NewWatermark wraps inner. Every request inner produces carries the bound.
func NewWatermark(inner boundable, cfg WatermarkConfig) *Watermark {
	w := &Watermark{inner: inner, cfg: cfg}
	w.applyBound()
	return w
}

func (w *Watermark) applyBound() {
	if w.cfg.Lower == nil || w.cfg.Lower.IsZero() {
		w.inner.setBound(nil)
		return
	}
	w.inner.setBound(&fetch.Bound{Field: w.cfg.Field, Value: *w.cfg.Lower, Inclusive: w.cfg.Inclusive})
}

func (w *Watermark) Next() (fetch.RequestSpec, bool) { return w.inner.Next() }

func (w *Watermark) Observe(page *fetch.Page) error { return w.inner.Observe(page) }

func (w *Watermark) Phase() Phase { return w.inner.Phase() }

// Lower returns the window's lower bound.
func (w *Watermark) Lower() *state.Bookmark { return w.cfg.Lower }

// Track folds one emitted record's replication key value into the window
// maximum and returns its bookmark.
func (w *Watermark) Track(value interface{}) (state.Bookmark, error) {
	b, err := state.BookmarkFromValue(w.cfg.Kind, value)
	if err != nil {
		return state.Bookmark{}, err
	}
	top, err := state.Max(w.observed, b)
	if err != nil {
		return state.Bookmark{}, err
	}
	w.observed = top
	return b, nil
}

// Admits reports whether a record with replication key value b belongs to
// the window. Without client filtering every record is admitted.
func (w *Watermark) Admits(b state.Bookmark) (bool, error) {
	if !w.cfg.Filter || w.cfg.Lower == nil || w.cfg.Lower.IsZero() {
		return true, nil
	}
	c, err := b.Compare(*w.cfg.Lower)
	if err != nil {
		return false, err
	}
	if w.cfg.Inclusive {
		return c >= 0, nil
	}
	return c > 0, nil
}

// Observed returns the highest value tracked so far, zero if none.
func (w *Watermark) Observed() state.Bookmark { return w.observed }

// Bookmark is max(lower bound, observed): the bookmark the window commits.
func (w *Watermark) Bookmark() (state.Bookmark, error) {
	var lower state.Bookmark
	if w.cfg.Lower != nil {
		lower = *w.cfg.Lower
	}
	return state.Max(lower, w.observed)
}

func (w *Watermark) Marker() state.ProgressMarker {
	m := w.inner.Marker()
	if !w.observed.IsZero() {
		b := w.observed
		m.PendingBookmark = &b
	}
	if w.cfg.Lower != nil {
		b := *w.cfg.Lower
		m.LowerBound = &b
	}
	return m
}

// Resume continues an interrupted window: the original lower bound and the
// values already observed are restored along with the position.
func (w *Watermark) Resume(m state.ProgressMarker) error {
	if err := w.inner.Resume(m); err != nil {
		return err
	}
	// The offset in m is only valid against the bound the window started
	// with. A marker without a lower bound came from an unbounded window.
	w.cfg.Lower = nil
	if m.LowerBound != nil {
		b := *m.LowerBound
		w.cfg.Lower = &b
	}
	w.applyBound()
	if m.PendingBookmark != nil {
		w.observed = *m.PendingBookmark
	}
	return nil
}

package paginate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

func pageOf(n int) *fetch.Page {
	p := &fetch.Page{}
	for i := 0; i < n; i++ {
		p.Records = append(p.Records, fetch.Record{"i": i})
	}
	return p
}

func TestOffsetPaginator(t *testing.T) {
	p := NewOffset("shops", 100)
	assert.Equal(t, PhaseStart, p.Phase())

	var offsets, pages []int
	for _, n := range []int{100, 100, 37} {
		spec, ok := p.Next()
		require.True(t, ok)
		assert.Equal(t, PhaseFetching, p.Phase())
		offsets = append(offsets, spec.Offset)
		pages = append(pages, spec.Page)
		require.NoError(t, p.Observe(pageOf(n)))
	}

	_, ok := p.Next()
	assert.False(t, ok)
	assert.Equal(t, PhaseExhausted, p.Phase())
	assert.Equal(t, []int{0, 100, 200}, offsets)
	assert.Equal(t, []int{0, 1, 2}, pages)
}

func TestOffsetEmptyFirstPage(t *testing.T) {
	p := NewOffset("shops", 10)
	_, ok := p.Next()
	require.True(t, ok)
	require.NoError(t, p.Observe(pageOf(0)))
	assert.Equal(t, PhaseExhausted, p.Phase())
}

func TestOffsetExplicitSignal(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name    string
		records int
		more    *bool
		want    Phase
	}{
		{name: "full page told to stop", records: 2, more: &no, want: PhaseExhausted},
		{name: "full page told to continue", records: 2, more: &yes, want: PhaseFetching},
		{name: "short page told to continue", records: 1, more: &yes, want: PhaseExhausted},
		{name: "empty page told to continue", records: 0, more: &yes, want: PhaseExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewOffset("shops", 2)
			_, _ = p.Next()
			page := pageOf(tt.records)
			page.HasMore = tt.more
			require.NoError(t, p.Observe(page))
			assert.Equal(t, tt.want, p.Phase())
		})
	}
}

func TestOffsetResume(t *testing.T) {
	p := NewOffset("sales", 500)
	require.NoError(t, p.Resume(state.ProgressMarker{Offset: 1500}))

	spec, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, 1500, spec.Offset)
	assert.Equal(t, 3, spec.Page)

	assert.Error(t, p.Resume(state.ProgressMarker{}), "resume after start")
}

func TestCursorPaginator(t *testing.T) {
	p := NewCursor("events", 2)
	var cursors []string
	for _, next := range []string{"t1", "t2", ""} {
		spec, ok := p.Next()
		require.True(t, ok)
		cursors = append(cursors, spec.Cursor)
		page := pageOf(2)
		page.NextCursor = next
		require.NoError(t, p.Observe(page))
	}
	_, ok := p.Next()
	assert.False(t, ok)
	assert.Equal(t, []string{"", "t1", "t2"}, cursors)
}

func TestCursorMustAdvance(t *testing.T) {
	p := NewCursor("events", 0)
	require.NoError(t, p.Resume(state.ProgressMarker{Cursor: "same"}))
	_, _ = p.Next()
	page := pageOf(1)
	page.NextCursor = "same"
	assert.Error(t, p.Observe(page))
}

func TestWatermark(t *testing.T) {
	lower := state.IntegerBookmark(10)
	w := NewWatermark(NewOffset("orders", 3), WatermarkConfig{Field: "id", Kind: state.KindInteger, Lower: &lower, Filter: true})

	spec, ok := w.Next()
	require.True(t, ok)
	require.NotNil(t, spec.Bound)
	assert.Equal(t, "id", spec.Bound.Field)
	assert.Equal(t, lower, spec.Bound.Value)
	assert.False(t, spec.Bound.Inclusive)

	for _, v := range []interface{}{9, 14, 12} {
		b, err := w.Track(v)
		require.NoError(t, err)
		admitted, err := w.Admits(b)
		require.NoError(t, err)
		assert.Equal(t, v != 9, admitted, "value %v", v)
	}
	require.NoError(t, w.Observe(pageOf(3)))

	bm, err := w.Bookmark()
	require.NoError(t, err)
	assert.Equal(t, state.IntegerBookmark(14), bm)

	m := w.Marker()
	assert.Equal(t, 3, m.Offset)
	assert.Equal(t, "14", m.PendingBookmark.Value)
	assert.Equal(t, "10", m.LowerBound.Value)
}

func TestWatermarkNeverDecreases(t *testing.T) {
	lower := state.IntegerBookmark(50)
	w := NewWatermark(NewOffset("orders", 3), WatermarkConfig{Field: "id", Kind: state.KindInteger, Lower: &lower})
	_, err := w.Track(20)
	require.NoError(t, err)

	bm, err := w.Bookmark()
	require.NoError(t, err)
	assert.Equal(t, lower, bm)
}

func TestWatermarkResume(t *testing.T) {
	orig := state.IntegerBookmark(5)
	pending := state.IntegerBookmark(40)
	committed := state.IntegerBookmark(30)

	tests := []struct {
		name      string
		lower     *state.Bookmark
		marker    state.ProgressMarker
		wantBound *state.Bookmark
	}{
		{
			name:      "bounded window keeps its original bound",
			marker:    state.ProgressMarker{Offset: 20, LowerBound: &orig, PendingBookmark: &pending},
			wantBound: &orig,
		},
		{
			name:      "original bound wins over the committed bookmark",
			lower:     &committed,
			marker:    state.ProgressMarker{Offset: 20, LowerBound: &orig, PendingBookmark: &pending},
			wantBound: &orig,
		},
		{
			name:   "unbounded window stays unbounded",
			lower:  &committed,
			marker: state.ProgressMarker{Offset: 20, PendingBookmark: &pending},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWatermark(NewOffset("orders", 10), WatermarkConfig{Field: "id", Kind: state.KindInteger, Lower: tt.lower})
			require.NoError(t, w.Resume(tt.marker))

			spec, ok := w.Next()
			require.True(t, ok)
			assert.Equal(t, 20, spec.Offset)
			if tt.wantBound == nil {
				assert.Nil(t, spec.Bound)
			} else {
				require.NotNil(t, spec.Bound)
				assert.Equal(t, *tt.wantBound, spec.Bound.Value)
			}
			assert.Equal(t, pending, w.Observed())

			b, err := w.Bookmark()
			require.NoError(t, err)
			assert.Equal(t, pending, b)
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{Stream: "s", Strategy: StrategyOffset})
	assert.Error(t, err)

	p, err := New(Config{Stream: "s", Strategy: StrategyCursor})
	require.NoError(t, err)
	assert.IsType(t, &Cursor{}, p)

	p, err = New(Config{Stream: "s", PageSize: 5, Watermark: &WatermarkConfig{Field: "k", Kind: state.KindToken}})
	require.NoError(t, err)
	assert.IsType(t, &Watermark{}, p)

	_, err = New(Config{Stream: "s", Strategy: "sideways"})
	assert.Error(t, err)
}

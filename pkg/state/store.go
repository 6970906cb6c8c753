package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/metrics"
)

// ErrBookmarkRegression is returned by Advance when a bookmark would move
// backwards.
var ErrBookmarkRegression = fmt.Errorf("bookmark regression")

// Update is an in-memory change to one stream's slot.
type Update struct {
	ReplicationKey string
	// Bookmark, when set, becomes the committed bookmark. It must not be
	// older than the current one.
	Bookmark *Bookmark
	// Progress replaces the progress marker when set.
	Progress *ProgressMarker
	// ClearProgress removes the progress marker.
	ClearProgress bool
	// Status, when set, replaces the status.
	Status Status
}

type slot struct {
	mu    sync.Mutex
	state StreamState
	owned bool
}

// Store is the shared state of a run. Advance on one stream never blocks
// Advance on another; Persist calls are serialized.
type Store struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.RWMutex
	slots map[string]*slot

	persistMu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used for UpdatedAt.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store over backend.
func NewStore(backend Backend, logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		logger:  logger.With(zap.String("component", "state_store"), zap.String("backend", backend.Name())),
		now:     time.Now,
		slots:   make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted document. A missing document is an empty state.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.backend.Load(ctx)
	if err != nil {
		return &errors.StateError{Op: "load", Cause: err}
	}
	st, err := Decode(data)
	if err != nil {
		return &errors.StateError{Op: "load", Cause: err}
	}
	s.Seed(st)
	s.logger.Info("state loaded", zap.Int("streams", len(st.Streams)))
	return nil
}

// Seed replaces the in-memory state with st.
func (s *Store) Seed(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[string]*slot, len(st.Streams))
	for id, ss := range st.Streams {
		s.slots[id] = &slot{state: ss.clone()}
	}
}

func (s *Store) slot(stream string) *slot {
	s.mu.RLock()
	sl, ok := s.slots[stream]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[stream]; !ok {
		sl = &slot{}
		s.slots[stream] = sl
	}
	return sl
}

// Acquire claims the stream's slot for one writer.
func (s *Store) Acquire(stream string) error {
	sl := s.slot(stream)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.owned {
		return errors.Newf(errors.ErrorTypeConflict, "stream %s is already being synced", stream)
	}
	sl.owned = true
	return nil
}

// Release gives up the stream's slot.
func (s *Store) Release(stream string) {
	sl := s.slot(stream)
	sl.mu.Lock()
	sl.owned = false
	sl.mu.Unlock()
}

// Get returns a copy of the stream's state.
func (s *Store) Get(stream string) (StreamState, bool) {
	s.mu.RLock()
	sl, ok := s.slots[stream]
	s.mu.RUnlock()
	if !ok {
		return StreamState{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.state.clone(), true
}

// Advance applies u to the stream's slot in memory.
func (s *Store) Advance(stream string, u Update) error {
	sl := s.slot(stream)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	next := sl.state.clone()
	if u.ReplicationKey != "" && u.ReplicationKey != next.ReplicationKey {
		// A bookmark on another key says nothing about this one.
		if next.ReplicationKey != "" {
			next.Bookmark = nil
			next.Progress = nil
		}
		next.ReplicationKey = u.ReplicationKey
	}
	if u.Bookmark != nil {
		if next.Bookmark != nil && !next.Bookmark.IsZero() {
			c, err := u.Bookmark.Compare(*next.Bookmark)
			if err != nil {
				return fmt.Errorf("stream %s: %w", stream, err)
			}
			if c < 0 {
				return fmt.Errorf("stream %s: %w: %s < %s", stream, ErrBookmarkRegression, u.Bookmark.Value, next.Bookmark.Value)
			}
		}
		b := *u.Bookmark
		next.Bookmark = &b
	}
	if u.ClearProgress {
		next.Progress = nil
	}
	if u.Progress != nil {
		p := *u.Progress
		next.Progress = &p
	}
	if u.Status != "" {
		next.Status = u.Status
	}
	next.UpdatedAt = s.now().UTC()

	sl.state = next
	return nil
}

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := New()
	for id, sl := range s.slots {
		sl.mu.Lock()
		st := sl.state.clone()
		sl.mu.Unlock()
		if st.UpdatedAt.IsZero() && st.Bookmark == nil && st.Progress == nil && st.Status == "" {
			continue
		}
		out.Streams[id] = st
	}
	return out
}

// Persist writes a snapshot through the backend. Concurrent calls are
// serialized; each writes a complete document.
func (s *Store) Persist(ctx context.Context) error {
	return s.Checkpoint(ctx, nil)
}

// Checkpoint persists a snapshot and, once it is durable, passes the same
// snapshot to announce while still holding the persist lock. Announcements
// therefore reach the output in persist order. An announce error is returned
// as is; the snapshot stays persisted.
func (s *Store) Checkpoint(ctx context.Context, announce func(*State) error) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snap := s.Snapshot()
	data, err := Encode(snap)
	if err != nil {
		metrics.StatePersists.WithLabelValues("error").Inc()
		return &errors.StateError{Op: "persist", Cause: err}
	}
	if err := s.backend.Save(ctx, data); err != nil {
		metrics.StatePersists.WithLabelValues("error").Inc()
		s.logger.Error("state persist failed", zap.Error(err))
		return &errors.StateError{Op: "persist", Cause: err}
	}
	metrics.StatePersists.WithLabelValues("ok").Inc()
	if announce != nil {
		return announce(snap)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

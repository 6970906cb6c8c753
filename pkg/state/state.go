// Package state tracks replication progress per stream.
//
// A Store holds one slot per stream. Synchronizers Advance their own slot
// after each page and Persist the whole document through a Backend. The
// persisted document is versioned JSON; the Singer SDK "bookmarks" layout is
// accepted on load.
package state

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ajitpratap0/tap-tilroy/pkg/json"
)

// CurrentVersion is the layout written by Encode.
const CurrentVersion = 2

// Status is the lifecycle of a stream's sync.
type Status string

const (
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusInterrupted Status = "INTERRUPTED"
)

// Terminal reports whether s ends a sync.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusInterrupted
}

// ProgressMarker records how far an unfinished sync got.
type ProgressMarker struct {
	// PendingBookmark is the max replication key seen so far. It becomes the
	// bookmark only when the sync completes.
	PendingBookmark *Bookmark `json:"pending_bookmark,omitempty"`
	// LowerBound is the filter the interrupted window was started with.
	LowerBound *Bookmark `json:"lower_bound,omitempty"`
	Page       int       `json:"page,omitempty"`
	Offset     int       `json:"offset,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
}

// StreamState is the persisted progress of one stream.
type StreamState struct {
	ReplicationKey string          `json:"replication_key,omitempty"`
	Bookmark       *Bookmark       `json:"bookmark,omitempty"`
	Progress       *ProgressMarker `json:"progress,omitempty"`
	Status         Status          `json:"status,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (s StreamState) clone() StreamState {
	c := s
	if s.Bookmark != nil {
		b := *s.Bookmark
		c.Bookmark = &b
	}
	if s.Progress != nil {
		p := *s.Progress
		if p.PendingBookmark != nil {
			b := *p.PendingBookmark
			p.PendingBookmark = &b
		}
		if p.LowerBound != nil {
			b := *p.LowerBound
			p.LowerBound = &b
		}
		c.Progress = &p
	}
	return c
}

// State is the full persisted document.
type State struct {
	Version int                    `json:"version"`
	Streams map[string]StreamState `json:"streams"`
}

// New returns an empty state.
func New() *State {
	return &State{Version: CurrentVersion, Streams: make(map[string]StreamState)}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{Version: s.Version, Streams: make(map[string]StreamState, len(s.Streams))}
	for id, st := range s.Streams {
		c.Streams[id] = st.clone()
	}
	return c
}

// StreamIDs returns stream ids in sorted order.
func (s *State) StreamIDs() []string {
	ids := make([]string, 0, len(s.Streams))
	for id := range s.Streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Encode serializes s in the current layout.
func Encode(s *State) ([]byte, error) {
	out := s.Clone()
	out.Version = CurrentVersion
	return json.Marshal(out)
}

// envelope covers every layout Decode understands.
type envelope struct {
	Version   int                       `json:"version"`
	Streams   map[string]StreamState    `json:"streams"`
	Bookmarks map[string]legacyBookmark `json:"bookmarks"`
	Type      string                    `json:"type"`
	Value     json.RawMessage           `json:"value"`
}

type legacyBookmark struct {
	ReplicationKey      string      `json:"replication_key"`
	ReplicationKeyValue interface{} `json:"replication_key_value"`
}

// Decode parses a persisted document. Empty input yields an empty state.
// Unknown fields are ignored.
func Decode(data []byte) (*State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}

	var env envelope
	if err := json.UnmarshalUseNumber(data, &env); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	// A saved STATE message: unwrap its value.
	if env.Type == "STATE" && len(env.Value) > 0 {
		return Decode(env.Value)
	}

	switch {
	case env.Version > CurrentVersion:
		return nil, fmt.Errorf("unsupported state version %d", env.Version)
	case env.Version >= 2:
		s := New()
		for id, st := range env.Streams {
			s.Streams[id] = st
		}
		return s, nil
	default:
		return decodeLegacy(env.Bookmarks)
	}
}

func decodeLegacy(bookmarks map[string]legacyBookmark) (*State, error) {
	s := New()
	for id, lb := range bookmarks {
		st := StreamState{ReplicationKey: lb.ReplicationKey, Status: StatusCompleted}
		if lb.ReplicationKeyValue != nil {
			b, err := legacyValue(lb.ReplicationKeyValue)
			if err != nil {
				return nil, fmt.Errorf("stream %s: %w", id, err)
			}
			st.Bookmark = &b
		}
		s.Streams[id] = st
	}
	return s, nil
}

func legacyValue(v interface{}) (Bookmark, error) {
	switch x := v.(type) {
	case json.Number:
		return BookmarkFromValue(KindInteger, x)
	case string:
		if t, err := ParseTimestamp(x); err == nil {
			return TimestampBookmark(t), nil
		}
		return TokenBookmark(x), nil
	default:
		return Bookmark{}, fmt.Errorf("unsupported replication_key_value %T", v)
	}
}

package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		check   func(t *testing.T, s *State)
		wantErr bool
	}{
		{
			name:  "empty input",
			input: "  ",
			check: func(t *testing.T, s *State) {
				assert.Empty(t, s.Streams)
				assert.Equal(t, CurrentVersion, s.Version)
			},
		},
		{
			name: "current layout ignores unknown fields",
			input: `{"version":2,"extra":true,"streams":{"sales":{"replication_key":"saleDate",
				"bookmark":{"kind":"timestamp","value":"2024-01-01T00:00:00Z"},"status":"COMPLETED","future":1,
				"updated_at":"2024-01-01T00:00:00Z"}}}`,
			check: func(t *testing.T, s *State) {
				st := s.Streams["sales"]
				require.NotNil(t, st.Bookmark)
				assert.Equal(t, KindTimestamp, st.Bookmark.Kind)
				assert.Equal(t, StatusCompleted, st.Status)
			},
		},
		{
			name: "sdk bookmarks layout",
			input: `{"bookmarks":{"sales":{"replication_key":"saleDate","replication_key_value":"2024-02-03T04:05:06+00:00"},
				"events":{"replication_key":"id","replication_key_value":17},
				"shops":{}}}`,
			check: func(t *testing.T, s *State) {
				require.Len(t, s.Streams, 3)
				assert.Equal(t, &Bookmark{Kind: KindTimestamp, Value: "2024-02-03T04:05:06Z"}, s.Streams["sales"].Bookmark)
				assert.Equal(t, &Bookmark{Kind: KindInteger, Value: "17"}, s.Streams["events"].Bookmark)
				assert.Nil(t, s.Streams["shops"].Bookmark)
			},
		},
		{
			name:  "saved state message",
			input: `{"type":"STATE","value":{"version":2,"streams":{"a":{"bookmark":{"kind":"token","value":"x"}}}}}`,
			check: func(t *testing.T, s *State) {
				assert.Equal(t, "x", s.Streams["a"].Bookmark.Value)
			},
		},
		{
			name:    "newer version",
			input:   `{"version":3,"streams":{}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `{"version":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	b := IntegerBookmark(5)
	s := New()
	s.Streams["a"] = StreamState{
		Bookmark: &b,
		Progress: &ProgressMarker{PendingBookmark: &b, Offset: 10},
	}

	c := s.Clone()
	c.Streams["a"].Bookmark.Value = "6"
	c.Streams["a"].Progress.PendingBookmark.Value = "7"

	assert.Equal(t, "5", s.Streams["a"].Bookmark.Value)
	assert.Equal(t, "5", s.Streams["a"].Progress.PendingBookmark.Value)
}

func TestEncodeDecode(t *testing.T) {
	b := TimestampBookmark(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New()
	s.Streams["sales"] = StreamState{ReplicationKey: "saleDate", Bookmark: &b, Status: StatusFailed,
		Progress: &ProgressMarker{Page: 3, Offset: 1500, LowerBound: &b}}

	data, err := Encode(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":2`)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 1500, back.Streams["sales"].Progress.Offset)
	assert.Equal(t, b, *back.Streams["sales"].Progress.LowerBound)
}

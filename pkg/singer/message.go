// Package singer models the messages a tap writes to its output stream.
package singer

import (
	"time"

	"github.com/ajitpratap0/tap-tilroy/pkg/json"
)

// MessageType is the Singer message discriminator.
type MessageType string

const (
	TypeSchema MessageType = "SCHEMA"
	TypeRecord MessageType = "RECORD"
	TypeState  MessageType = "STATE"
)

// Message is one line of tap output.
type Message struct {
	Type               MessageType
	Stream             string
	Record             map[string]interface{}
	TimeExtracted      *time.Time
	Schema             interface{}
	KeyProperties      []string
	BookmarkProperties []string
	Value              interface{}
}

type schemaLine struct {
	Type               MessageType `json:"type"`
	Stream             string      `json:"stream"`
	Schema             interface{} `json:"schema"`
	KeyProperties      []string    `json:"key_properties"`
	BookmarkProperties []string    `json:"bookmark_properties,omitempty"`
}

type recordLine struct {
	Type          MessageType            `json:"type"`
	Stream        string                 `json:"stream"`
	Record        map[string]interface{} `json:"record"`
	TimeExtracted *time.Time             `json:"time_extracted,omitempty"`
}

type stateLine struct {
	Type  MessageType `json:"type"`
	Value interface{} `json:"value"`
}

// MarshalJSON writes the canonical shape for each message type; SCHEMA keeps
// an empty key_properties array.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeSchema:
		keys := m.KeyProperties
		if keys == nil {
			keys = []string{}
		}
		return json.Marshal(schemaLine{m.Type, m.Stream, m.Schema, keys, m.BookmarkProperties})
	case TypeRecord:
		return json.Marshal(recordLine{m.Type, m.Stream, m.Record, m.TimeExtracted})
	default:
		return json.Marshal(stateLine{m.Type, m.Value})
	}
}

// NewSchema announces a stream's schema.
func NewSchema(stream string, schema interface{}, keys, bookmarks []string) Message {
	return Message{
		Type:               TypeSchema,
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keys,
		BookmarkProperties: bookmarks,
	}
}

// NewRecord wraps one validated record. A zero extracted time is omitted.
func NewRecord(stream string, record map[string]interface{}, extracted time.Time) Message {
	m := Message{Type: TypeRecord, Stream: stream, Record: record}
	if !extracted.IsZero() {
		t := extracted.UTC()
		m.TimeExtracted = &t
	}
	return m
}

// NewState wraps a full state snapshot.
func NewState(value interface{}) Message {
	return Message{Type: TypeState, Value: value}
}

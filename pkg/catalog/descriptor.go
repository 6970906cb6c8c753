// Package catalog is the explicit registry of streams a tap can extract.
//
// Every stream is described once, at startup, by a StreamDescriptor. The
// Registry tracks which streams are selected for a run, applies per-stream
// configuration overrides, and converts to and from the Singer catalog
// document used by --discover and --catalog.
package catalog

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/paginate"
	"github.com/ajitpratap0/tap-tilroy/pkg/schema"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// ReplicationMethod selects how a stream is synced.
type ReplicationMethod string

const (
	FullTable   ReplicationMethod = "FULL_TABLE"
	Incremental ReplicationMethod = "INCREMENTAL"
	LogBased    ReplicationMethod = "LOG_BASED"
)

// ParseReplicationMethod accepts any case; empty yields "".
func ParseReplicationMethod(s string) (ReplicationMethod, error) {
	m := ReplicationMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case "", FullTable, Incremental, LogBased:
		return m, nil
	}
	return "", fmt.Errorf("unknown replication method %q", s)
}

// TransformFunc reshapes a raw record before validation. Returning false
// drops the record.
type TransformFunc func(rec fetch.Record) (fetch.Record, bool)

// StreamDescriptor describes one extractable stream.
type StreamDescriptor struct {
	ID            string
	Schema        *schema.Schema
	KeyProperties []string

	ReplicationMethod ReplicationMethod
	// ReplicationKey is required for INCREMENTAL streams.
	ReplicationKey string
	BookmarkKind   state.BookmarkKind
	// Sorted means records arrive in ascending replication key order, so the
	// bookmark may advance after every page instead of at stream end.
	Sorted bool
	// StrictlyIncremental means values equal to the bookmark were already
	// delivered: the source is asked for values > bookmark and the client
	// drops anything at or below it.
	StrictlyIncremental bool

	Strategy paginate.Strategy
	PageSize int

	// Exactly one of Endpoint or Query is set for streams built by the tap.
	Endpoint *fetch.HTTPEndpoint
	Query    *fetch.SQLQuery

	Transform TransformFunc
	// Selected is the default selection when no catalog is supplied.
	Selected bool
}

// IsIncremental reports whether the stream keeps a bookmark.
func (d *StreamDescriptor) IsIncremental() bool {
	return d.ReplicationMethod == Incremental
}

// Validate checks the descriptor is self consistent.
func (d *StreamDescriptor) Validate() error {
	if d.ID == "" {
		return errors.New(errors.ErrorTypeConfig, "stream id is required")
	}
	if d.Schema == nil || !d.Schema.Allows(schema.TypeObject) {
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: schema must be an object", d.ID)
	}
	for _, key := range d.KeyProperties {
		if _, ok := d.Schema.Properties[key]; !ok {
			return errors.Newf(errors.ErrorTypeConfig, "stream %s: key property %q is not in the schema", d.ID, key)
		}
	}
	switch d.ReplicationMethod {
	case FullTable, LogBased:
	case Incremental:
		if d.ReplicationKey == "" {
			return errors.Newf(errors.ErrorTypeConfig, "stream %s: INCREMENTAL replication requires a replication key", d.ID)
		}
		if _, ok := d.Schema.Properties[d.ReplicationKey]; !ok {
			return errors.Newf(errors.ErrorTypeConfig, "stream %s: replication key %q is not in the schema", d.ID, d.ReplicationKey)
		}
		switch d.BookmarkKind {
		case state.KindTimestamp, state.KindInteger, state.KindToken:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "stream %s: unknown bookmark kind %q", d.ID, d.BookmarkKind)
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: unknown replication method %q", d.ID, d.ReplicationMethod)
	}
	if d.Endpoint != nil && d.Query != nil {
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: endpoint and query are mutually exclusive", d.ID)
	}
	if d.PageSize < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: page size cannot be negative", d.ID)
	}
	return nil
}

// BookmarkProperties returns the SCHEMA message bookmark_properties.
func (d *StreamDescriptor) BookmarkProperties() []string {
	if d.IsIncremental() {
		return []string{d.ReplicationKey}
	}
	return nil
}

// PaginatorConfig builds the paginator for one sync window. lower is the
// committed bookmark, or the start date on a first sync.
func (d *StreamDescriptor) PaginatorConfig(lower *state.Bookmark) paginate.Config {
	cfg := paginate.Config{
		Stream:   d.ID,
		Strategy: d.Strategy,
		PageSize: d.PageSize,
	}
	if d.IsIncremental() {
		cfg.Watermark = &paginate.WatermarkConfig{
			Field:     d.ReplicationKey,
			Kind:      d.BookmarkKind,
			Lower:     lower,
			Inclusive: !d.StrictlyIncremental,
			Filter:    d.StrictlyIncremental,
		}
	}
	return cfg
}

func (d *StreamDescriptor) clone() *StreamDescriptor {
	c := *d
	c.KeyProperties = append([]string(nil), d.KeyProperties...)
	return &c
}

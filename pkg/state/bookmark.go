package state

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-tilroy/pkg/json"
)

// BookmarkKind selects how bookmark values are ordered.
type BookmarkKind string

const (
	KindTimestamp BookmarkKind = "timestamp"
	KindInteger   BookmarkKind = "integer"
	KindToken     BookmarkKind = "token"
)

// Bookmark is a replication position. Value is stored canonically:
// RFC3339Nano UTC for timestamps, base 10 for integers, verbatim for tokens.
type Bookmark struct {
	Kind  BookmarkKind `json:"kind"`
	Value string       `json:"value"`
}

// TimestampBookmark returns a timestamp bookmark for t.
func TimestampBookmark(t time.Time) Bookmark {
	return Bookmark{Kind: KindTimestamp, Value: t.UTC().Format(time.RFC3339Nano)}
}

// IntegerBookmark returns an integer bookmark for n.
func IntegerBookmark(n int64) Bookmark {
	return Bookmark{Kind: KindInteger, Value: strconv.FormatInt(n, 10)}
}

// TokenBookmark returns an opaque token bookmark.
func TokenBookmark(s string) Bookmark {
	return Bookmark{Kind: KindToken, Value: s}
}

// IsZero reports whether b holds no position.
func (b Bookmark) IsZero() bool {
	return b.Value == ""
}

// Time parses a timestamp bookmark.
func (b Bookmark) Time() (time.Time, error) {
	return ParseTimestamp(b.Value)
}

// Int parses an integer bookmark.
func (b Bookmark) Int() (int64, error) {
	return strconv.ParseInt(b.Value, 10, 64)
}

// Compare orders b against other: timestamps chronologically, integers
// numerically, tokens lexicographically. Kinds must match.
func (b Bookmark) Compare(other Bookmark) (int, error) {
	if b.Kind != other.Kind {
		return 0, fmt.Errorf("cannot compare %s bookmark with %s bookmark", b.Kind, other.Kind)
	}
	switch b.Kind {
	case KindTimestamp:
		x, err := b.Time()
		if err != nil {
			return 0, err
		}
		y, err := other.Time()
		if err != nil {
			return 0, err
		}
		return x.Compare(y), nil
	case KindInteger:
		x, err := b.Int()
		if err != nil {
			return 0, err
		}
		y, err := other.Int()
		if err != nil {
			return 0, err
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	default:
		return strings.Compare(b.Value, other.Value), nil
	}
}

// Max returns the later of a and b. A zero bookmark loses to any other.
func Max(a, b Bookmark) (Bookmark, error) {
	if a.IsZero() {
		return b, nil
	}
	if b.IsZero() {
		return a, nil
	}
	c, err := a.Compare(b)
	if err != nil {
		return Bookmark{}, err
	}
	if c >= 0 {
		return a, nil
	}
	return b, nil
}

// BookmarkFromValue converts a record's replication key value.
func BookmarkFromValue(kind BookmarkKind, v interface{}) (Bookmark, error) {
	if v == nil {
		return Bookmark{}, fmt.Errorf("replication key value is null")
	}
	switch kind {
	case KindTimestamp:
		switch x := v.(type) {
		case time.Time:
			return TimestampBookmark(x), nil
		case string:
			t, err := ParseTimestamp(x)
			if err != nil {
				return Bookmark{}, err
			}
			return TimestampBookmark(t), nil
		}
	case KindInteger:
		switch x := v.(type) {
		case int:
			return IntegerBookmark(int64(x)), nil
		case int64:
			return IntegerBookmark(x), nil
		case float64:
			if x == math.Trunc(x) {
				return IntegerBookmark(int64(x)), nil
			}
		case json.Number:
			n, err := x.Int64()
			if err != nil {
				return Bookmark{}, err
			}
			return IntegerBookmark(n), nil
		case string:
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return Bookmark{}, err
			}
			return IntegerBookmark(n), nil
		}
	case KindToken:
		return TokenBookmark(fmt.Sprint(v)), nil
	}
	return Bookmark{}, fmt.Errorf("cannot use %T as %s bookmark", v, kind)
}

// TimestampLayouts are the accepted date-time forms, tried in order. Record
// coercion and timestamp bookmarks share them so any value a schema accepts
// can become a bookmark.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses s with the first matching layout and returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range TimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp bookmark %q", s)
}

package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/json"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// Validate checks record against root and returns a coerced copy holding
// only the fields root declares. keys names the stream's primary key
// properties; each must be present and non-null.
//
// Validate is pure: record is not modified.
func Validate(stream string, root *Schema, keys []string, record map[string]interface{}) (map[string]interface{}, error) {
	for _, key := range keys {
		if v, ok := record[key]; !ok || v == nil {
			return nil, &errors.ValidationError{Stream: stream, Path: key, Reason: errors.ReasonMissingKey}
		}
	}

	out, verr := validateObject(root, record, "")
	if verr != nil {
		verr.Stream = stream
		return nil, verr
	}
	return out, nil
}

func validateObject(s *Schema, record map[string]interface{}, prefix string) (map[string]interface{}, *errors.ValidationError) {
	out := make(map[string]interface{}, len(s.Properties))

	for _, name := range s.Required {
		if v, ok := record[name]; !ok || v == nil {
			return nil, &errors.ValidationError{Path: join(prefix, name), Reason: errors.ReasonMissingRequired}
		}
	}

	for name, value := range record {
		child, ok := s.Properties[name]
		if !ok {
			continue
		}
		coerced, verr := validateValue(child, value, join(prefix, name))
		if verr != nil {
			return nil, verr
		}
		if coerced == nil && s.IsRequired(name) {
			return nil, &errors.ValidationError{Path: join(prefix, name), Reason: errors.ReasonMissingRequired}
		}
		out[name] = coerced
	}
	return out, nil
}

func validateValue(s *Schema, value interface{}, path string) (interface{}, *errors.ValidationError) {
	if value == nil {
		if s.Nullable() || len(s.Types) == 0 {
			return nil, nil
		}
		return nil, mismatch(path, "null is not allowed")
	}
	if len(s.Types) == 0 {
		// an untyped node accepts anything
		return value, nil
	}

	switch v := value.(type) {
	case map[string]interface{}:
		if !s.Allows(TypeObject) {
			return nil, mismatch(path, "object is not allowed")
		}
		if s.Properties == nil {
			return v, nil
		}
		return validateObject(s, v, path)
	case []interface{}:
		if !s.Allows(TypeArray) {
			return nil, mismatch(path, "array is not allowed")
		}
		if s.Items == nil {
			return v, nil
		}
		items := make([]interface{}, len(v))
		for i, item := range v {
			coerced, verr := validateValue(s.Items, item, fmt.Sprintf("%s[%d]", path, i))
			if verr != nil {
				return nil, verr
			}
			items[i] = coerced
		}
		return items, nil
	case string:
		return coerceString(s, v, path)
	case []byte:
		return coerceString(s, string(v), path)
	case bool:
		return coerceBool(s, v, path)
	case time.Time:
		if s.Allows(TypeString) {
			return formatTime(s, v), nil
		}
		return nil, mismatch(path, "timestamp is not allowed")
	case json.Number:
		return coerceNumber(s, string(v), path)
	case float64:
		return coerceNumber(s, strconv.FormatFloat(v, 'f', -1, 64), path)
	case float32:
		return coerceNumber(s, strconv.FormatFloat(float64(v), 'f', -1, 32), path)
	case int:
		return coerceNumber(s, strconv.FormatInt(int64(v), 10), path)
	case int32:
		return coerceNumber(s, strconv.FormatInt(int64(v), 10), path)
	case int64:
		return coerceNumber(s, strconv.FormatInt(v, 10), path)
	case uint64:
		return coerceNumber(s, strconv.FormatUint(v, 10), path)
	default:
		return nil, mismatch(path, fmt.Sprintf("unsupported value type %T", value))
	}
}

func coerceString(s *Schema, v string, path string) (interface{}, *errors.ValidationError) {
	if s.Allows(TypeString) {
		if s.Format != FormatDateTime && s.Format != FormatDate {
			return v, nil
		}
		if t, ok := parseTime(v); ok {
			return formatTime(s, t), nil
		}
		if v == "" && s.Nullable() {
			return nil, nil
		}
		if !s.Allows(TypeNumber) && !s.Allows(TypeInteger) {
			return nil, mismatch(path, fmt.Sprintf("%q is not a valid %s", v, s.Format))
		}
	}

	trimmed := strings.TrimSpace(v)
	if s.Allows(TypeInteger) || s.Allows(TypeNumber) {
		if trimmed == "" && s.Nullable() {
			return nil, nil
		}
		if out, verr := coerceNumber(s, trimmed, path); verr == nil {
			return out, nil
		}
	}
	if s.Allows(TypeBoolean) {
		if b, err := strconv.ParseBool(trimmed); err == nil {
			return b, nil
		}
	}
	return nil, mismatch(path, fmt.Sprintf("string %q does not match %s", v, typeList(s)))
}

// coerceNumber receives the textual form of a numeric value.
func coerceNumber(s *Schema, text string, path string) (interface{}, *errors.ValidationError) {
	if s.Allows(TypeInteger) {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
	}
	if s.Allows(TypeNumber) {
		if _, err := strconv.ParseFloat(text, 64); err == nil {
			return json.Number(text), nil
		}
	}
	if s.Allows(TypeString) && s.Format == "" {
		if _, err := strconv.ParseFloat(text, 64); err == nil {
			return text, nil
		}
	}
	return nil, mismatch(path, fmt.Sprintf("%q does not match %s", text, typeList(s)))
}

func coerceBool(s *Schema, v bool, path string) (interface{}, *errors.ValidationError) {
	switch {
	case s.Allows(TypeBoolean):
		return v, nil
	case s.Allows(TypeString) && s.Format == "":
		return strconv.FormatBool(v), nil
	default:
		return nil, mismatch(path, fmt.Sprintf("boolean does not match %s", typeList(s)))
	}
}

func parseTime(v string) (time.Time, bool) {
	t, err := state.ParseTimestamp(v)
	return t, err == nil
}

func formatTime(s *Schema, t time.Time) string {
	if s.Format == FormatDate {
		return t.UTC().Format("2006-01-02")
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func mismatch(path, detail string) *errors.ValidationError {
	return &errors.ValidationError{Path: path, Reason: errors.ReasonTypeMismatch, Detail: detail}
}

func typeList(s *Schema) string {
	names := make([]string, len(s.Types))
	for i, t := range s.Types {
		names[i] = string(t)
	}
	return strings.Join(names, "|")
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

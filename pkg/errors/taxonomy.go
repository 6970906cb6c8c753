package errors

import (
	"fmt"
	"time"
)

// ValidationReason classifies why a record failed schema validation.
type ValidationReason string

const (
	// ReasonMissingRequired is a required field absent or null after coercion.
	ReasonMissingRequired ValidationReason = "missing_required"
	// ReasonMissingKey is a primary key property absent or null.
	ReasonMissingKey ValidationReason = "missing_key"
	// ReasonTypeMismatch is a value that could not be coerced to its declared type.
	ReasonTypeMismatch ValidationReason = "type_mismatch"
)

// ValidationError is a record-level failure tagged with the offending field path.
type ValidationError struct {
	Stream string
	Path   string
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation: stream %q field %q: %s: %s", e.Stream, e.Path, e.Reason, e.Detail)
	}
	return fmt.Sprintf("validation: stream %q field %q: %s", e.Stream, e.Path, e.Reason)
}

// Structural reports whether the failure concerns a required or key field.
func (e *ValidationError) Structural() bool {
	return e.Reason == ReasonMissingRequired || e.Reason == ReasonMissingKey
}

// FetchKind distinguishes request-level failures.
type FetchKind string

const (
	FetchAuth        FetchKind = "AUTH"
	FetchRateLimit   FetchKind = "RATE_LIMIT"
	FetchClientError FetchKind = "CLIENT_ERROR"
	FetchServerError FetchKind = "SERVER_ERROR"
	FetchTransport   FetchKind = "TRANSPORT"
)

// FetchError is returned by request executors once a fetch cannot succeed.
type FetchError struct {
	Kind       FetchKind
	Stream     string
	StatusCode int
	Attempts   int
	// RetryAfter is the server supplied delay hint, zero when absent.
	RetryAfter time.Duration
	Message    string
	Cause      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s", e.Kind)
	if e.Stream != "" {
		msg += fmt.Sprintf(" (stream %s)", e.Stream)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the kind may succeed on a later attempt.
// AUTH is excluded: it is recovered by re-authentication, not backoff.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchRateLimit, FetchServerError, FetchTransport:
		return true
	default:
		return false
	}
}

// StateError is a persistence failure. It is always fatal for the run.
type StateError struct {
	Op    string
	Cause error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.Op, e.Cause)
}

func (e *StateError) Unwrap() error {
	return e.Cause
}

// KindOf returns a short label for err suitable for per-stream reporting.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if As(err, &fe) {
		return string(fe.Kind)
	}
	var ve *ValidationError
	if As(err, &ve) {
		return "VALIDATION"
	}
	var se *StateError
	if As(err, &se) {
		return "STATE"
	}
	if IsType(err, ErrorTypeCredential) {
		return string(FetchAuth)
	}
	return string(GetType(err))
}

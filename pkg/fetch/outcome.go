package fetch

import (
	"time"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

// Disposition tells the retry loop what to do with an attempt.
type Disposition int

const (
	DispositionOK Disposition = iota
	DispositionRetryable
	DispositionFatal
)

func (d Disposition) String() string {
	switch d {
	case DispositionOK:
		return "ok"
	case DispositionRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Outcome is the result of a single attempt.
type Outcome struct {
	Disposition Disposition
	Page        *Page
	Err         error
	// RetryAfter overrides the computed backoff when positive.
	RetryAfter time.Duration
}

// Ok wraps a successful page.
func Ok(p *Page) Outcome {
	return Outcome{Disposition: DispositionOK, Page: p}
}

// Retryable wraps a transient failure.
func Retryable(err *errors.FetchError) Outcome {
	return Outcome{Disposition: DispositionRetryable, Err: err, RetryAfter: err.RetryAfter}
}

// Fatal wraps a failure that backoff cannot fix.
func Fatal(err error) Outcome {
	return Outcome{Disposition: DispositionFatal, Err: err}
}

// Label names the outcome for metrics: "ok" or the failure kind.
func (o Outcome) Label() string {
	if o.Disposition == DispositionOK {
		return "ok"
	}
	if kind := errors.KindOf(o.Err); kind != "" {
		return kind
	}
	return o.Disposition.String()
}

func (o Outcome) isAuth() bool {
	var fe *errors.FetchError
	return errors.As(o.Err, &fe) && fe.Kind == errors.FetchAuth
}

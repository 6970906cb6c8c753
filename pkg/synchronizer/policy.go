package synchronizer

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

// Policy decides what an invalid record does to the sync.
type Policy string

const (
	// PolicyDefault skips type mismatches and aborts on missing required or
	// key fields.
	PolicyDefault Policy = "default"
	// PolicySkip skips every invalid record.
	PolicySkip Policy = "skip"
	// PolicyAbort fails the stream on the first invalid record.
	PolicyAbort Policy = "abort"
)

// ParsePolicy maps a configuration value to a Policy. Empty is default.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyDefault, nil
	case PolicyDefault, PolicySkip, PolicyAbort:
		return p, nil
	}
	return "", fmt.Errorf("unknown validation policy %q", s)
}

// Skips reports whether a record failing with verr is dropped rather than
// failing the stream.
func (p Policy) Skips(verr *errors.ValidationError) bool {
	switch p {
	case PolicySkip:
		return true
	case PolicyAbort:
		return false
	default:
		return !verr.Structural()
	}
}

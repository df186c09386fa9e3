package home

import (
	"errors"
	"fmt"
)

// Reason classifies why identity resolution failed.
type Reason string

const (
	// NotInstalled means no marker file exists under the agent home.
	// Fatal; retrying cannot help.
	NotInstalled Reason = "not_installed"
	// NotYetVisible means the agent is known locally but the server
	// does not report it yet. Transient; callers retry with a bound.
	NotYetVisible Reason = "not_yet_visible"
	// AuthFailed means the authentication call was rejected.
	AuthFailed Reason = "auth_failed"
)

// ResolutionError reports a failed identity resolution.
type ResolutionError struct {
	Reason Reason
	Home   string
	Err    error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("identity resolution failed (%s): %s", e.Reason, e.Home)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient resolution failure.
func IsRetryable(err error) bool {
	var resErr *ResolutionError
	return errors.As(err, &resErr) && resErr.Reason == NotYetVisible
}

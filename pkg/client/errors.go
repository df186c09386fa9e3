package client

import (
	"errors"
	"fmt"
)

// FailureKind classifies an API failure.
type FailureKind string

const (
	// KindUnauthorized covers HTTP 401 and 403.
	KindUnauthorized FailureKind = "unauthorized"
	// KindNotFound covers HTTP 404 and unresolvable lookups.
	KindNotFound FailureKind = "not_found"
	// KindServerError covers HTTP 5xx.
	KindServerError FailureKind = "server_error"
	// KindUnreachable covers transport-level failures.
	KindUnreachable FailureKind = "unreachable"
	// KindMalformedResponse covers undecodable response bodies.
	KindMalformedResponse FailureKind = "malformed_response"
	// KindUnexpectedStatus covers any other status mismatch.
	KindUnexpectedStatus FailureKind = "unexpected_status"
)

// Error is a typed API failure. StatusCode is zero for transport and
// decoding failures.
type Error struct {
	Kind       FailureKind
	StatusCode int
	Method     string
	Path       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s %s (HTTP %d): %s", e.Kind, e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Method, e.Path, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a client Error of the given kind.
func IsKind(err error, kind FailureKind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsNotFound reports whether err is a not-found API failure.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// classify maps an unexpected HTTP status to a failure kind.
func classify(statusCode int) FailureKind {
	switch {
	case statusCode == 401 || statusCode == 403:
		return KindUnauthorized
	case statusCode == 404:
		return KindNotFound
	case statusCode >= 500:
		return KindServerError
	default:
		return KindUnexpectedStatus
	}
}

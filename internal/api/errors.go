package api

import (
	"errors"
	"fmt"
)

// ErrNoBody is returned when a streaming response carries no readable body.
var ErrNoBody = &TransportError{Op: "stream", Err: errors.New("response has no body")}

// TransportError reports a network failure or a non-success HTTP status from
// the backend. StatusCode is zero when no response was received.
type TransportError struct {
	// Op names the client operation that failed (e.g. "chat", "stream").
	Op string
	// StatusCode is the HTTP status, or 0 for network-level failures.
	StatusCode int
	// Status is the HTTP status line, e.g. "502 Bad Gateway".
	Status string
	// Body holds at most maxErrorBody bytes of the response body.
	Body string
	// Err is the underlying network error, if any.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("api: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("api: %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("api: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

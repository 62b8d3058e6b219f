package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrClosed is returned by calls on a closed network.
var ErrClosed = errors.New("network closed")

// StatusError is a non-2xx response from the server.
type StatusError struct {
	// Code is the HTTP status code.
	Code int

	// Message is the error reported by the server, if any.
	Message string

	// Endpoint is the path that was called.
	Endpoint string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Endpoint, e.Code, http.StatusText(e.Code), e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Endpoint, e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the server may accept the same request later.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// IsRetryable returns true unless err is a StatusError rejecting the
// request itself. Network failures are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return !errors.Is(err, ErrClosed)
}

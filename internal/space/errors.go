package space

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSpace is returned for requests without a space id.
	ErrInvalidSpace = errors.New("invalid space id")

	// ErrInvalidAction is returned when a pushed action has no client action id.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidPayload is returned when an action payload or snapshot state
	// is not valid JSON.
	ErrInvalidPayload = errors.New("invalid payload")
)

// StorageError reports a failure of the underlying log store.
//
// Storage errors are transient from the client's point of view: the
// request wrote nothing and can be repeated.
type StorageError struct {
	// Op names the coordinator operation (push, pull, snapshot, create_snapshot).
	Op string

	// SpaceID identifies the affected space.
	SpaceID string

	// Err is the store error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: storage: %v", e.Op, e.SpaceID, e.Err)
}

// Unwrap returns the store error.
func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request may succeed.
func (e *StorageError) Retryable() bool { return true }

// ContiguityError reports that an append would not have directly continued
// the log because the space counter moved outside the space lock. Nothing
// was written.
type ContiguityError struct {
	SpaceID  string
	Expected int64
	Got      int64
}

// Error implements the error interface.
func (e *ContiguityError) Error() string {
	return fmt.Sprintf("space %s: non-contiguous server action id: expected %d, got %d",
		e.SpaceID, e.Expected, e.Got)
}

// IsRetryable returns true if err wraps a retryable StorageError.
// Uses errors.As to handle wrapped errors.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// IsInvalidRequest returns true if err was caused by a malformed request
// rather than by the server.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidSpace) ||
		errors.Is(err, ErrInvalidAction) ||
		errors.Is(err, ErrInvalidPayload)
}

package core

import (
	"errors"
	"fmt"
)

// ErrStaleSnapshot is returned when a snapshot merge would move the
// confirmed log backwards. The core is left untouched.
var ErrStaleSnapshot = errors.New("snapshot is behind the confirmed log")

// GapError reports a confirmed action that does not continue the log.
// Actions before it in the same batch were applied.
type GapError struct {
	// After is the tail of the log when the gap was found.
	After int64

	// Got is the id of the first action that did not continue it.
	Got int64
}

// Error implements the error interface.
func (e *GapError) Error() string {
	return fmt.Sprintf("gap in confirmed actions: expected %d, got %d", e.After+1, e.Got)
}

// IsGap returns true if err is a *GapError.
// Uses errors.As to handle wrapped errors.
func IsGap(err error) bool {
	var ge *GapError
	return errors.As(err, &ge)
}

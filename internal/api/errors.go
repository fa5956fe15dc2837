package api

import (
	"errors"
	"fmt"
)

// ErrStaleTarget is returned when a mutation targets a node that no
// longer exists server-side (deleted by another actor).
var ErrStaleTarget = errors.New("target no longer exists")

// RejectedError is an application-level rejection (invalid name,
// permission denied, structural conflict). Never retried automatically.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%d): %s", e.Code, e.Reason)
}

// AsRejected checks if an error is a RejectedError and returns it.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsStaleTarget reports whether err indicates the mutation target vanished.
func IsStaleTarget(err error) bool {
	return errors.Is(err, ErrStaleTarget)
}

package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) for unknown keys and unknown sequence numbers.
var ErrNotFound = errors.New("not found")

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// PersistenceError reports a write whose Store and History steps diverged.
// Compensated is true when the Store was restored to its pre-write value.
type PersistenceError struct {
	Key         string
	Compensated bool
	Err         error
}

func (e *PersistenceError) Error() string {
	if e.Compensated {
		return fmt.Sprintf("persisting %s: %v (store restored)", e.Key, e.Err)
	}
	return fmt.Sprintf("persisting %s: %v (store restore failed)", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid round transition")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRoundClosed       = errors.New("round is closed for wagers")
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence failure")
	ErrUnauthorized      = errors.New("invalid username or password")
	ErrForbidden         = errors.New("operation not allowed for this role")
	ErrConflict          = errors.New("already exists")
)

// PersistenceError wraps an opaque storage failure. It matches both
// ErrPersistence and the underlying cause under errors.Is.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// IsDomainError reports whether err carries one of the deterministic
// validation kinds. Those pass through storage layers unwrapped.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition,
		ErrInvalidArgument,
		ErrInsufficientFunds,
		ErrRoundClosed,
		ErrNotFound,
		ErrPersistence,
		ErrUnauthorized,
		ErrForbidden,
		ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// WrapStoreError turns a storage error into a PersistenceError unless it
// already is a domain error.
func WrapStoreError(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

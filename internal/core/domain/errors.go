package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotConfigured   = errors.New("not configured")
	ErrTemporary       = errors.New("temporary failure")
	ErrBatchInProgress = errors.New("process already running")
	ErrInstanceRunning = errors.New("another instance is running")
	ErrInvariant       = errors.New("invariant violated")
	ErrInvalidState    = errors.New("invalid state transition")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

package types

import (
	"errors"
	"fmt"
)

// Error kinds (§7). These are sentinels, not concrete types: callers test
// with errors.Is, handlers wrap with fmt.Errorf("...: %w", ErrX) the same
// way the teacher wraps storage errors in persistence/store.go.
var (
	ErrAuth              = errors.New("auth")
	ErrValidation        = errors.New("validation")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrStorage           = errors.New("storage")
	ErrSubprocess        = errors.New("subprocess")
	ErrSubprocessTimeout = errors.New("subprocess timeout")
	ErrRecoveryDenied    = errors.New("recovery denied")
	ErrInternal          = errors.New("internal")
)

// WrapAuth wraps a message as ErrAuth.
func WrapAuth(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrAuth)
}

// WrapValidation wraps a validation failure with context.
func WrapValidation(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

// WrapNotFound reports a missing entity by kind and id.
func WrapNotFound(kind, id string) error {
	return fmt.Errorf("%s %q not found: %w", kind, id, ErrNotFound)
}

// WrapConflict reports a unique-key collision or state-machine violation.
func WrapConflict(kind, id string) error {
	return fmt.Errorf("%s %q conflict: %w", kind, id, ErrConflict)
}

// WrapStorage wraps an underlying I/O error as ErrStorage.
func WrapStorage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("storage: %w: %w", err, ErrStorage)
}

// WrapSubprocess wraps a tmux-layer failure as ErrSubprocess.
func WrapSubprocess(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, err, ErrSubprocess)
}

// WrapSubprocessTimeout reports a bounded tmux op that exceeded its timeout.
func WrapSubprocessTimeout(op string) error {
	return fmt.Errorf("%s timed out: %w", op, ErrSubprocessTimeout)
}

// WrapInternal reports a broken invariant.
func WrapInternal(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrInternal)
}

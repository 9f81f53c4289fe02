// Package errors defines the error taxonomy shared by the login flow.
//
// Every failure either surfaces a user-actionable state (re-enter credentials,
// fall back to the PIN) or is a silent no-op that preserves prior state. Nothing
// in this module retries automatically.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pilab-dev/biolock/domain"
)

var (
	// ErrValidation is a field-level form error. Recoverable, shown next to the field.
	ErrValidation = errors.New("login form is invalid")

	// ErrCapabilityUnavailable means biometrics are not supported or not enrolled.
	// The biometric feature should be hidden rather than reported.
	ErrCapabilityUnavailable = errors.New("biometric capability unavailable")
	// ErrCapabilityDeclined means the user cancelled or failed the prompt. State is unchanged.
	ErrCapabilityDeclined = errors.New("biometric authentication declined")
	// ErrCapabilityFailed means the capability could not produce a cipher.
	ErrCapabilityFailed = errors.New("biometric capability failed")

	// ErrEncryption is returned when a token could not be encrypted: wrong cipher mode
	// or an invalidated key.
	ErrEncryption = errors.New("token encryption failed")
	// ErrDecryption is returned when a blob could not be decrypted. No plaintext is ever
	// returned alongside it.
	ErrDecryption = errors.New("token decryption failed")
	// ErrKeyInvalidated means the key behind a cipher no longer validates, for example
	// after the biometric enrollment changed.
	ErrKeyInvalidated = errors.New("key permanently invalidated")

	ErrNoSession              = errors.New("no active session token")
	ErrNoStoredToken          = errors.New("no stored encrypted token")
	ErrNotAwaitingPin         = errors.New("login is not waiting for a pin")
	ErrUnsupportedBlobVersion = errors.New("unsupported encrypted blob version")
)

// ValidationError carries the failed form state back to the caller.
type ValidationError struct {
	State domain.FailedLoginFormState
}

// NewValidationError wraps a failed form state.
func NewValidationError(state domain.FailedLoginFormState) *ValidationError {
	return &ValidationError{State: state}
}

func (e *ValidationError) Error() string {
	codes := e.State.Codes()
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, string(c))
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, ", "))
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Is reports whether any error in err's chain matches target. It mirrors the standard
// library so callers only need to import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

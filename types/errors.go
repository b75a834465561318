package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error taxonomy for the protection engine. Callers branch with errors.Is;
// everything else wraps one of these or is a plain operational failure.
var (
	// ErrNotFound is returned for unknown sessions, tokens, tenants and keys
	// that should exist
	ErrNotFound = errors.New("not found")

	// ErrCapacityExceeded is returned when a per-user session cap is hit.
	// Recoverable: the caller retries later or revokes an existing session.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrConflict is returned when a compare-and-swap write loses against a
	// concurrent writer. Recoverable: re-read the current state and retry.
	ErrConflict = errors.New("concurrent modification")

	// ErrCryptoFailure marks fatal cryptographic failures. Never retried,
	// never silently replaced with plaintext-shaped garbage.
	ErrCryptoFailure = errors.New("cryptographic operation failed")

	// ErrKeyNotFound is returned on decrypt against an unknown or revoked key
	// id. Fatal and non-retryable: silent decryption failure is a data-loss
	// class bug.
	ErrKeyNotFound = errors.New("encryption key not found")

	// ErrSessionExpired is returned when an unmask session is past its window
	ErrSessionExpired = errors.New("unmask session expired")
)

// ValidationError carries every violation found in a request, not just the
// first. Tenant admins edit many rules per request, so validation is batch,
// never fail-fast, and never partially applied.
type ValidationError struct {
	Violations map[string]string
}

// NewValidationError creates an empty validation error to accumulate into
func NewValidationError() *ValidationError {
	return &ValidationError{Violations: make(map[string]string)}
}

// Add records a violation for a field
func (e *ValidationError) Add(field, message string) {
	e.Violations[field] = message
}

// HasViolations reports whether any violation was recorded
func (e *ValidationError) HasViolations() bool {
	return len(e.Violations) > 0
}

// Error lists all violations in deterministic order
func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Violations[f]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

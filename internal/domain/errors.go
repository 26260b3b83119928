package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Duration Errors
	// ===========================================

	// ErrInvalidFormat indicates the duration text does not match the grammar.
	ErrInvalidFormat = errors.New("invalid duration format")

	// ErrNonPositive indicates the duration is zero or negative.
	ErrNonPositive = errors.New("duration must be positive")

	// ===========================================
	// Key Errors
	// ===========================================

	// ErrKeyNotFound indicates the requested key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrAlreadyRedeemed indicates the key has already been redeemed.
	ErrAlreadyRedeemed = errors.New("key has already been redeemed")

	// ErrExpired indicates the key expired before it was redeemed.
	ErrExpired = errors.New("key has expired")

	// ErrDuplicateKey indicates a key with the same ID already exists.
	ErrDuplicateKey = errors.New("key already exists")

	// ===========================================
	// Side-effect Errors
	// ===========================================

	// ErrRoleGrantFailed indicates the premium role could not be granted.
	// The redemption itself stays committed.
	ErrRoleGrantFailed = errors.New("failed to grant premium role")

	// ErrRoleRevokeFailed indicates the premium role could not be removed.
	ErrRoleRevokeFailed = errors.New("failed to remove premium role")

	// ErrPersistenceFailure indicates the durable snapshot could not be written.
	ErrPersistenceFailure = errors.New("failed to persist keys")

	// ErrNotificationFailed indicates a direct message or audit post failed.
	ErrNotificationFailed = errors.New("failed to send notification")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., a masked key ID).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// IsValidationError reports whether err is a synchronous validation failure
// that callers should surface as a user-facing rejection.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrNonPositive) ||
		errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrDuplicateKey)
}

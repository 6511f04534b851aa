package domain

import (
	"errors"
	"fmt"
	"time"
)

// VerificationError represents a standardized error response
type VerificationError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput   = "INVALID_INPUT"
	ErrDatabaseError  = "DATABASE_ERROR"
	ErrNotFound       = "NOT_FOUND"
	ErrDuplicate      = "DUPLICATE_RECORD"
	ErrIntegrity      = "INTEGRITY_FAILURE"
	ErrSessionExpired = "SESSION_EXPIRED"
	ErrRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

// ErrHashMismatch signals that a stored provenance hash no longer matches
// the hash of the stored data. This is the one failure that must be
// surfaced loudly: it implies tampering or storage corruption.
var ErrHashMismatch = errors.New("provenance hash mismatch")

// IntegrityError carries both hashes of a failed provenance verification
type IntegrityError struct {
	LetterID     string `json:"letter_id"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
}

// Error implements the error interface
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("provenance hash mismatch for letter %s: stored %s, computed %s",
		e.LetterID, e.StoredHash, e.ComputedHash)
}

// Unwrap allows errors.Is(err, ErrHashMismatch)
func (e *IntegrityError) Unwrap() error {
	return ErrHashMismatch
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewVerificationError creates a new VerificationError with timestamp
func NewVerificationError(code, message, details, requestID string) *VerificationError {
	return &VerificationError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

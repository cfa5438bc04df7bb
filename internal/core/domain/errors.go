package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the format KS-<AREA>-<NNNN>; the message is meant to be shown
// to an operator as-is.
type DomainError struct {
	Code    string // Error code (e.g., "KS-REC-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
// Two domain errors are equal when their codes match.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Key and record errors (KEY, REC)
// ============================================================================

var (
	// ErrInvalidKey indicates a storage key is empty, too long or malformed.
	ErrInvalidKey = NewDomainError("KS-KEY-4000", "invalid storage key")

	// ErrMissingField indicates a required record field is empty.
	ErrMissingField = NewDomainError("KS-REC-4001", "required field missing")

	// ErrInvalidFormat indicates a record field violates its format constraints.
	ErrInvalidFormat = NewDomainError("KS-REC-4002", "invalid record format")

	// ErrNotFound indicates the requested record or key does not exist.
	ErrNotFound = NewDomainError("KS-REC-4040", "not found")
)

// ============================================================================
// Storage errors (STO)
// ============================================================================

var (
	// ErrSaveFailed indicates a write could not be completed after all retries.
	ErrSaveFailed = NewDomainError("KS-STO-5000", "save failed")

	// ErrDecompression indicates a stored block could not be decompressed.
	ErrDecompression = NewDomainError("KS-STO-5001", "decompression failed")

	// ErrStorageUnavailable indicates no storage tier could serve the request.
	ErrStorageUnavailable = NewDomainError("KS-STO-5030", "storage unavailable")

	// ErrStorageFull indicates capacity cleanup could not free enough space.
	ErrStorageFull = NewDomainError("KS-STO-5070", "storage full")

	// ErrQuotaExceeded indicates the tier quota was still exceeded after cleanup.
	ErrQuotaExceeded = NewDomainError("KS-STO-5071", "storage quota exceeded")

	// ErrParse indicates a stored envelope or payload could not be decoded.
	ErrParse = NewDomainError("KS-STO-4220", "parse error")
)

// ============================================================================
// Batch and backup errors (BAT, BAK)
// ============================================================================

var (
	// ErrBatchSaveFailed indicates the merged collection of a batch could not be persisted.
	ErrBatchSaveFailed = NewDomainError("KS-BAT-5000", "batch save failed")

	// ErrBackupNotFound indicates the requested backup does not exist.
	ErrBackupNotFound = NewDomainError("KS-BAK-4040", "backup not found")

	// ErrBackupInvalid indicates a backup failed verification and was not restored.
	ErrBackupInvalid = NewDomainError("KS-BAK-4220", "backup verification failed")
)

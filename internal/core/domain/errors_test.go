package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("KS-TEST-1000", "test message"),
			expected: "[KS-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("KS-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[KS-TEST-1001] test message: extra info",
		},
		{
			name:     "formatted details",
			err:      ErrNotFound.WithDetailsf("id %d", 42),
			expected: "[KS-REC-4040] not found: id 42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("KS-TEST-1000", "message 1")
	err2 := NewDomainError("KS-TEST-1000", "message 2")
	err3 := NewDomainError("KS-TEST-1001", "message 1")

	assert.ErrorIs(t, err1, err2)
	assert.NotErrorIs(t, err1, err3)
	assert.NotErrorIs(t, err1, fmt.Errorf("some error"))

	wrapped := fmt.Errorf("save employees: %w", ErrSaveFailed.WithDetails("attempts exhausted"))
	assert.ErrorIs(t, wrapped, ErrSaveFailed)
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := NewDomainError("KS-TEST-1000", "wrapper").WithCause(cause)
	assert.Same(t, cause, errors.Unwrap(err))

	assert.Nil(t, errors.Unwrap(NewDomainError("KS-TEST-1000", "no cause")))
}

func TestDomainError_WithDetails(t *testing.T) {
	original := NewDomainError("KS-TEST-1000", "original message")
	withDetails := original.WithDetails("additional details")

	assert.Empty(t, original.Details, "original must not be modified")
	assert.Equal(t, "additional details", withDetails.Details)
	assert.Equal(t, original.Code, withDetails.Code)
	assert.Equal(t, original.Message, withDetails.Message)
}

func TestDomainError_WithCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := ErrStorageUnavailable.WithDetails("durable").WithCause(cause)

	assert.Nil(t, ErrStorageUnavailable.Cause)
	assert.Equal(t, "durable", err.Details)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, ErrQuotaExceeded.Wrap(cause), cause)
}

func TestIsDomainError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrParse)

	assert.True(t, IsDomainError(wrapped, ""))
	assert.True(t, IsDomainError(wrapped, "KS-STO-4220"))
	assert.False(t, IsDomainError(wrapped, "KS-STO-5000"))
	assert.False(t, IsDomainError(errors.New("plain"), ""))
	assert.False(t, IsDomainError(nil, ""))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, "KS-BAT-5000", GetErrorCode(fmt.Errorf("x: %w", ErrBatchSaveFailed)))
	assert.Empty(t, GetErrorCode(errors.New("plain")))
	assert.Empty(t, GetErrorCode(nil))
}

func TestPredefinedErrors(t *testing.T) {
	all := []*DomainError{
		ErrInvalidKey, ErrMissingField, ErrInvalidFormat, ErrNotFound,
		ErrSaveFailed, ErrDecompression, ErrStorageUnavailable, ErrStorageFull,
		ErrQuotaExceeded, ErrParse, ErrBatchSaveFailed, ErrBackupNotFound,
		ErrBackupInvalid,
	}

	seen := make(map[string]bool, len(all))
	for _, err := range all {
		require.NotNil(t, err)
		assert.Regexp(t, `^KS-[A-Z]{3}-\d{4}$`, err.Code)
		assert.NotEmpty(t, err.Message)
		assert.False(t, seen[err.Code], "duplicate code %s", err.Code)
		seen[err.Code] = true
	}
}

package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "proposal not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: proposal not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same error type", NewDomainError(ErrorTypeNotFound, "not found", nil), ErrProposalNotFound, true},
		{"different error type", NewDomainError(ErrorTypeValidation, "validation", nil), ErrProposalNotFound, false},
		{"not a domain error", NewDomainError(ErrorTypeNotFound, "not found", nil), errors.New("regular error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)
	err.WithDetail("field", "weight").WithDetail("value", 11.0)

	assert.Equal(t, "weight", err.Details["field"])
	assert.Equal(t, 11.0, err.Details["value"])
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("cluster not found", "c-1")

	assert.True(t, IsNotFoundError(err))
	assert.Equal(t, "c-1", GetErrorDetails(err)["id"])
	assert.Empty(t, ErrClusterNotFound.Details)
}

func TestErrorTypeCheckers(t *testing.T) {
	checkers := map[ErrorType]func(error) bool{
		ErrorTypeNotFound:        IsNotFoundError,
		ErrorTypeValidation:      IsValidationError,
		ErrorTypeUnauthorized:    IsUnauthorizedError,
		ErrorTypeForbidden:       IsForbiddenError,
		ErrorTypeRateLimit:       IsRateLimitError,
		ErrorTypeBudget:          IsBudgetError,
		ErrorTypeConflict:        IsConflictError,
		ErrorTypeInternal:        IsInternalError,
		ErrorTypeExternal:        IsExternalError,
		ErrorTypePolicyViolation: IsPolicyViolationError,
	}

	samples := map[ErrorType]error{
		ErrorTypeNotFound:        ErrProposalNotFound,
		ErrorTypeValidation:      ErrProposalNotActive,
		ErrorTypeUnauthorized:    ErrInvalidToken,
		ErrorTypeForbidden:       ErrForbidden,
		ErrorTypeRateLimit:       ErrRateLimitExceeded,
		ErrorTypeBudget:          ErrBudgetExceeded,
		ErrorTypeConflict:        ErrDuplicateVote,
		ErrorTypeInternal:        ErrDatabaseError,
		ErrorTypeExternal:        ErrPolicyEngineError,
		ErrorTypePolicyViolation: ErrBudgetDenied,
	}

	for errType, check := range checkers {
		t.Run(string(errType), func(t *testing.T) {
			sample := samples[errType]
			require.NotNil(t, sample)

			assert.True(t, check(sample))
			assert.True(t, check(fmt.Errorf("wrapped: %w", sample)))
			assert.False(t, check(errors.New("regular")))
			assert.False(t, check(nil))

			for otherType, other := range samples {
				if otherType != errType {
					assert.False(t, check(other), "checker for %s matched %s", errType, otherType)
				}
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeConflict, GetErrorType(ErrDuplicateVote))
	assert.Equal(t, ErrorTypeNotFound, GetErrorType(fmt.Errorf("ctx: %w", ErrRunNotFound)))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "bad", nil).WithDetail("k", "v")
	assert.Equal(t, "v", GetErrorDetails(err)["k"])
	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("boom")

	t.Run("WrapError", func(t *testing.T) {
		err := WrapError(ErrorTypeConflict, "conflict", base)
		assert.True(t, IsConflictError(err))
		assert.ErrorIs(t, err, base)
	})

	t.Run("WrapInternal", func(t *testing.T) {
		err := WrapInternal("store failed", base)
		assert.True(t, IsInternalError(err))
		assert.ErrorIs(t, err, base)
	})

	t.Run("WrapExternal", func(t *testing.T) {
		err := WrapExternal("opa unreachable", base)
		assert.True(t, IsExternalError(err))
		assert.Contains(t, err.Error(), "opa unreachable")
	})
}

package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeBudget          ErrorType = "budget"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeExternal        ErrorType = "external"
	ErrorTypePolicyViolation ErrorType = "policy_violation"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrProposalNotFound     = NewDomainError(ErrorTypeNotFound, "proposal not found", nil)
	ErrPlanNotFound         = NewDomainError(ErrorTypeNotFound, "rollback plan not found", nil)
	ErrCapabilityNotFound   = NewDomainError(ErrorTypeNotFound, "capability not found", nil)
	ErrClusterNotFound      = NewDomainError(ErrorTypeNotFound, "cluster not found", nil)
	ErrPackageNotFound      = NewDomainError(ErrorTypeNotFound, "package not found", nil)
	ErrInstallationNotFound = NewDomainError(ErrorTypeNotFound, "installation not found", nil)
	ErrPlaybookNotFound     = NewDomainError(ErrorTypeNotFound, "playbook not found", nil)
	ErrRunNotFound          = NewDomainError(ErrorTypeNotFound, "run not found", nil)
	ErrRuleNotFound         = NewDomainError(ErrorTypeNotFound, "policy rule not found", nil)
	ErrTenantNotFound       = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrExperimentNotFound   = NewDomainError(ErrorTypeNotFound, "experiment not found", nil)

	// Validation Errors
	ErrInvalidInput         = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrProposalNotActive    = NewDomainError(ErrorTypeValidation, "proposal is not active", nil)
	ErrProposalNotApproved  = NewDomainError(ErrorTypeValidation, "proposal is not approved", nil)
	ErrNotQuarantined       = NewDomainError(ErrorTypeValidation, "capability is not quarantined", nil)
	ErrNotReadyToPromote    = NewDomainError(ErrorTypeValidation, "capability is not ready for promotion", nil)
	ErrVersionNotAvailable  = NewDomainError(ErrorTypeValidation, "version not available", nil)
	ErrInsufficientSamples  = NewDomainError(ErrorTypeValidation, "insufficient samples", nil)
	ErrInvalidPlaybook      = NewDomainError(ErrorTypeValidation, "invalid playbook definition", nil)
	ErrUnsupportedProvider  = NewDomainError(ErrorTypeValidation, "provider is not supported", nil)
	ErrNoProviderForRole    = NewDomainError(ErrorTypeValidation, "no LLM provider configured for role", nil)
	ErrCapabilityNotTrialed = NewDomainError(ErrorTypeValidation, "capability has no completed trial", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	// Rate Limit Errors
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)

	// Budget Errors
	ErrBudgetExceeded = NewDomainError(ErrorTypeBudget, "budget exceeded", nil)

	// Conflict Errors
	ErrDuplicateVote       = NewDomainError(ErrorTypeConflict, "voter has already voted", nil)
	ErrAlreadyQuarantined  = NewDomainError(ErrorTypeConflict, "capability already quarantined", nil)
	ErrDuplicateCapability = NewDomainError(ErrorTypeConflict, "capability already registered", nil)
	ErrConcurrentUpdate    = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)

	// External Errors
	ErrProviderUnavailable = NewDomainError(ErrorTypeExternal, "LLM provider unavailable", nil)
	ErrProviderError       = NewDomainError(ErrorTypeExternal, "LLM provider error", nil)
	ErrPolicyEngineError   = NewDomainError(ErrorTypeExternal, "policy engine unavailable", nil)
	ErrDownloadFailed      = NewDomainError(ErrorTypeExternal, "artifact download failed", nil)
	ErrToolFailed          = NewDomainError(ErrorTypeExternal, "external tool failed", nil)

	// Policy Violation Errors
	ErrPolicyViolation   = NewDomainError(ErrorTypePolicyViolation, "policy violation", nil)
	ErrBudgetDenied      = NewDomainError(ErrorTypePolicyViolation, "Budget exceeds policy; escalate", nil)
	ErrSignatureInvalid  = NewDomainError(ErrorTypePolicyViolation, "signature verification failed", nil)
	ErrChecksumMismatch  = NewDomainError(ErrorTypePolicyViolation, "checksum mismatch", nil)
	ErrInjectionDetected = NewDomainError(ErrorTypePolicyViolation, "prompt injection detected", nil)
)

// NewNotFound builds a not-found error carrying the missing identifier.
func NewNotFound(message string, id string) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, nil).WithDetail("id", id)
}

// NewValidation builds a validation error with a caller-specific message.
func NewValidation(message string) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, nil)
}

func hasType(err error, t ErrorType) bool {
	return GetErrorType(err) == t
}

// IsNotFoundError reports a missing proposal, plan, run or other resource
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError reports bad input or an illegal state transition
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

func IsForbiddenError(err error) bool { return hasType(err, ErrorTypeForbidden) }

func IsRateLimitError(err error) bool { return hasType(err, ErrorTypeRateLimit) }

func IsBudgetError(err error) bool { return hasType(err, ErrorTypeBudget) }

// IsConflictError reports duplicate votes, registrations and quarantines
func IsConflictError(err error) bool { return hasType(err, ErrorTypeConflict) }

func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// IsExternalError reports a failure of OPA, an LLM provider, a download or
// an external tool
func IsExternalError(err error) bool { return hasType(err, ErrorTypeExternal) }

// IsPolicyViolationError reports a request refused by a gate: budget,
// signature, checksum or injection
func IsPolicyViolationError(err error) bool { return hasType(err, ErrorTypePolicyViolation) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}

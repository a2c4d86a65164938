package verifier

import (
	"errors"
	"fmt"
)

// ErrorCategory defines the normalized failure taxonomy. Every provider
// failure is mapped into exactly one category before it leaves this package.
type ErrorCategory string

const (
	// ErrorInvalidInput indicates the identity number failed format checks
	// or was rejected by the registry as malformed.
	ErrorInvalidInput ErrorCategory = "invalid_input_format"

	// ErrorNotFound indicates the registry holds no record for the number.
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorMisconfigured indicates credential or service-id problems on our
	// side. Needs operator attention, never shown verbatim to customers.
	ErrorMisconfigured ErrorCategory = "provider_misconfigured"

	// ErrorQuotaExhausted indicates the registry refused for billing or
	// request-budget reasons.
	ErrorQuotaExhausted ErrorCategory = "provider_quota_exhausted"

	// ErrorUnavailable indicates the registry reported itself down.
	ErrorUnavailable ErrorCategory = "provider_unavailable"

	// ErrorNetwork indicates a transient transport failure or timeout.
	ErrorNetwork ErrorCategory = "transient_network_error"

	// ErrorServer indicates a 5xx from the registry.
	ErrorServer ErrorCategory = "upstream_server_error"
)

// ProviderError wraps provider failures with normalized categorization and
// a message safe to show to the person verifying.
type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// UserMessage returns wording suitable for the public verification page.
func (e *ProviderError) UserMessage() string {
	switch e.Category {
	case ErrorInvalidInput:
		return "The identity number provided is not in a valid format. Please check and try again."
	case ErrorNotFound:
		return "No record was found for the identity number provided. Please confirm the number and try again."
	case ErrorQuotaExhausted, ErrorUnavailable, ErrorServer, ErrorNetwork:
		return "The verification service is temporarily unavailable. Please try again in a few minutes."
	case ErrorMisconfigured:
		return "Verification cannot be completed right now. Please contact support."
	default:
		return "Verification failed due to an unexpected error. Please try again."
	}
}

// NewProviderError creates a normalized provider error. Only transient
// transport failures and upstream 5xx responses are worth retrying;
// everything else is deterministic.
func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	retryable := category == ErrorNetwork || category == ErrorServer

	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorServer
}

// Sentinel errors for adapter wiring problems.
var (
	ErrNoProvider = errors.New("no provider registered for identity type")
)

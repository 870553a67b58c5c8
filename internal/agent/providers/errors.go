package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed, driving retry and
// failover decisions.
type FailureReason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit FailureReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth FailureReason = "auth"

	// ReasonBilling indicates payment or quota exhaustion (HTTP 402).
	ReasonBilling FailureReason = "billing"

	// ReasonTimeout indicates the request timed out.
	ReasonTimeout FailureReason = "timeout"

	// ReasonServerError indicates server-side failure (HTTP 5xx).
	ReasonServerError FailureReason = "server_error"

	// ReasonInvalidRequest indicates a malformed request (HTTP 400).
	ReasonInvalidRequest FailureReason = "invalid_request"

	// ReasonModelUnavailable indicates the requested model does not exist or
	// is not accessible to the account.
	ReasonModelUnavailable FailureReason = "model_unavailable"

	// ReasonUnknown indicates an unclassified failure.
	ReasonUnknown FailureReason = "unknown"
)

// Retryable reports whether the same provider may succeed on a retry.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether a different provider should be tried.
func (r FailureReason) ShouldFailover() bool {
	switch r {
	case ReasonAuth, ReasonBilling, ReasonModelUnavailable:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from an LLM provider.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// WrapError classifies cause into a ProviderError. A cause that is already a
// ProviderError passes through unchanged.
func WrapError(provider, model string, cause error) error {
	if cause == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(cause, &pe) {
		return cause
	}
	return &ProviderError{
		Reason:   Classify(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// Classify maps an arbitrary error to a FailureReason by message inspection.
// Provider SDKs bury status codes in error strings; the patterns here cover
// the vendors this package integrates.
func Classify(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "billing"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "402"):
		return ReasonBilling
	case strings.Contains(msg, "model not found"),
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"):
		return ReasonModelUnavailable
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyStatus maps an HTTP status to a FailureReason.
func classifyStatus(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// Retryable reports whether err may succeed if the same provider is retried.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason.Retryable()
	}
	return Classify(err).Retryable()
}

// ShouldFailover reports whether err warrants trying another provider.
func ShouldFailover(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason.ShouldFailover()
	}
	return Classify(err).ShouldFailover()
}

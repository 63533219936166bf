// Package llm provides generation provider adapters and error handling.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error classes for provider operations. Every error returned by an Adapter
// wraps exactly one of these.
var (
	// ErrInvalidParameters indicates the request violates provider limits.
	// Raised before any network call where possible.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized indicates the provider credentials are invalid or the
	// account cannot be billed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUpstreamUnavailable indicates the provider failed, timed out, or
	// could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrContentRejected indicates a safety or policy filter refused the request.
	ErrContentRejected = errors.New("content rejected")
)

// ProviderError represents a classified error from a generation provider.
type ProviderError struct {
	// Err is the error class (one of the sentinels above).
	Err error

	// Cause is the original error from the SDK or transport, if any.
	Cause error

	// HTTP status code (if applicable)
	StatusCode int

	Provider string
	Model    string

	// User-friendly message to display
	UserMessage string

	// Raw error message from the provider
	RawMessage string

	// Whether the same call may succeed later without changes
	Retryable bool

	// Backoff hint from the provider's Retry-After header
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown provider error"
}

// Unwrap exposes both the class and the cause to errors.Is / errors.As.
func (e *ProviderError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewInvalidParams creates an ErrInvalidParameters error with a caller-facing message.
func NewInvalidParams(provider, model, format string, args ...any) *ProviderError {
	msg := fmt.Sprintf(format, args...)
	return &ProviderError{
		Err:         ErrInvalidParameters,
		StatusCode:  http.StatusUnprocessableEntity,
		Provider:    provider,
		Model:       model,
		UserMessage: msg,
		RawMessage:  msg,
	}
}

// ClassifyError analyzes an error from a provider call and returns a classified ProviderError.
// statusCode is 0 when no HTTP response was received.
func ClassifyError(err error, provider, model string, statusCode int, retryAfter time.Duration) *ProviderError {
	if err == nil {
		return nil
	}

	var existing *ProviderError
	if errors.As(err, &existing) {
		return existing
	}

	errStr := strings.ToLower(err.Error())
	pe := &ProviderError{
		Cause:      err,
		StatusCode: statusCode,
		Provider:   provider,
		Model:      model,
		RawMessage: err.Error(),
		RetryAfter: retryAfter,
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return pe.as(ErrUpstreamUnavailable, true, "The provider did not respond in time. Please try again.")
	case errors.Is(err, context.Canceled):
		return pe.as(ErrUpstreamUnavailable, false, "The request was cancelled.")
	}

	// Policy refusals arrive as plain 400s, so check the message before the status.
	if containsContentRejection(errStr) {
		return pe.as(ErrContentRejected, false, "The request was rejected by the provider's content policy.")
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return pe.as(ErrRateLimited, true, "Rate limit exceeded. Please wait before retrying.")

	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return pe.as(ErrUnauthorized, false, "The provider rejected the configured credentials.")

	case statusCode == http.StatusPaymentRequired:
		return pe.as(ErrUnauthorized, false, "Payment required. Please check the provider account's billing status.")

	case statusCode == http.StatusRequestTimeout, statusCode >= 500:
		// 529 is Anthropic's "overloaded".
		return pe.as(ErrUpstreamUnavailable, true, "The provider is temporarily unavailable. Please try again.")

	case statusCode >= 400:
		return classifyByErrorMessage(pe, errStr, ErrInvalidParameters)

	default:
		// No response at all: DNS, connection reset, TLS, etc.
		return classifyByErrorMessage(pe, errStr, ErrUpstreamUnavailable)
	}
}

func (e *ProviderError) as(class error, retryable bool, msg string) *ProviderError {
	e.Err = class
	e.Retryable = retryable
	e.UserMessage = msg
	return e
}

// containsContentRejection checks if the error indicates a safety or policy refusal.
func containsContentRejection(errStr string) bool {
	patterns := []string{
		"content_policy_violation",
		"content policy",
		"content_filter",
		"safety system",
		"flagged by",
		"moderation",
		"responsible ai",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// classifyByErrorMessage analyzes error message content for specific patterns.
func classifyByErrorMessage(pe *ProviderError, errStr string, fallback error) *ProviderError {
	switch {
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "ratelimit"):
		return pe.as(ErrRateLimited, true, "Rate limit exceeded. Please wait before retrying.")

	case strings.Contains(errStr, "overloaded") || strings.Contains(errStr, "capacity"):
		return pe.as(ErrUpstreamUnavailable, true, "The model is overloaded. Please try again later.")

	case strings.Contains(errStr, "invalid api key") || strings.Contains(errStr, "authentication"):
		return pe.as(ErrUnauthorized, false, "The provider rejected the configured credentials.")

	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return pe.as(ErrUpstreamUnavailable, true, "The provider did not respond in time. Please try again.")
	}

	if fallback == ErrInvalidParameters {
		return pe.as(ErrInvalidParameters, false, fmt.Sprintf("The provider rejected the request: %s", pe.RawMessage))
	}
	return pe.as(ErrUpstreamUnavailable, true, "The provider could not be reached. Please try again.")
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetUserMessage returns a user-friendly message for the error.
func GetUserMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.UserMessage != "" {
		return pe.UserMessage
	}
	return "An unexpected error occurred. Please try again."
}

// Class returns the short error class name recorded on usage records.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrContentRejected):
		return "content_rejected"
	default:
		return "unknown"
	}
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/postforge-api/internal/llm"
	"github.com/jmylchreest/postforge-api/internal/service"
)

// StatusClientClosedRequest is returned when the caller went away mid-call.
const StatusClientClosedRequest = 499

// StatusForProviderError maps a provider error class to an HTTP status.
func StatusForProviderError(err error) int {
	switch {
	case errors.Is(err, llm.ErrInvalidParameters), errors.Is(err, llm.ErrContentRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, llm.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// retryAfterSeconds rounds up so a client never retries early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ToHTTPError converts a service or provider error into a huma error. Rate
// limited responses carry a Retry-After header.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}

	var quotaErr *service.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return &APIError{
			Status:     http.StatusPaymentRequired,
			Title:      "quota exceeded",
			Detail:     quotaErr.Error(),
			ErrorClass: "quota_exceeded",
			Requested:  &quotaErr.Requested,
			Remaining:  &quotaErr.Remaining,
			Allotment:  &quotaErr.Allotment,
		}
	}
	if errors.Is(err, service.ErrQuotaExceeded) {
		return &APIError{Status: http.StatusPaymentRequired, Title: "quota exceeded", ErrorClass: "quota_exceeded"}
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		status := StatusForProviderError(pe)
		apiErr := &APIError{
			Status:     status,
			Title:      http.StatusText(status),
			Detail:     llm.GetUserMessage(pe),
			ErrorClass: llm.Class(pe),
			Provider:   pe.Provider,
			Model:      pe.Model,
			Retryable:  pe.Retryable,
		}
		if status == http.StatusTooManyRequests {
			secs := retryAfterSeconds(pe.RetryAfter)
			apiErr.RetryAfterSeconds = secs
			return huma.ErrorWithHeaders(apiErr, http.Header{"Retry-After": []string{strconv.Itoa(secs)}})
		}
		return apiErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &APIError{Status: StatusClientClosedRequest, Title: "request cancelled", ErrorClass: "cancelled"}
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout("request timed out")
	case errors.Is(err, service.ErrInvalidItem), errors.Is(err, service.ErrInvalidAccount):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, service.ErrItemNotFound), errors.Is(err, service.ErrAccountNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrNotWithdrawable):
		return huma.Error409Conflict(err.Error())
	}

	return huma.Error500InternalServerError("internal error")
}

func statusOfErr(err error) int {
	var se huma.StatusError
	if errors.As(err, &se) {
		return se.GetStatus()
	}
	return http.StatusInternalServerError
}

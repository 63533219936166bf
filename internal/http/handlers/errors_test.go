package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/postforge-api/internal/llm"
	"github.com/jmylchreest/postforge-api/internal/service"
)

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %T does not carry a status", err)
	}
	return se.GetStatus()
}

// ========================================
// ToHTTPError Tests
// ========================================

func TestToHTTPError_Status(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid parameters", &llm.ProviderError{Err: llm.ErrInvalidParameters}, http.StatusUnprocessableEntity},
		{"content rejected", &llm.ProviderError{Err: llm.ErrContentRejected}, http.StatusUnprocessableEntity},
		{"rate limited", &llm.ProviderError{Err: llm.ErrRateLimited, Retryable: true}, http.StatusTooManyRequests},
		{"unauthorized", &llm.ProviderError{Err: llm.ErrUnauthorized}, http.StatusBadGateway},
		{"upstream unavailable", &llm.ProviderError{Err: llm.ErrUpstreamUnavailable}, http.StatusServiceUnavailable},
		{"quota", &service.QuotaExceededError{Requested: 10, Remaining: 2, Allotment: 100}, http.StatusPaymentRequired},
		{"wrapped quota", fmt.Errorf("reserve: %w", service.ErrQuotaExceeded), http.StatusPaymentRequired},
		{"cancelled", context.Canceled, StatusClientClosedRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"invalid item", fmt.Errorf("%w: text is required", service.ErrInvalidItem), http.StatusUnprocessableEntity},
		{"invalid account", service.ErrInvalidAccount, http.StatusUnprocessableEntity},
		{"item not found", service.ErrItemNotFound, http.StatusNotFound},
		{"account not found", service.ErrAccountNotFound, http.StatusNotFound},
		{"not withdrawable", service.ErrNotWithdrawable, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(t, ToHTTPError(tt.err)); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestToHTTPError_Nil(t *testing.T) {
	if err := ToHTTPError(nil); err != nil {
		t.Errorf("ToHTTPError(nil) = %v, want nil", err)
	}
}

func TestToHTTPError_RetryAfter(t *testing.T) {
	err := ToHTTPError(&llm.ProviderError{Err: llm.ErrRateLimited, RetryAfter: 1500 * time.Millisecond, Provider: "openai"})

	var he huma.HeadersError
	if !errors.As(err, &he) {
		t.Fatalf("error %T carries no headers", err)
	}
	if got := he.GetHeaders().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("expected *APIError")
	}
	if apiErr.RetryAfterSeconds != 2 {
		t.Errorf("RetryAfterSeconds = %d, want 2", apiErr.RetryAfterSeconds)
	}
	if apiErr.ErrorClass != "rate_limited" {
		t.Errorf("ErrorClass = %q, want %q", apiErr.ErrorClass, "rate_limited")
	}
}

func TestToHTTPError_UnauthorizedCarriesProvider(t *testing.T) {
	err := ToHTTPError(&llm.ProviderError{
		Err:         llm.ErrUnauthorized,
		Provider:    "anthropic",
		Model:       "claude-sonnet-4",
		UserMessage: "Invalid API key",
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("expected *APIError")
	}
	if apiErr.Provider != "anthropic" || apiErr.Model != "claude-sonnet-4" {
		t.Errorf("provider/model = %q/%q, want anthropic/claude-sonnet-4", apiErr.Provider, apiErr.Model)
	}
	if apiErr.Detail != "Invalid API key" {
		t.Errorf("Detail = %q, want %q", apiErr.Detail, "Invalid API key")
	}
}

func TestToHTTPError_QuotaDetail(t *testing.T) {
	err := ToHTTPError(&service.QuotaExceededError{PrincipalID: "p", Requested: 50, Remaining: 5, Allotment: 100})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("expected *APIError")
	}
	if apiErr.Remaining == nil || *apiErr.Remaining != 5 {
		t.Errorf("Remaining = %v, want 5", apiErr.Remaining)
	}
	if apiErr.Requested == nil || *apiErr.Requested != 50 {
		t.Errorf("Requested = %v, want 50", apiErr.Requested)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{-time.Second, 1},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{30 * time.Second, 30},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

package destination

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/postforge-api/internal/models"
)

// Error classes for publishing. Every error returned by an Adapter wraps
// exactly one of these.
var (
	// ErrCredentialExpired is fatal until the account is re-linked.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrPayloadRejected is fatal; the platform will never accept this payload.
	ErrPayloadRejected = errors.New("payload rejected")

	// ErrRateLimited is retryable after the platform's window resets.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientNetwork covers connection failures and platform hiccups.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrUpstreamUnavailable covers timeouts and 5xx responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// PublishError is a classified publishing failure.
type PublishError struct {
	Err         error
	Cause       error
	Destination models.Destination
	StatusCode  int
	// PlatformCode is the platform's own error code, if any.
	PlatformCode string
	Message      string
	RetryAfter   time.Duration
	// Ref is the platform handle of work this attempt started but could not
	// confirm. The next attempt receives it as Payload.RemoteRef.
	Ref string
}

func (e *PublishError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Destination))
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the class and the cause.
func (e *PublishError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Retryable reports whether the same payload may succeed on a later attempt.
func (e *PublishError) Retryable() bool {
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrTransientNetwork) ||
		errors.Is(e.Err, ErrUpstreamUnavailable)
}

func newError(dest models.Destination, class error, format string, args ...any) *PublishError {
	return &PublishError{Err: class, Destination: dest, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether err is a retryable publishing failure.
// Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return !errors.Is(err, ErrCredentialExpired) && !errors.Is(err, ErrPayloadRejected)
}

// RetryAfter returns the platform's backoff hint, or zero.
func RetryAfter(err error) time.Duration {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// RemoteRef returns the handle of unconfirmed platform work carried by err.
func RemoteRef(err error) string {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Ref
	}
	return ""
}

// withRef tags err with ref unless it already carries one.
func withRef(err error, ref string) error {
	var pe *PublishError
	if errors.As(err, &pe) && pe.Ref == "" {
		pe.Ref = ref
	}
	return err
}

// Class returns the short class name persisted on attempts.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, ErrPayloadRejected):
		return "payload_rejected"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTransientNetwork):
		return "transient_network"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "unknown"
	}
}

// classifyTransport classifies an error raised before any response arrived.
func classifyTransport(ctx context.Context, dest models.Destination, err error) *PublishError {
	var existing *PublishError
	if errors.As(err, &existing) {
		return existing
	}
	pe := &PublishError{Destination: dest, Cause: err}
	if ctxErr := ctx.Err(); ctxErr != nil {
		pe.Cause = ctxErr
		pe.Err = ErrUpstreamUnavailable
		return pe
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		pe.Err = ErrUpstreamUnavailable
		return pe
	}
	pe.Err = ErrTransientNetwork
	return pe
}

// classifyHTTPStatus is the fallback when a platform body carries no usable
// error code.
func classifyHTTPStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized:
		return ErrCredentialExpired
	case status == http.StatusRequestTimeout, status >= 500:
		return ErrUpstreamUnavailable
	default:
		return ErrPayloadRejected
	}
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(h http.Header) time.Duration {
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

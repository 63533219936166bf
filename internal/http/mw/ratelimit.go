package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// PrincipalRequestsPerMinute limits each authenticated principal.
	// 0 means unlimited.
	PrincipalRequestsPerMinute int
	// IPRequestsPerMinute limits unauthenticated requests by IP.
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns the default limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PrincipalRequestsPerMinute: 120,
		IPRequestsPerMinute:        60,
	}
}

// RateLimitByPrincipal returns a middleware that rate limits by principal.
// Should be applied AFTER OptionalAuth. Falls back to IP-based limiting when
// the request is not authenticated.
func RateLimitByPrincipal(cfg RateLimitConfig) func(http.Handler) http.Handler {
	var principalLimiter *httprate.RateLimiter
	if cfg.PrincipalRequestsPerMinute > 0 {
		principalLimiter = httprate.NewRateLimiter(
			cfg.PrincipalRequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return "principal:" + GetPrincipalID(r.Context()), nil
			}),
		)
	}

	ipLimiter := httprate.NewRateLimiter(
		cfg.IPRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)

	return func(next http.Handler) http.Handler {
		limitedByPrincipal := next
		if principalLimiter != nil {
			limitedByPrincipal = principalLimiter.Handler(next)
		}
		limitedByIP := ipLimiter.Handler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetPrincipalID(r.Context()) == "" {
				limitedByIP.ServeHTTP(w, r)
				return
			}
			limitedByPrincipal.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

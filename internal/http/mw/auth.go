// Package mw contains HTTP middleware for the postforge-api.
package mw

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmylchreest/postforge-api/internal/auth"
	"github.com/jmylchreest/postforge-api/internal/logging"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserClaimsKey is the context key for user claims.
	UserClaimsKey ContextKey = "user_claims"
)

// UserClaims are the verified caller identity.
type UserClaims struct {
	PrincipalID string // token subject
	Email       string
	Plan        string
	Admin       bool
}

func claimsFromToken(c *auth.Claims) *UserClaims {
	return &UserClaims{
		PrincipalID: c.Subject,
		Email:       c.Email,
		Plan:        c.Plan,
		Admin:       c.Admin,
	}
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(header)
}

// WithUserClaims stores claims on ctx and tags the logging context.
func WithUserClaims(ctx context.Context, claims *UserClaims) context.Context {
	ctx = context.WithValue(ctx, UserClaimsKey, claims)
	return logging.WithPrincipal(ctx, claims.PrincipalID)
}

// GetUserClaims retrieves user claims from context.
func GetUserClaims(ctx context.Context) *UserClaims {
	claims, ok := ctx.Value(UserClaimsKey).(*UserClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetPrincipalID returns the authenticated principal, or "".
func GetPrincipalID(ctx context.Context) string {
	if claims := GetUserClaims(ctx); claims != nil {
		return claims.PrincipalID
	}
	return ""
}

// OptionalAuth validates a bearer token when one is present and stores the
// claims on the request. Requests without a valid token continue anonymous;
// operations that need auth are rejected later by HumaAuth.
func OptionalAuth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := verifier.Verify(bearerToken(header))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserClaims(r.Context(), claimsFromToken(claims))))
		})
	}
}

package mw

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/postforge-api/internal/auth"
)

// HumaAuthConfig holds dependencies for the Huma auth middleware.
type HumaAuthConfig struct {
	Verifier *auth.Verifier
}

// SecurityScheme is the name of the security scheme used in OpenAPI.
const SecurityScheme = "bearerAuth"

// OperationMetadataKey is the key for storing additional operation requirements.
type OperationMetadataKey string

const (
	// MetaKeyRequireAdmin is metadata key for the admin requirement.
	MetaKeyRequireAdmin OperationMetadataKey = "requireAdmin"
)

// HumaAuth returns a Huma middleware that enforces the operation's security
// requirement. Claims already placed on the request by OptionalAuth are
// reused; otherwise the Authorization header is verified here.
func HumaAuth(api huma.API, cfg HumaAuthConfig) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil || !operationRequiresAuth(op) {
			next(ctx)
			return
		}

		stdCtx := ctx.Context()
		claims := GetUserClaims(stdCtx)
		if claims == nil {
			header := ctx.Header("Authorization")
			if header == "" {
				huma.WriteErr(api, ctx, http.StatusUnauthorized, "missing authorization header")
				return
			}
			if cfg.Verifier == nil {
				huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid token")
				return
			}
			tokenClaims, err := cfg.Verifier.Verify(bearerToken(header))
			if err != nil {
				slog.Debug("auth validation failed", "error", err)
				huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid token")
				return
			}
			claims = claimsFromToken(tokenClaims)
			stdCtx = WithUserClaims(stdCtx, claims)
		}

		if requiresAdmin(op) && !claims.Admin {
			huma.WriteErr(api, ctx, http.StatusForbidden, "admin access required")
			return
		}

		next(huma.WithContext(ctx, stdCtx))
	}
}

// operationRequiresAuth checks if the operation has bearerAuth in its security requirements.
func operationRequiresAuth(op *huma.Operation) bool {
	for _, secReq := range op.Security {
		if _, ok := secReq[SecurityScheme]; ok {
			return true
		}
	}
	return false
}

func requiresAdmin(op *huma.Operation) bool {
	if op.Metadata == nil {
		return false
	}
	b, _ := op.Metadata[string(MetaKeyRequireAdmin)].(bool)
	return b
}

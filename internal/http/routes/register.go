package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/postforge-api/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
// Pass real handler implementations for the main server, or stub implementations
// for OpenAPI generation.
func Register(api huma.API, h *Handlers) {
	// =========================================================================
	// Public Routes (no auth required)
	// =========================================================================

	mw.PublicGet(api, "/api/v1/health", h.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(api, "/healthz", h.Livez)
	mw.HiddenGet(api, "/readyz", h.Readyz)

	// =========================================================================
	// Protected Routes (require bearer auth)
	// =========================================================================

	// --- Generation ---
	generationErrors := mw.WithErrors(
		http.StatusPaymentRequired,
		http.StatusUnprocessableEntity,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
	)
	mw.ProtectedPost(api, "/api/v1/generate", h.Generation.Generate,
		mw.WithTags("Generation"),
		mw.WithSummary("Generate content"),
		mw.WithDescription("Reserves quota, calls the provider, and commits actual usage. Quota is released when the call fails."),
		mw.WithOperationID("generate"),
		generationErrors)
	mw.ProtectedPost(api, "/api/v1/generate/post", h.Generation.GeneratePost,
		mw.WithTags("Generation"),
		mw.WithSummary("Generate a platform post"),
		mw.WithOperationID("generatePost"),
		generationErrors)
	mw.ProtectedPost(api, "/api/v1/generate/hashtags", h.Generation.GenerateHashtags,
		mw.WithTags("Generation"),
		mw.WithSummary("Generate hashtags"),
		mw.WithOperationID("generateHashtags"),
		generationErrors)
	mw.ProtectedPost(api, "/api/v1/generate/ideas", h.Generation.GenerateIdeas,
		mw.WithTags("Generation"),
		mw.WithSummary("Generate post ideas"),
		mw.WithOperationID("generateIdeas"),
		generationErrors)

	// --- LLM Providers ---
	mw.ProtectedGet(api, "/api/v1/llm/providers", h.Providers.ListProviders,
		mw.WithTags("LLM Providers"),
		mw.WithSummary("List providers"),
		mw.WithOperationID("listProviders"))

	// --- Schedule ---
	mw.ProtectedPost(api, "/api/v1/schedule", h.Schedule.Submit,
		mw.WithTags("Schedule"),
		mw.WithSummary("Schedule a post"),
		mw.WithOperationID("submitScheduledItem"),
		mw.WithDefaultStatus(http.StatusCreated),
		mw.WithErrors(http.StatusUnprocessableEntity))
	mw.ProtectedGet(api, "/api/v1/schedule", h.Schedule.List,
		mw.WithTags("Schedule"),
		mw.WithSummary("List scheduled posts"),
		mw.WithOperationID("listScheduledItems"))
	mw.ProtectedDelete(api, "/api/v1/schedule/{id}", h.Schedule.Withdraw,
		mw.WithTags("Schedule"),
		mw.WithSummary("Withdraw a scheduled post"),
		mw.WithDescription("Only items that have not started dispatching can be withdrawn."),
		mw.WithOperationID("withdrawScheduledItem"),
		mw.WithDefaultStatus(http.StatusNoContent),
		mw.WithErrors(http.StatusNotFound, http.StatusConflict))
	mw.ProtectedGet(api, "/api/v1/schedule/{id}/status", h.Schedule.Status,
		mw.WithTags("Schedule"),
		mw.WithSummary("Get dispatch status"),
		mw.WithOperationID("getDispatchStatus"),
		mw.WithErrors(http.StatusNotFound))

	// --- Accounts ---
	mw.ProtectedGet(api, "/api/v1/accounts", h.Accounts.List,
		mw.WithTags("Accounts"),
		mw.WithSummary("List destination accounts"),
		mw.WithOperationID("listAccounts"))
	mw.ProtectedPut(api, "/api/v1/accounts/{destination}", h.Accounts.Save,
		mw.WithTags("Accounts"),
		mw.WithSummary("Connect a destination account"),
		mw.WithOperationID("saveAccount"),
		mw.WithErrors(http.StatusUnprocessableEntity))
	mw.ProtectedDelete(api, "/api/v1/accounts/{destination}", h.Accounts.Delete,
		mw.WithTags("Accounts"),
		mw.WithSummary("Disconnect a destination account"),
		mw.WithOperationID("deleteAccount"),
		mw.WithDefaultStatus(http.StatusNoContent),
		mw.WithErrors(http.StatusNotFound))

	// --- Usage ---
	mw.ProtectedGet(api, "/api/v1/usage", h.Usage.GetUsage,
		mw.WithTags("Usage"),
		mw.WithSummary("Get usage and quota"),
		mw.WithOperationID("getUsage"))
	mw.ProtectedGet(api, "/api/v1/usage/records", h.Usage.ListRecords,
		mw.WithTags("Usage"),
		mw.WithSummary("List usage records"),
		mw.WithOperationID("listUsageRecords"))
}

// Package routes provides shared route registration for the postforge API.
// This allows both the main server and the OpenAPI generator to use
// the same route definitions, ensuring the spec is always in sync.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/postforge-api/internal/http/mw"
	"github.com/jmylchreest/postforge-api/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
// This includes API metadata, security schemes, and tag definitions.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("Postforge API", version.Get().Short())
	cfg.Info.Description = "Metered AI content generation and scheduled publishing to social platforms."

	// Disable $schema field in responses
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Signed JWT whose subject is the principal ID, sent as `Authorization: Bearer <token>`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Generation", Description: "Metered text, idea, hashtag and image generation", Extensions: map[string]any{"x-displayName": "Generation"}},
		{Name: "LLM Providers", Description: "Available providers and models", Extensions: map[string]any{"x-displayName": "LLM Providers"}},
		{Name: "Schedule", Description: "Scheduled posts and dispatch status", Extensions: map[string]any{"x-displayName": "Schedule"}},
		{Name: "Accounts", Description: "Destination account credentials", Extensions: map[string]any{"x-displayName": "Accounts"}},
		{Name: "Usage", Description: "Usage records and quota", Extensions: map[string]any{"x-displayName": "Usage"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}

package handlers

import (
	"context"

	"github.com/jmylchreest/postforge-api/internal/llm"
)

// ProviderCatalog lists providers and their models.
type ProviderCatalog interface {
	Providers() []llm.ProviderInfo
}

// ProvidersHandler serves the provider catalogue.
type ProvidersHandler struct {
	catalog ProviderCatalog
}

// NewProvidersHandler creates a new providers handler.
func NewProvidersHandler(catalog ProviderCatalog) *ProvidersHandler {
	return &ProvidersHandler{catalog: catalog}
}

// ListProvidersOutput represents the provider catalogue response.
type ListProvidersOutput struct {
	Body struct {
		Providers []llm.ProviderInfo `json:"providers"`
	}
}

// ListProviders handles GET /api/v1/llm/providers.
func (h *ProvidersHandler) ListProviders(ctx context.Context, input *struct{}) (*ListProvidersOutput, error) {
	out := &ListProvidersOutput{}
	out.Body.Providers = h.catalog.Providers()
	return out, nil
}

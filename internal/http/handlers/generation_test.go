package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/jmylchreest/postforge-api/internal/llm"
	"github.com/jmylchreest/postforge-api/internal/service"
)

type mockGenerator struct {
	mu       sync.Mutex
	lastGen  service.GenerateInput
	lastPost service.PostInput
	lastArgs []any
	err      error
}

func (m *mockGenerator) result(capability string) (*service.GenerateOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &service.GenerateOutput{Provider: "openai", Model: "gpt-4o-mini", Capability: capability, Content: "ok"}, nil
}

func (m *mockGenerator) Generate(ctx context.Context, in service.GenerateInput) (*service.GenerateOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastGen = in
	return m.result(string(in.Capability))
}

func (m *mockGenerator) GeneratePost(ctx context.Context, in service.PostInput) (*service.GenerateOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPost = in
	return m.result("text")
}

func (m *mockGenerator) GenerateHashtags(ctx context.Context, principalID, provider, model, content, platform string, count int) (*service.GenerateOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastArgs = []any{principalID, provider, model, content, platform, count}
	return m.result("hashtags")
}

func (m *mockGenerator) GenerateIdeas(ctx context.Context, principalID, provider, model, topic, platform string, count int) (*service.GenerateOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastArgs = []any{principalID, provider, model, topic, platform, count}
	return m.result("ideas")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ========================================
// Generate Tests
// ========================================

func TestGenerationHandler_Generate(t *testing.T) {
	gen := &mockGenerator{}
	h := NewGenerationHandler(gen, discardLogger())

	input := &GenerateInput{}
	input.Body.Capability = "text"
	input.Body.Provider = "openai"
	input.Body.Prompt = "write a post"
	input.Body.MaxTokens = 200

	out, err := h.Generate(authed("user_1"), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Body.Content != "ok" {
		t.Errorf("Content = %q, want %q", out.Body.Content, "ok")
	}
	if gen.lastGen.PrincipalID != "user_1" {
		t.Errorf("PrincipalID = %q, want %q", gen.lastGen.PrincipalID, "user_1")
	}
	if gen.lastGen.Capability != llm.CapabilityText {
		t.Errorf("Capability = %q, want %q", gen.lastGen.Capability, llm.CapabilityText)
	}
	if gen.lastGen.MaxTokens != 200 {
		t.Errorf("MaxTokens = %d, want 200", gen.lastGen.MaxTokens)
	}
}

func TestGenerationHandler_RequiresPrincipal(t *testing.T) {
	h := NewGenerationHandler(&mockGenerator{}, discardLogger())

	_, err := h.Generate(context.Background(), &GenerateInput{})
	if got := statusOf(t, err); got != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", got, http.StatusUnauthorized)
	}
}

func TestGenerationHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"quota", &service.QuotaExceededError{Requested: 10}, http.StatusPaymentRequired},
		{"rate limited", &llm.ProviderError{Err: llm.ErrRateLimited}, http.StatusTooManyRequests},
		{"invalid", llm.NewInvalidParams("openai", "gpt-4o", "max_tokens too large"), http.StatusUnprocessableEntity},
		{"upstream", &llm.ProviderError{Err: llm.ErrUpstreamUnavailable}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewGenerationHandler(&mockGenerator{err: tt.err}, discardLogger())
			input := &GenerateInput{}
			input.Body.Capability = "text"
			input.Body.Prompt = "x"

			_, err := h.Generate(authed("user_1"), input)
			if got := statusOf(t, err); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGenerationHandler_GeneratePost(t *testing.T) {
	gen := &mockGenerator{}
	h := NewGenerationHandler(gen, discardLogger())

	input := &GeneratePostInput{}
	input.Body.BusinessDescription = "a bakery"
	input.Body.Platform = "instagram"
	input.Body.Tone = "playful"

	if _, err := h.GeneratePost(authed("user_2"), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := gen.lastPost.Request
	if req.BusinessDescription != "a bakery" || req.Platform != "instagram" || req.Tone != "playful" {
		t.Errorf("Request = %+v, want bakery/instagram/playful", req)
	}
	if gen.lastPost.PrincipalID != "user_2" {
		t.Errorf("PrincipalID = %q, want %q", gen.lastPost.PrincipalID, "user_2")
	}
}

func TestGenerationHandler_HashtagsAndIdeas(t *testing.T) {
	gen := &mockGenerator{}
	h := NewGenerationHandler(gen, discardLogger())

	tags := &GenerateHashtagsInput{}
	tags.Body.Content = "fresh bread"
	tags.Body.Platform = "tiktok"
	tags.Body.Count = 5
	out, err := h.GenerateHashtags(authed("user_3"), tags)
	if err != nil {
		t.Fatalf("GenerateHashtags() error = %v", err)
	}
	if out.Body.Capability != "hashtags" {
		t.Errorf("Capability = %q, want %q", out.Body.Capability, "hashtags")
	}
	if gen.lastArgs[3] != "fresh bread" || gen.lastArgs[5] != 5 {
		t.Errorf("args = %v, want content and count passed through", gen.lastArgs)
	}

	ideas := &GenerateIdeasInput{}
	ideas.Body.Topic = "coffee"
	if _, err := h.GenerateIdeas(authed("user_3"), ideas); err != nil {
		t.Fatalf("GenerateIdeas() error = %v", err)
	}
	if gen.lastArgs[3] != "coffee" {
		t.Errorf("topic = %v, want coffee", gen.lastArgs[3])
	}
}

// ========================================
// Providers Tests
// ========================================

type staticCatalog []llm.ProviderInfo

func (c staticCatalog) Providers() []llm.ProviderInfo { return c }

func TestProvidersHandler_ListProviders(t *testing.T) {
	h := NewProvidersHandler(staticCatalog{{Name: "openai", Configured: true}, {Name: "anthropic"}})

	out, err := h.ListProviders(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Body.Providers) != 2 {
		t.Fatalf("len(Providers) = %d, want 2", len(out.Body.Providers))
	}
	if !out.Body.Providers[0].Configured {
		t.Error("openai should be configured")
	}
}

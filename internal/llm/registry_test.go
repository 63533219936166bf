package llm

import (
	"errors"
	"testing"
)

func TestInitRegistry_OnlyConfigured(t *testing.T) {
	r := InitRegistry(AdapterConfig{
		OpenAI:     OpenAIConfig{APIKey: "sk"},
		OpenRouter: OpenRouterConfig{APIKey: "or"},
	}, nil)

	if _, err := r.Get(ProviderOpenAI); err != nil {
		t.Errorf("Get(openai) error = %v", err)
	}
	if _, err := r.Get(ProviderOpenRouter); err != nil {
		t.Errorf("Get(openrouter) error = %v", err)
	}

	_, err := r.Get(ProviderAnthropic)
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Get(anthropic) error = %v, want ErrInvalidParameters", err)
	}
	_, err = r.Get("cohere")
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Get(cohere) error = %v, want ErrInvalidParameters", err)
	}
}

func TestRegistry_Providers(t *testing.T) {
	r := InitRegistry(AdapterConfig{Anthropic: AnthropicConfig{APIKey: "k"}}, nil)
	infos := r.Providers()
	if len(infos) != len(ValidProviders()) {
		t.Fatalf("Providers() len = %d, want %d", len(infos), len(ValidProviders()))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Name > infos[i].Name {
			t.Error("Providers() should be sorted by name")
		}
	}
	for _, info := range infos {
		if got, want := info.Configured, info.Name == ProviderAnthropic; got != want {
			t.Errorf("%s Configured = %v, want %v", info.Name, got, want)
		}
		for _, m := range info.Models {
			if !m.Image && m.MaxOutputTokens == 0 {
				t.Errorf("%s/%s MaxOutputTokens should be set", info.Name, m.ID)
			}
		}
	}
}

func TestDefaultModel(t *testing.T) {
	tests := []struct {
		provider string
		c        Capability
		want     string
	}{
		{ProviderOpenAI, CapabilityText, "gpt-4o-mini"},
		{ProviderOpenAI, CapabilityImage, "dall-e-3"},
		{ProviderAnthropic, CapabilityHashtags, "claude-3-5-haiku-latest"},
		{ProviderAnthropic, CapabilityImage, ""},
		{"unknown", CapabilityText, ""},
	}
	for _, tt := range tests {
		if got := DefaultModel(tt.provider, tt.c); got != tt.want {
			t.Errorf("DefaultModel(%s, %s) = %q, want %q", tt.provider, tt.c, got, tt.want)
		}
	}
}

func TestAdapters_Supports(t *testing.T) {
	oa := NewOpenAIAdapter(OpenAIConfig{APIKey: "k"})
	or := NewOpenRouterAdapter(OpenRouterConfig{APIKey: "k"})
	if !oa.Supports(CapabilityImage) {
		t.Error("openai should support images")
	}
	if or.Supports(CapabilityImage) {
		t.Error("openrouter should not support images")
	}
	if !or.Supports(CapabilityIdeas) {
		t.Error("openrouter should support ideas")
	}
}

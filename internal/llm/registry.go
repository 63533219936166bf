package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ProviderInfo contains metadata about a provider for API responses.
type ProviderInfo struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Description  string       `json:"description"`
	Capabilities []Capability `json:"capabilities"`
	DefaultModel string       `json:"default_model"`
	ImageModel   string       `json:"image_model,omitempty"`
	Models       []ModelInfo  `json:"models"`
	DocsURL      string       `json:"docs_url,omitempty"`
	Configured   bool         `json:"configured"`
}

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	MaxOutputTokens  int     `json:"max_output_tokens,omitempty"`
	DefaultTemp      float64 `json:"default_temperature"`
	DefaultMaxTokens int     `json:"default_max_tokens"`
	Image            bool    `json:"image,omitempty"`
}

// catalogue is the static provider/model list.
var catalogue = map[string]ProviderInfo{
	ProviderOpenAI: {
		Name:         ProviderOpenAI,
		DisplayName:  "OpenAI",
		Description:  "GPT-4o family for copy, DALL-E for images",
		Capabilities: []Capability{CapabilityText, CapabilityIdeas, CapabilityHashtags, CapabilityImage},
		DefaultModel: "gpt-4o-mini",
		ImageModel:   "dall-e-3",
		DocsURL:      "https://platform.openai.com/docs",
		Models: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
			{ID: "gpt-4", Name: "GPT-4", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", DefaultTemp: 0.7, DefaultMaxTokens: 512},
			{ID: "dall-e-3", Name: "DALL-E 3", Image: true},
			{ID: "dall-e-2", Name: "DALL-E 2", Image: true},
		},
	},
	ProviderAnthropic: {
		Name:         ProviderAnthropic,
		DisplayName:  "Anthropic",
		Description:  "Claude models",
		Capabilities: []Capability{CapabilityText, CapabilityIdeas, CapabilityHashtags},
		DefaultModel: "claude-3-5-haiku-latest",
		DocsURL:      "https://docs.anthropic.com",
		Models: []ModelInfo{
			{ID: "claude-sonnet-4-0", Name: "Claude Sonnet 4", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
			{ID: "claude-3-5-haiku-latest", Name: "Claude 3.5 Haiku", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
			{ID: "claude-3-opus-latest", Name: "Claude 3 Opus", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
		},
	},
	ProviderOpenRouter: {
		Name:         ProviderOpenRouter,
		DisplayName:  "OpenRouter",
		Description:  "Access multiple LLM providers through one API",
		Capabilities: []Capability{CapabilityText, CapabilityIdeas, CapabilityHashtags},
		DefaultModel: "meta-llama/llama-3.1-70b-instruct",
		DocsURL:      "https://openrouter.ai/docs",
		Models: []ModelInfo{
			{ID: "meta-llama/llama-3.1-70b-instruct", Name: "Llama 3.1 70B", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
			{ID: "mistralai/mistral-nemo", Name: "Mistral Nemo", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
			{ID: "google/gemini-2.0-flash-001", Name: "Gemini 2.0 Flash", DefaultTemp: 0.7, DefaultMaxTokens: 1024},
		},
	},
}

// Registry maps provider tags to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register adds an adapter under its Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	r.logger.Debug("registered llm provider", "provider", a.Name())
}

// Get returns the adapter for a provider tag.
func (r *Registry) Get(provider string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		if IsValidProvider(provider) {
			return nil, NewInvalidParams(provider, "", "provider %s is not configured", provider)
		}
		return nil, NewInvalidParams(provider, "", "unknown provider %q", provider)
	}
	return a, nil
}

// DefaultModel returns the default model for a provider and capability.
func DefaultModel(provider string, c Capability) string {
	info, ok := catalogue[provider]
	if !ok {
		return ""
	}
	if c == CapabilityImage {
		return info.ImageModel
	}
	return info.DefaultModel
}

// Providers returns catalogue entries for every known provider, flagging
// those with a registered adapter.
func (r *Registry) Providers() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(catalogue))
	for name, info := range catalogue {
		_, info.Configured = r.adapters[name]
		limits := maxTokensFuncs[name]
		models := make([]ModelInfo, len(info.Models))
		for i, m := range info.Models {
			if !m.Image && limits != nil {
				m.MaxOutputTokens = limits(m.ID)
			}
			models[i] = m
		}
		info.Models = models
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var maxTokensFuncs = map[string]func(string) int{
	ProviderOpenAI:     openAIMaxTokens,
	ProviderAnthropic:  anthropicMaxTokens,
	ProviderOpenRouter: openRouterMaxTokens,
}

// AdapterConfig holds credentials for every provider. Providers without an
// API key are not registered.
type AdapterConfig struct {
	OpenAI     OpenAIConfig
	Anthropic  AnthropicConfig
	OpenRouter OpenRouterConfig
}

// InitRegistry creates a registry with every configured provider.
func InitRegistry(cfg AdapterConfig, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	if cfg.OpenAI.APIKey != "" {
		r.Register(NewOpenAIAdapter(cfg.OpenAI))
	}
	if cfg.Anthropic.APIKey != "" {
		r.Register(NewAnthropicAdapter(cfg.Anthropic))
	}
	if cfg.OpenRouter.APIKey != "" {
		r.Register(NewOpenRouterAdapter(cfg.OpenRouter))
	}
	if len(r.adapters) == 0 {
		r.logger.Warn("no llm providers configured; generation requests will fail")
	}
	return r
}

// String implements fmt.Stringer for logging.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Sprintf("llm.Registry%v", names)
}

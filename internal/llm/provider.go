package llm

import (
	"context"
	"strings"
)

// Provider name constants. Use these instead of string literals.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// ValidProviders returns all supported provider names.
func ValidProviders() []string {
	return []string{ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter}
}

// IsValidProvider returns true if the provider name is valid.
func IsValidProvider(provider string) bool {
	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter:
		return true
	default:
		return false
	}
}

// Capability is a kind of generation request.
type Capability string

const (
	CapabilityText     Capability = "text"
	CapabilityIdeas    Capability = "ideas"
	CapabilityHashtags Capability = "hashtags"
	CapabilityImage    Capability = "image"
)

// IsValid reports whether c is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityText, CapabilityIdeas, CapabilityHashtags, CapabilityImage:
		return true
	}
	return false
}

// IsList reports whether the capability returns a parsed item list.
func (c Capability) IsList() bool {
	return c == CapabilityIdeas || c == CapabilityHashtags
}

// Params carries per-call model parameters.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	// ImageSize is WxH, used only for CapabilityImage.
	ImageSize string
	// Count is the number of ideas or hashtags requested.
	Count int
}

// Usage is the metered consumption of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Images       int `json:"images,omitempty"`
}

// Result is the normalized output of a generation call.
type Result struct {
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Content      string   `json:"content,omitempty"`
	Items        []string `json:"items,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	ImageB64     string   `json:"-"`
	FinishReason string   `json:"finish_reason,omitempty"`
	Usage        Usage    `json:"usage"`
}

// Adapter is the uniform interface to one upstream generation provider.
// Implementations are stateless and safe for concurrent use.
type Adapter interface {
	Name() string
	Supports(c Capability) bool
	// Validate checks provider limits without making a network call.
	Validate(c Capability, prompt string, p Params) error
	// Generate validates and then performs the call. Errors are *ProviderError.
	Generate(ctx context.Context, c Capability, prompt string, p Params) (*Result, error)
}

// completion is the raw output of a chat-style call.
type completion struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// completer is implemented by adapters that expose a chat completion endpoint.
type completer interface {
	complete(ctx context.Context, system, prompt string, p Params) (*completion, error)
}

// generateText runs a text, ideas, or hashtags call through a completer and
// parses list output.
func generateText(ctx context.Context, provider string, cp completer, c Capability, prompt string, p Params) (*Result, error) {
	out, err := cp.complete(ctx, SystemPrompt(c, p.Count), prompt, p)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Provider:     provider,
		Model:        p.Model,
		Content:      strings.TrimSpace(out.Content),
		FinishReason: out.FinishReason,
		Usage: Usage{
			InputTokens:  out.InputTokens,
			OutputTokens: out.OutputTokens,
		},
	}
	switch c {
	case CapabilityHashtags:
		res.Items = ParseHashtags(res.Content, p.Count)
	case CapabilityIdeas:
		res.Items = ParseIdeas(res.Content, p.Count)
	}
	return res, nil
}

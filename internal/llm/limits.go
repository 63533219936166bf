package llm

import (
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	// MaxPromptChars bounds every prompt regardless of provider.
	MaxPromptChars = 32000

	// MinListItems and MaxListItems bound ideas/hashtags counts.
	MinListItems = 1
	MaxListItems = 30

	// DefaultListItems is used when Count is unset.
	DefaultListItems = 10

	// DefaultMaxTokens is used when MaxTokens is unset.
	DefaultMaxTokens = 1024

	// charsPerToken is the rough prompt-size heuristic used for estimates.
	charsPerToken = 4
)

// Limits are the provider-specific constraints checked by Validate.
type Limits struct {
	Capabilities   []Capability
	MaxTemperature float64
	// MaxTokensFor returns the output-token ceiling for a model.
	MaxTokensFor func(model string) int
	// ImageSizesFor returns the allowed sizes for an image model.
	ImageSizesFor func(model string) []string
}

func openAIMaxTokens(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"):
		return 16384
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return 100000
	case strings.HasPrefix(m, "gpt-4-turbo"):
		return 4096
	case strings.HasPrefix(m, "gpt-4"):
		return 8192
	case strings.HasPrefix(m, "gpt-3.5"):
		return 4096
	default:
		return 4096
	}
}

func openAIImageSizes(model string) []string {
	switch strings.ToLower(model) {
	case "dall-e-2":
		return []string{"256x256", "512x512", "1024x1024"}
	case "gpt-image-1":
		return []string{"1024x1024", "1536x1024", "1024x1536", "auto"}
	default:
		return []string{"1024x1024", "1792x1024", "1024x1792"}
	}
}

func anthropicMaxTokens(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude-3-5"), strings.Contains(m, "claude-3.5"):
		return 8192
	case strings.Contains(m, "claude-3-7"), strings.Contains(m, "sonnet-4"):
		return 64000
	case strings.Contains(m, "opus-4"):
		return 32000
	case strings.Contains(m, "claude-3"):
		return 4096
	default:
		return 8192
	}
}

func openRouterMaxTokens(string) int { return 8192 }

// validate applies l to a request. Params must already have defaults filled.
func (l Limits) validate(provider string, c Capability, prompt string, p Params) error {
	if !c.IsValid() {
		return NewInvalidParams(provider, p.Model, "unknown capability %q", c)
	}
	if !slices.Contains(l.Capabilities, c) {
		return NewInvalidParams(provider, p.Model, "provider %s does not support %s generation", provider, c)
	}
	if strings.TrimSpace(p.Model) == "" {
		return NewInvalidParams(provider, p.Model, "model is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return NewInvalidParams(provider, p.Model, "prompt is required")
	}
	if n := utf8.RuneCountInString(prompt); n > MaxPromptChars {
		return NewInvalidParams(provider, p.Model, "prompt is %d characters, maximum is %d", n, MaxPromptChars)
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > l.MaxTemperature) {
		return NewInvalidParams(provider, p.Model, "temperature must be between 0 and %.1f", l.MaxTemperature)
	}

	if c == CapabilityImage {
		sizes := l.ImageSizesFor(p.Model)
		if !slices.Contains(sizes, p.ImageSize) {
			return NewInvalidParams(provider, p.Model, "image size %q is not supported by %s (allowed: %s)",
				p.ImageSize, p.Model, strings.Join(sizes, ", "))
		}
		return nil
	}

	if p.MaxTokens <= 0 {
		return NewInvalidParams(provider, p.Model, "max_tokens must be positive")
	}
	if ceiling := l.MaxTokensFor(p.Model); p.MaxTokens > ceiling {
		return NewInvalidParams(provider, p.Model, "max_tokens %d exceeds the %d limit for %s", p.MaxTokens, ceiling, p.Model)
	}
	if c.IsList() && (p.Count < MinListItems || p.Count > MaxListItems) {
		return NewInvalidParams(provider, p.Model, "count must be between %d and %d", MinListItems, MaxListItems)
	}
	return nil
}

// WithDefaults fills unset parameters.
func (p Params) WithDefaults(c Capability, defaultModel string) Params {
	if p.Model == "" {
		p.Model = defaultModel
	}
	if c == CapabilityImage {
		if p.ImageSize == "" {
			p.ImageSize = "1024x1024"
		}
		return p
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if c.IsList() && p.Count == 0 {
		p.Count = DefaultListItems
	}
	return p
}

// imageUnits is the quota cost of one generated image by size.
var imageUnits = map[string]int64{
	"256x256":   1000,
	"512x512":   2000,
	"1024x1024": 4000,
	"1792x1024": 8000,
	"1024x1792": 8000,
	"1536x1024": 6000,
	"1024x1536": 6000,
	"auto":      8000,
}

// ImageUnits returns the quota units charged for one image of the given size.
func ImageUnits(size string) int64 {
	if u, ok := imageUnits[size]; ok {
		return u
	}
	return 8000
}

// EstimateUnits returns the worst-case quota units for a request: the prompt
// size in tokens plus the full output budget, or the image charge.
func EstimateUnits(c Capability, prompt string, p Params) int64 {
	if c == CapabilityImage {
		return ImageUnits(p.ImageSize)
	}
	promptTokens := (int64(len(prompt)) + charsPerToken - 1) / charsPerToken
	systemTokens := (int64(len(SystemPrompt(c, p.Count))) + charsPerToken - 1) / charsPerToken
	return promptTokens + systemTokens + int64(p.MaxTokens)
}

// ActualUnits converts metered usage into quota units.
func ActualUnits(c Capability, p Params, u Usage) int64 {
	if c == CapabilityImage {
		n := u.Images
		if n == 0 {
			n = 1
		}
		return int64(n) * ImageUnits(p.ImageSize)
	}
	return int64(u.InputTokens + u.OutputTokens)
}

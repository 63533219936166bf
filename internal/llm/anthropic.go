package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	antoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jmylchreest/postforge-api/internal/version"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// AnthropicAdapter generates text through the official Anthropic SDK.
type AnthropicAdapter struct {
	client anthropic.Client
	limits Limits
}

// NewAnthropicAdapter creates an Anthropic adapter with SDK retries disabled.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	opts := []antoption.RequestOption{
		antoption.WithAPIKey(cfg.APIKey),
		antoption.WithMaxRetries(0),
		antoption.WithHeader("User-Agent", version.UserAgent()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, antoption.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, antoption.WithHTTPClient(cfg.HTTPClient))
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		limits: Limits{
			Capabilities:   []Capability{CapabilityText, CapabilityIdeas, CapabilityHashtags},
			MaxTemperature: 1.0,
			MaxTokensFor:   anthropicMaxTokens,
			ImageSizesFor:  func(string) []string { return nil },
		},
	}
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

// Supports reports whether the adapter handles c.
func (a *AnthropicAdapter) Supports(c Capability) bool {
	return c != CapabilityImage && c.IsValid()
}

// Validate checks Anthropic limits.
func (a *AnthropicAdapter) Validate(c Capability, prompt string, p Params) error {
	return a.limits.validate(ProviderAnthropic, c, prompt, p)
}

// Generate performs a Messages API call.
func (a *AnthropicAdapter) Generate(ctx context.Context, c Capability, prompt string, p Params) (*Result, error) {
	if err := a.Validate(c, prompt, p); err != nil {
		return nil, err
	}
	return generateText(ctx, ProviderAnthropic, a, c, prompt, p)
}

func (a *AnthropicAdapter) complete(ctx context.Context, system, prompt string, p Params) (*completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.Model),
		MaxTokens: int64(p.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.Temperature != nil {
		params.Temperature = anthropic.Float(*p.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			var retryAfter time.Duration
			if apiErr.Response != nil {
				retryAfter = ParseRetryAfter(apiErr.Response.Header)
			}
			return nil, ClassifyError(err, ProviderAnthropic, p.Model, apiErr.StatusCode, retryAfter)
		}
		return nil, ClassifyError(err, ProviderAnthropic, p.Model, 0, 0)
	}

	if msg.StopReason == "refusal" {
		return nil, ClassifyError(errors.New("content policy: model refused the request"), ProviderAnthropic, p.Model, 0, 0)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return &completion{
		Content:      b.String(),
		FinishReason: string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

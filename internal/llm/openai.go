package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	oaoption "github.com/openai/openai-go/option"

	"github.com/jmylchreest/postforge-api/internal/version"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIAdapter generates text and images through the official OpenAI SDK.
type OpenAIAdapter struct {
	client openai.Client
	limits Limits
}

// NewOpenAIAdapter creates an OpenAI adapter. SDK retries are disabled; retry
// policy belongs to the caller.
func NewOpenAIAdapter(cfg OpenAIConfig) *OpenAIAdapter {
	opts := []oaoption.RequestOption{
		oaoption.WithAPIKey(cfg.APIKey),
		oaoption.WithMaxRetries(0),
		oaoption.WithHeader("User-Agent", version.UserAgent()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, oaoption.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, oaoption.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		limits: Limits{
			Capabilities:   []Capability{CapabilityText, CapabilityIdeas, CapabilityHashtags, CapabilityImage},
			MaxTemperature: 2.0,
			MaxTokensFor:   openAIMaxTokens,
			ImageSizesFor:  openAIImageSizes,
		},
	}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string { return ProviderOpenAI }

// Supports reports whether the adapter handles c.
func (a *OpenAIAdapter) Supports(c Capability) bool {
	for _, s := range a.limits.Capabilities {
		if s == c {
			return true
		}
	}
	return false
}

// Validate checks OpenAI limits.
func (a *OpenAIAdapter) Validate(c Capability, prompt string, p Params) error {
	return a.limits.validate(ProviderOpenAI, c, prompt, p)
}

// Generate performs a chat completion or image generation.
func (a *OpenAIAdapter) Generate(ctx context.Context, c Capability, prompt string, p Params) (*Result, error) {
	if err := a.Validate(c, prompt, p); err != nil {
		return nil, err
	}
	if c == CapabilityImage {
		return a.generateImage(ctx, prompt, p)
	}
	return generateText(ctx, ProviderOpenAI, a, c, prompt, p)
}

func (a *OpenAIAdapter) complete(ctx context.Context, system, prompt string, p Params) (*completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(int64(p.MaxTokens)),
	}
	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err, ProviderOpenAI, p.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, ClassifyError(errors.New("empty response: no choices returned"), ProviderOpenAI, p.Model, http.StatusBadGateway, 0)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, ClassifyError(errors.New("content_filter: completion stopped by content policy"), ProviderOpenAI, p.Model, 0, 0)
	}
	return &completion{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (a *OpenAIAdapter) generateImage(ctx context.Context, prompt string, p Params) (*Result, error) {
	resp, err := a.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(p.Model),
		Size:   openai.ImageGenerateParamsSize(p.ImageSize),
		N:      openai.Int(1),
	})
	if err != nil {
		return nil, classifyOpenAIError(err, ProviderOpenAI, p.Model)
	}
	if len(resp.Data) == 0 {
		return nil, ClassifyError(errors.New("empty response: no image returned"), ProviderOpenAI, p.Model, http.StatusBadGateway, 0)
	}

	img := resp.Data[0]
	return &Result{
		Provider: ProviderOpenAI,
		Model:    p.Model,
		Content:  img.RevisedPrompt,
		ImageURL: img.URL,
		ImageB64: img.B64JSON,
		Usage:    Usage{Images: 1},
	}, nil
}

func classifyOpenAIError(err error, provider, model string) *ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = ParseRetryAfter(apiErr.Response.Header)
		}
		return ClassifyError(err, provider, model, apiErr.StatusCode, retryAfter)
	}
	return ClassifyError(err, provider, model, 0, 0)
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/postforge-api/internal/version"
)

const (
	// OpenRouterAPIBase is the base URL for OpenRouter API.
	OpenRouterAPIBase = "https://openrouter.ai/api/v1"

	// LLMTimeout bounds a single completion request at the transport level.
	LLMTimeout = 120 * time.Second

	// maxResponseBytes caps how much of an upstream body is read.
	maxResponseBytes = 4 << 20
)

// OpenRouterConfig configures the OpenRouter adapter.
type OpenRouterConfig struct {
	APIKey     string
	BaseURL    string
	Referer    string
	AppTitle   string
	HTTPClient *http.Client
}

// OpenRouterAdapter talks to OpenRouter's OpenAI-compatible chat endpoint over plain HTTP.
type OpenRouterAdapter struct {
	apiKey     string
	baseURL    string
	referer    string
	appTitle   string
	httpClient *http.Client
	limits     Limits
}

// NewOpenRouterAdapter creates a new OpenRouter adapter.
func NewOpenRouterAdapter(cfg OpenRouterConfig) *OpenRouterAdapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = OpenRouterAPIBase
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: LLMTimeout}
	}
	return &OpenRouterAdapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		referer:    cfg.Referer,
		appTitle:   cfg.AppTitle,
		httpClient: httpClient,
		limits: Limits{
			Capabilities:   []Capability{CapabilityText, CapabilityIdeas, CapabilityHashtags},
			MaxTemperature: 2.0,
			MaxTokensFor:   openRouterMaxTokens,
			ImageSizesFor:  func(string) []string { return nil },
		},
	}
}

// Name returns the provider name.
func (a *OpenRouterAdapter) Name() string { return ProviderOpenRouter }

// Supports reports whether the adapter handles c.
func (a *OpenRouterAdapter) Supports(c Capability) bool {
	return c != CapabilityImage && c.IsValid()
}

// Validate checks OpenRouter limits.
func (a *OpenRouterAdapter) Validate(c Capability, prompt string, p Params) error {
	return a.limits.validate(ProviderOpenRouter, c, prompt, p)
}

// Generate performs a chat completion.
func (a *OpenRouterAdapter) Generate(ctx context.Context, c Capability, prompt string, p Params) (*Result, error) {
	if err := a.Validate(c, prompt, p); err != nil {
		return nil, err
	}
	return generateText(ctx, ProviderOpenRouter, a, c, prompt, p)
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openRouterMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *openRouterErrorBody `json:"error,omitempty"`
}

type openRouterErrorBody struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

func (a *OpenRouterAdapter) complete(ctx context.Context, system, prompt string, p Params) (*completion, error) {
	body, err := json.Marshal(openRouterRequest{
		Model: p.Model,
		Messages: []openRouterMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return nil, NewInvalidParams(ProviderOpenRouter, p.Model, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("failed to create request: %w", err), ProviderOpenRouter, p.Model, 0, 0)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if a.referer != "" {
		req.Header.Set("HTTP-Referer", a.referer)
	}
	if a.appTitle != "" {
		req.Header.Set("X-Title", a.appTitle)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// Surface ctx errors directly so deadline classification applies.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, ClassifyError(err, ProviderOpenRouter, p.Model, 0, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("failed to read response: %w", err), ProviderOpenRouter, p.Model, resp.StatusCode, 0)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		var parsed openRouterResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, ClassifyError(fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg),
			ProviderOpenRouter, p.Model, resp.StatusCode, ParseRetryAfter(resp.Header))
	}

	var parsed openRouterResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, ClassifyError(fmt.Errorf("failed to parse response: %w", err), ProviderOpenRouter, p.Model, http.StatusBadGateway, 0)
	}
	// OpenRouter can return 200 with an embedded upstream error.
	if parsed.Error != nil {
		return nil, ClassifyError(errors.New(parsed.Error.Message), ProviderOpenRouter, p.Model, 0, 0)
	}
	if len(parsed.Choices) == 0 {
		return nil, ClassifyError(errors.New("empty response: no choices returned"), ProviderOpenRouter, p.Model, http.StatusBadGateway, 0)
	}

	choice := parsed.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, ClassifyError(errors.New("content_filter: completion stopped by content policy"), ProviderOpenRouter, p.Model, 0, 0)
	}
	return &completion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

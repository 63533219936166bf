package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/postforge-api/internal/llm"
	"github.com/jmylchreest/postforge-api/internal/logging"
	"github.com/jmylchreest/postforge-api/internal/service"
)

// Generator runs metered generation calls.
type Generator interface {
	Generate(ctx context.Context, in service.GenerateInput) (*service.GenerateOutput, error)
	GeneratePost(ctx context.Context, in service.PostInput) (*service.GenerateOutput, error)
	GenerateHashtags(ctx context.Context, principalID, provider, model, content, platform string, count int) (*service.GenerateOutput, error)
	GenerateIdeas(ctx context.Context, principalID, provider, model, topic, platform string, count int) (*service.GenerateOutput, error)
}

// GenerationHandler handles generation endpoints.
type GenerationHandler struct {
	svc    Generator
	logger *slog.Logger
}

// NewGenerationHandler creates a new generation handler.
func NewGenerationHandler(svc Generator, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{svc: svc, logger: logger}
}

// ModelSelection picks the provider and model. Empty values use defaults.
type ModelSelection struct {
	Provider string `json:"provider,omitempty" enum:"openai,anthropic,openrouter" doc:"Provider tag; defaults to the server's default provider"`
	Model    string `json:"model,omitempty" doc:"Model identifier; defaults to the provider's default for the capability"`
}

// GenerateInput represents a raw generation request.
type GenerateInput struct {
	Body struct {
		ModelSelection
		Capability  string   `json:"capability" enum:"text,image,ideas,hashtags" doc:"What to generate"`
		Prompt      string   `json:"prompt" minLength:"1" doc:"Prompt text"`
		MaxTokens   int      `json:"max_tokens,omitempty" doc:"Output token limit"`
		Temperature *float64 `json:"temperature,omitempty" doc:"Sampling temperature"`
		ImageSize   string   `json:"image_size,omitempty" doc:"Image size as WxH (image capability only)"`
		Count       int      `json:"count,omitempty" doc:"Number of items (ideas and hashtags only)"`
	}
}

// GenerateOutput wraps a committed generation result.
type GenerateOutput struct {
	Body *service.GenerateOutput
}

// Generate handles POST /api/v1/generate.
func (h *GenerationHandler) Generate(ctx context.Context, input *GenerateInput) (*GenerateOutput, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	out, err := h.svc.Generate(ctx, service.GenerateInput{
		PrincipalID: principal,
		Capability:  llm.Capability(input.Body.Capability),
		Provider:    input.Body.Provider,
		Model:       input.Body.Model,
		Prompt:      input.Body.Prompt,
		MaxTokens:   input.Body.MaxTokens,
		Temperature: input.Body.Temperature,
		ImageSize:   input.Body.ImageSize,
		Count:       input.Body.Count,
	})
	return h.respond(ctx, out, err)
}

// GeneratePostInput represents a platform-aware post request.
type GeneratePostInput struct {
	Body struct {
		ModelSelection
		BusinessDescription string   `json:"business_description" minLength:"1" doc:"What the business does"`
		Audience            string   `json:"audience,omitempty" doc:"Target audience"`
		Platform            string   `json:"platform,omitempty" enum:"facebook,instagram,tiktok,general" doc:"Target platform"`
		Tone                string   `json:"tone,omitempty" doc:"Tone of voice"`
		MaxChars            int      `json:"max_chars,omitempty" doc:"Soft length limit for the post"`
		MaxTokens           int      `json:"max_tokens,omitempty"`
		Temperature         *float64 `json:"temperature,omitempty"`
	}
}

// GeneratePost handles POST /api/v1/generate/post.
func (h *GenerationHandler) GeneratePost(ctx context.Context, input *GeneratePostInput) (*GenerateOutput, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	out, err := h.svc.GeneratePost(ctx, service.PostInput{
		PrincipalID: principal,
		Provider:    input.Body.Provider,
		Model:       input.Body.Model,
		Request: llm.PostRequest{
			BusinessDescription: input.Body.BusinessDescription,
			Audience:            input.Body.Audience,
			Platform:            input.Body.Platform,
			Tone:                input.Body.Tone,
			MaxChars:            input.Body.MaxChars,
		},
		MaxTokens:   input.Body.MaxTokens,
		Temperature: input.Body.Temperature,
	})
	return h.respond(ctx, out, err)
}

// GenerateHashtagsInput represents a hashtag request.
type GenerateHashtagsInput struct {
	Body struct {
		ModelSelection
		Content  string `json:"content" minLength:"1" doc:"Post content to tag"`
		Platform string `json:"platform,omitempty" enum:"facebook,instagram,tiktok,general"`
		Count    int    `json:"count,omitempty" doc:"Number of hashtags"`
	}
}

// GenerateHashtags handles POST /api/v1/generate/hashtags.
func (h *GenerationHandler) GenerateHashtags(ctx context.Context, input *GenerateHashtagsInput) (*GenerateOutput, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	b := input.Body
	out, err := h.svc.GenerateHashtags(ctx, principal, b.Provider, b.Model, b.Content, b.Platform, b.Count)
	return h.respond(ctx, out, err)
}

// GenerateIdeasInput represents an ideas request.
type GenerateIdeasInput struct {
	Body struct {
		ModelSelection
		Topic    string `json:"topic" minLength:"1" doc:"Topic or business to brainstorm for"`
		Platform string `json:"platform,omitempty" enum:"facebook,instagram,tiktok,general"`
		Count    int    `json:"count,omitempty" doc:"Number of ideas"`
	}
}

// GenerateIdeas handles POST /api/v1/generate/ideas.
func (h *GenerationHandler) GenerateIdeas(ctx context.Context, input *GenerateIdeasInput) (*GenerateOutput, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	b := input.Body
	out, err := h.svc.GenerateIdeas(ctx, principal, b.Provider, b.Model, b.Topic, b.Platform, b.Count)
	return h.respond(ctx, out, err)
}

func (h *GenerationHandler) respond(ctx context.Context, out *service.GenerateOutput, err error) (*GenerateOutput, error) {
	if err != nil {
		httpErr := ToHTTPError(err)
		if statusOfErr(httpErr) >= 500 {
			logging.FromContext(ctx, h.logger).Error("generation failed", "error", err, "class", llm.Class(err))
		}
		return nil, httpErr
	}
	return &GenerateOutput{Body: out}, nil
}

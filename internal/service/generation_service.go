package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/postforge-api/internal/llm"
	"github.com/jmylchreest/postforge-api/internal/metrics"
	"github.com/jmylchreest/postforge-api/internal/models"
)

// DefaultGenerationTimeout bounds one upstream call.
const DefaultGenerationTimeout = 60 * time.Second

// settleTimeout bounds ledger writes made after the caller has gone away.
const settleTimeout = 10 * time.Second

// AdapterSource resolves a provider tag to an adapter.
type AdapterSource interface {
	Get(provider string) (llm.Adapter, error)
}

// CostTable prices metered usage.
type CostTable interface {
	CostUSD(provider, model string, u llm.Usage) float64
}

// refresher is implemented by cost tables that reload in the background.
type refresher interface {
	MaybeRefresh(ctx context.Context)
}

// ImageMirror copies generated images into durable storage.
type ImageMirror interface {
	IsEnabled() bool
	MirrorImage(ctx context.Context, principalID, b64, srcURL string) (string, error)
}

// GenerateInput is one generation request.
type GenerateInput struct {
	PrincipalID string
	Capability  llm.Capability
	Provider    string
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature *float64
	ImageSize   string
	Count       int
}

// GenerateOutput is the result of a committed generation.
type GenerateOutput struct {
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Capability    string    `json:"capability"`
	Content       string    `json:"content,omitempty"`
	Items         []string  `json:"items,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	Usage         llm.Usage `json:"usage"`
	CostUnits     int64     `json:"cost_units"`
	CostUSD       float64   `json:"cost_usd"`
	ReservationID string    `json:"reservation_id"`
	DurationMs    int64     `json:"duration_ms"`
}

// GenerationServiceConfig configures GenerationService.
type GenerationServiceConfig struct {
	Timeout         time.Duration
	DefaultProvider string
}

// GenerationService runs reserve, call, then commit or release for every
// generation request.
type GenerationService struct {
	adapters AdapterSource
	ledger   *LedgerService
	pricing  CostTable
	mirror   ImageMirror
	cfg      GenerationServiceConfig
	logger   *slog.Logger
}

// NewGenerationService creates a new generation service. pricing and mirror
// may be nil.
func NewGenerationService(adapters AdapterSource, ledger *LedgerService, pricing CostTable, mirror ImageMirror, cfg GenerationServiceConfig, logger *slog.Logger) *GenerationService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGenerationTimeout
	}
	return &GenerationService{
		adapters: adapters,
		ledger:   ledger,
		pricing:  pricing,
		mirror:   mirror,
		cfg:      cfg,
		logger:   logger.With("component", "generation"),
	}
}

// Generate performs one metered generation call. Errors are *llm.ProviderError
// or *QuotaExceededError; caller cancellation returns the context error after
// the reservation is released.
func (s *GenerationService) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	provider := in.Provider
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	if in.PrincipalID == "" {
		return nil, llm.NewInvalidParams(provider, in.Model, "principal is required")
	}
	if !in.Capability.IsValid() {
		return nil, llm.NewInvalidParams(provider, in.Model, "unknown capability %q", in.Capability)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, llm.NewInvalidParams(provider, in.Model, "prompt is required")
	}
	if provider == "" {
		return nil, llm.NewInvalidParams("", in.Model, "provider is required")
	}

	adapter, err := s.adapters.Get(provider)
	if err != nil {
		return nil, err
	}
	params := llm.Params{
		Model:       in.Model,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		ImageSize:   in.ImageSize,
		Count:       in.Count,
	}.WithDefaults(in.Capability, llm.DefaultModel(provider, in.Capability))

	if err := adapter.Validate(in.Capability, in.Prompt, params); err != nil {
		return nil, err
	}

	estimated := llm.EstimateUnits(in.Capability, in.Prompt, params)
	res, err := s.ledger.Reserve(ctx, in.PrincipalID, estimated)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			metrics.ObserveGeneration(provider, string(in.Capability), "quota_exceeded", 0)
			if recErr := s.ledger.RecordFailure(context.WithoutCancel(ctx), &models.UsageRecord{
				PrincipalID:  in.PrincipalID,
				Provider:     provider,
				Model:        params.Model,
				Capability:   string(in.Capability),
				ErrorClass:   "quota_exceeded",
				ErrorMessage: err.Error(),
			}); recErr != nil {
				s.logger.Error("failed to record quota rejection", "principal_id", in.PrincipalID, "error", recErr)
			}
		}
		return nil, err
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	result, callErr := adapter.Generate(callCtx, in.Capability, in.Prompt, params)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := time.Since(start)

	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer settleCancel()

	if callErr == nil && ctx.Err() != nil {
		callErr = ctx.Err()
	}
	if callErr != nil {
		return nil, s.fail(settleCtx, ctx, in, provider, params, res, callErr, timedOut, elapsed)
	}

	out := &GenerateOutput{
		Provider:      provider,
		Model:         result.Model,
		Capability:    string(in.Capability),
		Content:       result.Content,
		Items:         result.Items,
		ImageURL:      result.ImageURL,
		Usage:         result.Usage,
		ReservationID: res.ID,
		DurationMs:    elapsed.Milliseconds(),
	}
	if out.Model == "" {
		out.Model = params.Model
	}
	if in.Capability == llm.CapabilityImage {
		out.ImageURL = s.imageURL(settleCtx, in.PrincipalID, result)
	}

	actual := llm.ActualUnits(in.Capability, params, result.Usage)
	if s.pricing != nil {
		if r, ok := s.pricing.(refresher); ok {
			r.MaybeRefresh(ctx)
		}
		out.CostUSD = s.pricing.CostUSD(provider, out.Model, result.Usage)
	}
	record := &models.UsageRecord{
		Provider:     provider,
		Model:        out.Model,
		Capability:   string(in.Capability),
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		CostUSD:      out.CostUSD,
		DurationMs:   out.DurationMs,
	}
	settled, err := s.ledger.Commit(settleCtx, res.ID, actual, record)
	if err != nil {
		s.logger.Error("failed to commit usage",
			"principal_id", in.PrincipalID,
			"reservation_id", res.ID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to commit usage: %w", err)
	}
	out.CostUnits = settled.Charged

	metrics.ObserveGeneration(provider, string(in.Capability), "ok", elapsed)
	metrics.ObserveTokens(provider, out.Model, result.Usage.InputTokens, result.Usage.OutputTokens)
	s.logger.Info("generation completed",
		"principal_id", in.PrincipalID,
		"provider", provider,
		"model", out.Model,
		"capability", in.Capability,
		"units", out.CostUnits,
		"cost_usd", out.CostUSD,
		"duration_ms", out.DurationMs,
	)
	return out, nil
}

// fail releases the reservation with a failure record and returns the error
// the caller should see.
func (s *GenerationService) fail(settleCtx, ctx context.Context, in GenerateInput, provider string, params llm.Params, res *models.Reservation, callErr error, timedOut bool, elapsed time.Duration) error {
	returned := callErr
	cancelled := ctx.Err() != nil && !timedOut
	switch {
	case cancelled:
		returned = ctx.Err()
	case timedOut && !errors.Is(callErr, llm.ErrUpstreamUnavailable):
		returned = llm.ClassifyError(context.DeadlineExceeded, provider, params.Model, 0, 0)
	default:
		var pe *llm.ProviderError
		if !errors.As(callErr, &pe) {
			returned = llm.ClassifyError(callErr, provider, params.Model, 0, 0)
		}
	}

	class := llm.Class(returned)
	if cancelled {
		class = "cancelled"
	}
	record := &models.UsageRecord{
		Provider:     provider,
		Model:        params.Model,
		Capability:   string(in.Capability),
		ErrorClass:   class,
		ErrorMessage: returned.Error(),
		DurationMs:   elapsed.Milliseconds(),
	}
	if err := s.ledger.ReleaseWithRecord(settleCtx, res.ID, record); err != nil {
		s.logger.Error("failed to release reservation",
			"principal_id", in.PrincipalID,
			"reservation_id", res.ID,
			"error", err,
		)
	}

	metrics.ObserveGeneration(provider, string(in.Capability), class, elapsed)
	s.logger.Warn("generation failed",
		"principal_id", in.PrincipalID,
		"provider", provider,
		"model", params.Model,
		"capability", in.Capability,
		"class", class,
		"error", callErr,
	)
	return returned
}

// imageURL mirrors the image when storage is enabled. A failed mirror keeps
// the provider URL.
func (s *GenerationService) imageURL(ctx context.Context, principalID string, r *llm.Result) string {
	if s.mirror == nil || !s.mirror.IsEnabled() {
		if r.ImageURL == "" && r.ImageB64 != "" {
			return "data:image/png;base64," + r.ImageB64
		}
		return r.ImageURL
	}
	url, err := s.mirror.MirrorImage(ctx, principalID, r.ImageB64, r.ImageURL)
	if err != nil {
		s.logger.Warn("failed to mirror generated image", "principal_id", principalID, "error", err)
		if r.ImageURL == "" && r.ImageB64 != "" {
			return "data:image/png;base64," + r.ImageB64
		}
		return r.ImageURL
	}
	return url
}

// PostInput is a platform-aware post request.
type PostInput struct {
	PrincipalID string
	Provider    string
	Model       string
	Request     llm.PostRequest
	MaxTokens   int
	Temperature *float64
}

// GeneratePost renders the post prompt and runs a text generation.
func (s *GenerationService) GeneratePost(ctx context.Context, in PostInput) (*GenerateOutput, error) {
	if strings.TrimSpace(in.Request.BusinessDescription) == "" {
		return nil, llm.NewInvalidParams(in.Provider, in.Model, "business description is required")
	}
	return s.Generate(ctx, GenerateInput{
		PrincipalID: in.PrincipalID,
		Capability:  llm.CapabilityText,
		Provider:    in.Provider,
		Model:       in.Model,
		Prompt:      llm.BuildPostPrompt(in.Request),
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
}

// GenerateHashtags returns count hashtags for content.
func (s *GenerationService) GenerateHashtags(ctx context.Context, principalID, provider, model, content, platform string, count int) (*GenerateOutput, error) {
	if strings.TrimSpace(content) == "" {
		return nil, llm.NewInvalidParams(provider, model, "content is required")
	}
	if count == 0 {
		count = llm.DefaultListItems
	}
	return s.Generate(ctx, GenerateInput{
		PrincipalID: principalID,
		Capability:  llm.CapabilityHashtags,
		Provider:    provider,
		Model:       model,
		Prompt:      llm.BuildHashtagPrompt(content, platform, count),
		Count:       count,
	})
}

// GenerateIdeas returns count post ideas for topic.
func (s *GenerationService) GenerateIdeas(ctx context.Context, principalID, provider, model, topic, platform string, count int) (*GenerateOutput, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, llm.NewInvalidParams(provider, model, "topic is required")
	}
	if count == 0 {
		count = llm.DefaultListItems
	}
	return s.Generate(ctx, GenerateInput{
		PrincipalID: principalID,
		Capability:  llm.CapabilityIdeas,
		Provider:    provider,
		Model:       model,
		Prompt:      llm.BuildIdeasPrompt(topic, platform, count),
		Count:       count,
	})
}

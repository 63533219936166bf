package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/postforge-api/internal/config"
)

// ModelPricing represents pricing for a model.
type ModelPricing struct {
	PromptPricePer1M     float64 `json:"prompt_price_per_1m"`     // Price per 1M input tokens (USD)
	CompletionPricePer1M float64 `json:"completion_price_per_1m"` // Price per 1M output tokens (USD)
	PerImage             float64 `json:"per_image,omitempty"`     // Price per generated image (USD)
	IsFree               bool    `json:"is_free,omitempty"`
}

// PricingFile represents the JSON structure stored in S3.
type PricingFile struct {
	ProviderDefaults map[string]ModelPricing `json:"provider_defaults"`
	ModelOverrides   map[string]ModelPricing `json:"model_overrides"`
}

// Hardcoded fallback pricing (per million tokens, USD)
var defaultProviderPricing = map[string]ModelPricing{
	ProviderOpenRouter: {PromptPricePer1M: 0.50, CompletionPricePer1M: 1.50},
	ProviderOpenAI:     {PromptPricePer1M: 2.50, CompletionPricePer1M: 10.0},
	ProviderAnthropic:  {PromptPricePer1M: 3.00, CompletionPricePer1M: 15.0},
}

var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":        {PromptPricePer1M: 2.50, CompletionPricePer1M: 10.0},
	"gpt-4o-mini":   {PromptPricePer1M: 0.15, CompletionPricePer1M: 0.60},
	"gpt-4":         {PromptPricePer1M: 30.0, CompletionPricePer1M: 60.0},
	"gpt-3.5-turbo": {PromptPricePer1M: 0.50, CompletionPricePer1M: 1.50},
	"dall-e-3":      {PerImage: 0.040},
	"dall-e-2":      {PerImage: 0.020},

	"claude-sonnet-4-0":       {PromptPricePer1M: 3.0, CompletionPricePer1M: 15.0},
	"claude-3-5-haiku-latest": {PromptPricePer1M: 0.80, CompletionPricePer1M: 4.0},
	"claude-3-opus-latest":    {PromptPricePer1M: 15.0, CompletionPricePer1M: 75.0},

	"meta-llama/llama-3.1-70b-instruct": {PromptPricePer1M: 0.35, CompletionPricePer1M: 0.40},
	"mistralai/mistral-nemo":            {PromptPricePer1M: 0.13, CompletionPricePer1M: 0.13},
	"google/gemini-2.0-flash-001":       {PromptPricePer1M: 0.10, CompletionPricePer1M: 0.40},
}

// PricingConfig holds configuration for the pricing table.
type PricingConfig struct {
	// Getter may be nil, in which case only the hardcoded defaults are used.
	Getter   config.ObjectGetter
	Bucket   string
	Key      string
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// PricingTable converts usage into USD. Overrides are read from an S3 object
// and refreshed in the background; lookups never block on S3.
type PricingTable struct {
	loader          *config.S3Loader
	mu              sync.RWMutex
	providerPricing map[string]ModelPricing
	modelPricing    map[string]ModelPricing
	logger          *slog.Logger
}

// NewPricingTable creates a pricing table seeded with the defaults.
func NewPricingTable(cfg PricingConfig) *PricingTable {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &PricingTable{
		loader: config.NewS3Loader(config.S3LoaderConfig{
			Getter:   cfg.Getter,
			Bucket:   cfg.Bucket,
			Key:      cfg.Key,
			CacheTTL: cfg.CacheTTL,
			Logger:   cfg.Logger,
		}),
		logger: cfg.Logger,
	}
	t.providerPricing, t.modelPricing = mergePricing(PricingFile{})
	return t
}

// DefaultPricingFile returns the built-in pricing in the S3 override format,
// suitable as a starting point for an overrides object.
func DefaultPricingFile() PricingFile {
	providers, models := mergePricing(PricingFile{})
	return PricingFile{ProviderDefaults: providers, ModelOverrides: models}
}

func mergePricing(f PricingFile) (map[string]ModelPricing, map[string]ModelPricing) {
	providers := make(map[string]ModelPricing, len(defaultProviderPricing)+len(f.ProviderDefaults))
	models := make(map[string]ModelPricing, len(defaultModelPricing)+len(f.ModelOverrides))
	for k, v := range defaultProviderPricing {
		providers[k] = v
	}
	for k, v := range defaultModelPricing {
		models[k] = v
	}
	for k, v := range f.ProviderDefaults {
		providers[k] = v
	}
	for k, v := range f.ModelOverrides {
		models[k] = v
	}
	return providers, models
}

// MaybeRefresh starts a background refresh when the cached copy is stale.
func (t *PricingTable) MaybeRefresh(ctx context.Context) {
	if !t.loader.IsEnabled() || !t.loader.NeedsRefresh() {
		return
	}
	go t.Refresh(context.WithoutCancel(ctx))
}

// Refresh fetches overrides from S3 synchronously.
func (t *PricingTable) Refresh(ctx context.Context) {
	result, err := t.loader.Fetch(ctx)
	if err != nil || result == nil || result.NotChanged {
		return
	}

	var file PricingFile
	if err := json.Unmarshal(result.Data, &file); err != nil {
		t.logger.Error("failed to parse model pricing JSON", "error", err)
		return
	}
	providers, models := mergePricing(file)

	t.mu.Lock()
	t.providerPricing = providers
	t.modelPricing = models
	t.mu.Unlock()

	t.logger.Info("model pricing loaded from S3",
		"etag", result.Etag,
		"provider_count", len(providers),
		"model_count", len(models),
	)
}

// Lookup returns pricing for a model.
// Priority: model-specific override > provider/model > provider default.
func (t *PricingTable) Lookup(provider, model string) (ModelPricing, bool) {
	t.MaybeRefresh(context.Background())

	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.modelPricing[model]; ok {
		return p, true
	}
	if provider != "" {
		if p, ok := t.modelPricing[provider+"/"+model]; ok {
			return p, true
		}
		if p, ok := t.providerPricing[provider]; ok {
			return p, true
		}
	}
	return ModelPricing{}, false
}

// CostUSD calculates the USD cost of a call.
func (t *PricingTable) CostUSD(provider, model string, u Usage) float64 {
	p, ok := t.Lookup(provider, model)
	if !ok {
		p = fallbackPricing(model)
	}
	if p.IsFree {
		return 0
	}
	cost := float64(u.InputTokens)*p.PromptPricePer1M/1_000_000 +
		float64(u.OutputTokens)*p.CompletionPricePer1M/1_000_000
	cost += float64(u.Images) * p.PerImage
	return cost
}

// fallbackPricing is used when no table entry matches.
func fallbackPricing(model string) ModelPricing {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, ":free"):
		return ModelPricing{IsFree: true}
	case strings.Contains(m, "gpt-4o-mini"):
		return ModelPricing{PromptPricePer1M: 0.15, CompletionPricePer1M: 0.60}
	case strings.Contains(m, "opus"):
		return ModelPricing{PromptPricePer1M: 15.0, CompletionPricePer1M: 75.0}
	case strings.Contains(m, "haiku"):
		return ModelPricing{PromptPricePer1M: 0.80, CompletionPricePer1M: 4.0}
	case strings.Contains(m, "llama"), strings.Contains(m, "mixtral"), strings.Contains(m, "gemma"):
		return ModelPricing{PromptPricePer1M: 0.10, CompletionPricePer1M: 0.40}
	case strings.Contains(m, "dall-e"):
		return ModelPricing{PerImage: 0.040}
	default:
		return ModelPricing{PromptPricePer1M: 0.25, CompletionPricePer1M: 1.00}
	}
}

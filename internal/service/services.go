// Package service contains the business logic layer.
// Principal IDs are the subject of the verified bearer token (e.g. "user_xxx").
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/postforge-api/internal/config"
	"github.com/jmylchreest/postforge-api/internal/crypto"
	"github.com/jmylchreest/postforge-api/internal/destination"
	"github.com/jmylchreest/postforge-api/internal/llm"
	"github.com/jmylchreest/postforge-api/internal/repository"
	"github.com/jmylchreest/postforge-api/internal/version"
)

// Services holds all service instances.
type Services struct {
	Ledger     *LedgerService
	Generation *GenerationService
	Storage    *StorageService
	Accounts   *AccountService
	Schedule   *ScheduleService
	Dispatch   *DispatchService
	Usage      *UsageService
	Cleanup    *CleanupService

	LLM          *llm.Registry
	Pricing      *llm.PricingTable
	Destinations *destination.Registry

	redis redis.UniversalClient
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	storageSvc, err := NewStorageService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	// Pricing overrides come from the same bucket as generated media.
	pricing := llm.NewPricingTable(llm.PricingConfig{
		Getter: storageSvc.Getter(),
		Bucket: storageSvc.Bucket(),
		Key:    cfg.PricingKey,
		Logger: logger.With("component", "pricing"),
	})
	if storageSvc.IsEnabled() {
		go pricing.Refresh(context.Background())
	}

	llmRegistry := llm.InitRegistry(llm.AdapterConfig{
		OpenAI:    llm.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL},
		Anthropic: llm.AnthropicConfig{APIKey: cfg.AnthropicAPIKey, BaseURL: cfg.AnthropicBaseURL},
		OpenRouter: llm.OpenRouterConfig{
			APIKey:   cfg.OpenRouterAPIKey,
			BaseURL:  cfg.OpenRouterBaseURL,
			Referer:  cfg.BaseURL,
			AppTitle: version.UserAgent(),
		},
	}, logger)
	logger.Info("llm providers initialized", "registry", llmRegistry.String())

	ledgerSvc := NewLedgerService(repos, cfg.Quota, logger)
	generationSvc := NewGenerationService(llmRegistry, ledgerSvc, pricing, storageSvc, GenerationServiceConfig{
		Timeout:         cfg.GenerationTimeout,
		DefaultProvider: cfg.DefaultProvider,
	}, logger)

	// Outbound publish limits are shared across processes when Redis is configured.
	var (
		limiter destination.Limiter
		rdb     redis.UniversalClient
	)
	if cfg.RedisEnabled() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		limiter = destination.NewRedisLimiter(rdb, cfg.PublishRatePerMinute, time.Minute)
		logger.Info("publish rate limiting via redis", "per_minute", cfg.PublishRatePerMinute)
	} else {
		limiter = destination.NewLocalLimiter(cfg.PublishRatePerMinute)
		logger.Info("publish rate limiting in-process", "per_minute", cfg.PublishRatePerMinute)
	}

	destinations := destination.NewDefaultRegistry(destination.Config{
		GraphBaseURL:  cfg.FacebookGraphURL,
		TikTokBaseURL: cfg.TikTokAPIURL,
		HTTPClient:    &http.Client{Timeout: cfg.PublishAttemptTimeout},
		Limiter:       limiter,
	})

	accountSvc := NewAccountService(repos.Account, encryptor, logger)
	dispatchSvc := NewDispatchService(repos, destinations, accountSvc, DispatchConfig{
		MaxAttempts:       cfg.PublishMaxAttempts,
		BaseBackoff:       cfg.PublishBaseBackoff,
		MaxBackoff:        cfg.PublishMaxBackoff,
		AttemptTimeout:    cfg.PublishAttemptTimeout,
		InlineRetryWindow: cfg.PublishInlineRetryWindow,
		Lease:             cfg.AttemptLease(),
	}, logger)
	scheduleSvc := NewScheduleService(repos, dispatchSvc, logger)

	return &Services{
		Ledger:       ledgerSvc,
		Generation:   generationSvc,
		Storage:      storageSvc,
		Accounts:     accountSvc,
		Schedule:     scheduleSvc,
		Dispatch:     dispatchSvc,
		Usage:        NewUsageService(repos, ledgerSvc, logger),
		Cleanup:      NewCleanupService(ledgerSvc, storageSvc, logger),
		LLM:          llmRegistry,
		Pricing:      pricing,
		Destinations: destinations,
		redis:        rdb,
	}, nil
}

// Close releases connections held by the services.
func (s *Services) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

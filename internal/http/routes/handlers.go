package routes

import (
	"context"

	"github.com/jmylchreest/postforge-api/internal/http/handlers"
)

// GenerationHandlers defines the interface for generation operations.
type GenerationHandlers interface {
	Generate(ctx context.Context, input *handlers.GenerateInput) (*handlers.GenerateOutput, error)
	GeneratePost(ctx context.Context, input *handlers.GeneratePostInput) (*handlers.GenerateOutput, error)
	GenerateHashtags(ctx context.Context, input *handlers.GenerateHashtagsInput) (*handlers.GenerateOutput, error)
	GenerateIdeas(ctx context.Context, input *handlers.GenerateIdeasInput) (*handlers.GenerateOutput, error)
}

// ProviderHandlers defines the interface for the provider catalogue.
type ProviderHandlers interface {
	ListProviders(ctx context.Context, input *struct{}) (*handlers.ListProvidersOutput, error)
}

// ScheduleHandlers defines the interface for scheduled item operations.
type ScheduleHandlers interface {
	Submit(ctx context.Context, input *handlers.SubmitScheduleInput) (*handlers.ScheduledItemOutput, error)
	List(ctx context.Context, input *handlers.ListScheduleInput) (*handlers.ListScheduleOutput, error)
	Withdraw(ctx context.Context, input *handlers.ScheduleIDInput) (*struct{}, error)
	Status(ctx context.Context, input *handlers.ScheduleIDInput) (*handlers.ScheduleStatusOutput, error)
}

// AccountHandlers defines the interface for destination account operations.
type AccountHandlers interface {
	List(ctx context.Context, input *struct{}) (*handlers.ListAccountsOutput, error)
	Save(ctx context.Context, input *handlers.SaveAccountInput) (*handlers.AccountOutput, error)
	Delete(ctx context.Context, input *handlers.DeleteAccountInput) (*struct{}, error)
}

// UsageHandlers defines the interface for usage operations.
type UsageHandlers interface {
	GetUsage(ctx context.Context, input *handlers.GetUsageInput) (*handlers.GetUsageOutput, error)
	ListRecords(ctx context.Context, input *handlers.ListUsageRecordsInput) (*handlers.ListUsageRecordsOutput, error)
}

// Handlers aggregates all handler interfaces for route registration.
// For the main server, pass real handler implementations.
// For OpenAPI generation, pass stub implementations.
type Handlers struct {
	// Public endpoints
	HealthCheck func(ctx context.Context, input *struct{}) (*handlers.HealthCheckOutput, error)

	// Kubernetes probes (hidden from docs)
	Livez  func(ctx context.Context, input *struct{}) (*handlers.LivezOutput, error)
	Readyz func(ctx context.Context, input *struct{}) (*handlers.ReadyzOutput, error)

	// Protected endpoint handlers
	Generation GenerationHandlers
	Providers  ProviderHandlers
	Schedule   ScheduleHandlers
	Accounts   AccountHandlers
	Usage      UsageHandlers
}

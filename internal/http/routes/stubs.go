package routes

import (
	"context"

	"github.com/jmylchreest/postforge-api/internal/http/handlers"
)

// StubHandlers returns a Handlers instance with stub implementations.
// All handlers return nil responses - these are only used for OpenAPI generation
// where Huma extracts type information from function signatures.
func StubHandlers() *Handlers {
	return &Handlers{
		HealthCheck: stubHealthCheck,
		Livez:       stubLivez,
		Readyz:      stubReadyz,
		Generation:  stubGenerationHandlers{},
		Providers:   stubProviderHandlers{},
		Schedule:    stubScheduleHandlers{},
		Accounts:    stubAccountHandlers{},
		Usage:       stubUsageHandlers{},
	}
}

func stubHealthCheck(_ context.Context, _ *struct{}) (*handlers.HealthCheckOutput, error) {
	return nil, nil
}

func stubLivez(_ context.Context, _ *struct{}) (*handlers.LivezOutput, error) {
	return nil, nil
}

func stubReadyz(_ context.Context, _ *struct{}) (*handlers.ReadyzOutput, error) {
	return nil, nil
}

type stubGenerationHandlers struct{}

func (stubGenerationHandlers) Generate(_ context.Context, _ *handlers.GenerateInput) (*handlers.GenerateOutput, error) {
	return nil, nil
}

func (stubGenerationHandlers) GeneratePost(_ context.Context, _ *handlers.GeneratePostInput) (*handlers.GenerateOutput, error) {
	return nil, nil
}

func (stubGenerationHandlers) GenerateHashtags(_ context.Context, _ *handlers.GenerateHashtagsInput) (*handlers.GenerateOutput, error) {
	return nil, nil
}

func (stubGenerationHandlers) GenerateIdeas(_ context.Context, _ *handlers.GenerateIdeasInput) (*handlers.GenerateOutput, error) {
	return nil, nil
}

type stubProviderHandlers struct{}

func (stubProviderHandlers) ListProviders(_ context.Context, _ *struct{}) (*handlers.ListProvidersOutput, error) {
	return nil, nil
}

type stubScheduleHandlers struct{}

func (stubScheduleHandlers) Submit(_ context.Context, _ *handlers.SubmitScheduleInput) (*handlers.ScheduledItemOutput, error) {
	return nil, nil
}

func (stubScheduleHandlers) List(_ context.Context, _ *handlers.ListScheduleInput) (*handlers.ListScheduleOutput, error) {
	return nil, nil
}

func (stubScheduleHandlers) Withdraw(_ context.Context, _ *handlers.ScheduleIDInput) (*struct{}, error) {
	return nil, nil
}

func (stubScheduleHandlers) Status(_ context.Context, _ *handlers.ScheduleIDInput) (*handlers.ScheduleStatusOutput, error) {
	return nil, nil
}

type stubAccountHandlers struct{}

func (stubAccountHandlers) List(_ context.Context, _ *struct{}) (*handlers.ListAccountsOutput, error) {
	return nil, nil
}

func (stubAccountHandlers) Save(_ context.Context, _ *handlers.SaveAccountInput) (*handlers.AccountOutput, error) {
	return nil, nil
}

func (stubAccountHandlers) Delete(_ context.Context, _ *handlers.DeleteAccountInput) (*struct{}, error) {
	return nil, nil
}

type stubUsageHandlers struct{}

func (stubUsageHandlers) GetUsage(_ context.Context, _ *handlers.GetUsageInput) (*handlers.GetUsageOutput, error) {
	return nil, nil
}

func (stubUsageHandlers) ListRecords(_ context.Context, _ *handlers.ListUsageRecordsInput) (*handlers.ListUsageRecordsOutput, error) {
	return nil, nil
}

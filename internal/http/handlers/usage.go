package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/postforge-api/internal/logging"
	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/service"
)

// UsageReporter reports usage and quota.
type UsageReporter interface {
	GetUsageReport(ctx context.Context, principalID, period string) (*service.UsageReport, error)
	ListRecords(ctx context.Context, principalID string, limit int) ([]*models.UsageRecord, error)
}

// UsageHandler handles usage endpoints.
type UsageHandler struct {
	usageSvc UsageReporter
	logger   *slog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(usageSvc UsageReporter, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{usageSvc: usageSvc, logger: logger}
}

// GetUsageInput represents usage request.
type GetUsageInput struct {
	Period string `query:"period" default:"month" enum:"day,week,month,year" doc:"Time period for usage summary"`
}

// GetUsageOutput represents usage response.
type GetUsageOutput struct {
	Body *service.UsageReport
}

// GetUsage handles getting usage summary and current quota.
func (h *UsageHandler) GetUsage(ctx context.Context, input *GetUsageInput) (*GetUsageOutput, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	report, err := h.usageSvc.GetUsageReport(ctx, principal, input.Period)
	if err != nil {
		logging.FromContext(ctx, h.logger).Error("failed to get usage", "error", err)
		return nil, huma.Error500InternalServerError("failed to get usage")
	}
	return &GetUsageOutput{Body: report}, nil
}

// ListUsageRecordsInput limits the records returned.
type ListUsageRecordsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

// ListUsageRecordsOutput represents recent usage records.
type ListUsageRecordsOutput struct {
	Body struct {
		Records []*models.UsageRecord `json:"records"`
	}
}

// ListRecords handles GET /api/v1/usage/records.
func (h *UsageHandler) ListRecords(ctx context.Context, input *ListUsageRecordsInput) (*ListUsageRecordsOutput, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	records, err := h.usageSvc.ListRecords(ctx, principal, input.Limit)
	if err != nil {
		logging.FromContext(ctx, h.logger).Error("failed to list usage records", "error", err)
		return nil, huma.Error500InternalServerError("failed to list usage records")
	}
	out := &ListUsageRecordsOutput{}
	out.Body.Records = records
	if out.Body.Records == nil {
		out.Body.Records = []*models.UsageRecord{}
	}
	return out, nil
}

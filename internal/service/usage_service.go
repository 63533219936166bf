package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/repository"
)

const (
	defaultUsageRecords = 50
	maxUsageRecords     = 500
)

// UsageReport combines a period's usage totals with the current quota.
type UsageReport struct {
	Period string               `json:"period"`
	Since  time.Time            `json:"since"`
	Usage  *models.UsageSummary `json:"usage"`
	Quota  *models.QuotaState   `json:"quota"`
}

// UsageService handles usage reporting.
type UsageService struct {
	repos  *repository.Repositories
	ledger *LedgerService
	logger *slog.Logger
	now    func() time.Time
}

// NewUsageService creates a new usage service.
func NewUsageService(repos *repository.Repositories, ledger *LedgerService, logger *slog.Logger) *UsageService {
	return &UsageService{
		repos:  repos,
		ledger: ledger,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PeriodStart resolves a period name to its start time. "all" returns the
// zero time.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	now = now.UTC()
	switch period {
	case "", "month":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case "day":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	case "week":
		return now.AddDate(0, 0, -7), nil
	case "all":
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unknown period %q", period)
	}
}

// GetUsageReport retrieves usage totals for a period along with quota state.
func (s *UsageService) GetUsageReport(ctx context.Context, principalID, period string) (*UsageReport, error) {
	if period == "" {
		period = "month"
	}
	since, err := PeriodStart(period, s.now())
	if err != nil {
		return nil, err
	}

	summary, err := s.repos.Usage.Summary(ctx, principalID, since)
	if err != nil {
		return nil, err
	}
	quota, err := s.ledger.State(ctx, principalID)
	if err != nil {
		return nil, err
	}

	return &UsageReport{
		Period: period,
		Since:  since,
		Usage:  summary,
		Quota:  quota,
	}, nil
}

// ListRecords returns the principal's most recent usage records.
func (s *UsageService) ListRecords(ctx context.Context, principalID string, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = defaultUsageRecords
	}
	if limit > maxUsageRecords {
		limit = maxUsageRecords
	}
	return s.repos.Usage.ListByPrincipal(ctx, principalID, limit)
}

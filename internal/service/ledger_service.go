package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/postforge-api/internal/config"
	"github.com/jmylchreest/postforge-api/internal/metrics"
	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/repository"
)

// ErrQuotaExceeded is the class of every quota rejection.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrReservationSettled is returned when a reservation is settled twice.
var ErrReservationSettled = repository.ErrReservationSettled

// QuotaExceededError reports how far a reservation missed the allotment.
type QuotaExceededError struct {
	PrincipalID string
	Requested   int64
	Remaining   int64
	Allotment   int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: requested %d units, %d of %d remaining", e.Requested, e.Remaining, e.Allotment)
}

// Unwrap lets errors.Is match ErrQuotaExceeded.
func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// LedgerService owns every mutation of quota state and the usage log.
type LedgerService struct {
	repos  *repository.Repositories
	quota  config.QuotaConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(repos *repository.Repositories, quota config.QuotaConfig, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		repos:  repos,
		quota:  quota,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

// Reserve places a hold of estimated units for principal. The principal's
// quota row is created with the default allotment on first use.
func (s *LedgerService) Reserve(ctx context.Context, principalID string, estimated int64) (*models.Reservation, error) {
	if principalID == "" {
		return nil, fmt.Errorf("principal id is required")
	}
	if estimated < 0 {
		estimated = 0
	}
	now := s.now().UTC()
	if err := s.repos.Quota.EnsureState(ctx, principalID, s.quota.DefaultAllotment, now); err != nil {
		return nil, err
	}

	res := &models.Reservation{
		ID:          ulid.Make().String(),
		PrincipalID: principalID,
		Amount:      estimated,
		CreatedAt:   now,
	}
	state, err := s.repos.Quota.Reserve(ctx, res)
	if errors.Is(err, repository.ErrInsufficientQuota) {
		qe := &QuotaExceededError{PrincipalID: principalID, Requested: estimated}
		if state != nil {
			qe.Remaining = state.Remaining()
			qe.Allotment = state.Allotment
		}
		metrics.QuotaReservationsTotal.WithLabelValues("rejected").Inc()
		s.logger.Info("reservation rejected",
			"principal_id", principalID,
			"requested", estimated,
			"remaining", qe.Remaining,
		)
		return nil, qe
	}
	if err != nil {
		return nil, err
	}

	metrics.QuotaReservationsTotal.WithLabelValues("held").Inc()
	s.logger.Debug("reservation held",
		"principal_id", principalID,
		"reservation_id", res.ID,
		"amount", estimated,
		"reserved_total", state.Reserved,
	)
	return res, nil
}

// Commit charges min(actual, reserved) units and appends record in the same
// transaction. record.CostUnits is set to the charged amount.
func (s *LedgerService) Commit(ctx context.Context, reservationID string, actual int64, record *models.UsageRecord) (*models.Reservation, error) {
	if record == nil {
		return nil, fmt.Errorf("usage record is required")
	}
	now := s.now().UTC()
	s.prepareRecord(record, now)
	record.Outcome = models.UsageOutcomeSuccess

	res, err := s.repos.Quota.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, repository.ErrReservationNotFound
	}
	charged := actual
	if charged > res.Amount {
		s.logger.Warn("actual usage exceeded reservation; charging reserved amount",
			"reservation_id", reservationID,
			"reserved", res.Amount,
			"actual", actual,
		)
		charged = res.Amount
	}
	if charged < 0 {
		charged = 0
	}
	record.CostUnits = charged

	settled, err := s.repos.Quota.Settle(ctx, reservationID, models.ReservationCommitted, charged, record, now)
	if err != nil {
		return settled, err
	}
	metrics.QuotaUnitsCharged.Add(float64(settled.Charged))
	return settled, nil
}

// Release returns a hold in full without recording usage.
func (s *LedgerService) Release(ctx context.Context, reservationID string) error {
	_, err := s.repos.Quota.Settle(ctx, reservationID, models.ReservationReleased, 0, nil, s.now().UTC())
	return err
}

// ReleaseWithRecord returns a hold in full and appends a zero-cost failed
// usage record in the same transaction.
func (s *LedgerService) ReleaseWithRecord(ctx context.Context, reservationID string, record *models.UsageRecord) error {
	now := s.now().UTC()
	if record != nil {
		s.prepareRecord(record, now)
		record.Outcome = models.UsageOutcomeFailure
		record.CostUnits = 0
		record.CostUSD = 0
	}
	_, err := s.repos.Quota.Settle(ctx, reservationID, models.ReservationReleased, 0, record, now)
	return err
}

// ReleaseStale releases holds older than maxAge. Such holds belong to
// generation calls that never settled, usually because the process died
// mid-call. Each one gets a failed usage record.
func (s *LedgerService) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	stale, err := s.repos.Quota.ListStaleHeld(ctx, cutoff, 500)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, res := range stale {
		err := s.ReleaseWithRecord(ctx, res.ID, &models.UsageRecord{
			ErrorClass:   "abandoned",
			ErrorMessage: "reservation was never settled",
		})
		if errors.Is(err, repository.ErrReservationSettled) {
			continue
		}
		if err != nil {
			return released, err
		}
		released++
		s.logger.Warn("released stale reservation",
			"reservation_id", res.ID,
			"principal_id", res.PrincipalID,
			"amount", res.Amount,
			"created_at", res.CreatedAt,
		)
	}
	return released, nil
}

// RecordFailure appends a zero-cost failed usage record for an attempt that
// never held a reservation.
func (s *LedgerService) RecordFailure(ctx context.Context, record *models.UsageRecord) error {
	if record == nil || record.PrincipalID == "" {
		return fmt.Errorf("usage record with principal id is required")
	}
	s.prepareRecord(record, s.now().UTC())
	record.Outcome = models.UsageOutcomeFailure
	record.CostUnits = 0
	record.CostUSD = 0
	return s.repos.Usage.Create(ctx, record)
}

// ResetAllotment starts a new quota epoch for principal. Replaying an epoch
// that is not newer than the stored one is a no-op and returns false.
func (s *LedgerService) ResetAllotment(ctx context.Context, principalID string, allotment, epoch int64) (bool, error) {
	if allotment < 0 {
		return false, fmt.Errorf("allotment must not be negative")
	}
	applied, err := s.repos.Quota.ResetAllotment(ctx, principalID, allotment, epoch, s.now().UTC())
	if err != nil {
		return false, err
	}
	s.logger.Info("allotment reset",
		"principal_id", principalID,
		"allotment", allotment,
		"epoch", epoch,
		"applied", applied,
	)
	return applied, nil
}

// State returns principal's counters, creating the default row if needed.
func (s *LedgerService) State(ctx context.Context, principalID string) (*models.QuotaState, error) {
	state, err := s.repos.Quota.GetState(ctx, principalID)
	if err != nil || state != nil {
		return state, err
	}
	if err := s.repos.Quota.EnsureState(ctx, principalID, s.quota.DefaultAllotment, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.repos.Quota.GetState(ctx, principalID)
}

func (s *LedgerService) prepareRecord(record *models.UsageRecord, now time.Time) {
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
}

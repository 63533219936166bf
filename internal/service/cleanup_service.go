package service

import (
	"context"
	"log/slog"
	"time"
)

// MediaStore is the slice of StorageService the cleanup job needs.
type MediaStore interface {
	IsEnabled() bool
	DeleteOlderThan(ctx context.Context, prefix string, maxAge time.Duration) (int, error)
}

// CleanupService releases abandoned quota holds and prunes old generated media.
type CleanupService struct {
	ledger  *LedgerService
	storage MediaStore
	logger  *slog.Logger
}

// NewCleanupService creates a new cleanup service. storage may be nil.
func NewCleanupService(ledger *LedgerService, storage MediaStore, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		ledger:  ledger,
		storage: storage,
		logger:  logger.With("component", "cleanup"),
	}
}

// CleanupResult contains the results of a cleanup operation.
type CleanupResult struct {
	ReservationsReleased int
	MediaDeleted         int
	Errors               []error
}

// CleanupOptions bounds what a cleanup run touches.
type CleanupOptions struct {
	// StaleReservationAge is how long a hold may stay unsettled.
	StaleReservationAge time.Duration
	// MediaRetention is how long mirrored generated media is kept.
	// Zero keeps media forever.
	MediaRetention time.Duration
}

// Run performs one cleanup pass. Usage records are never deleted; they are
// the billing history.
func (s *CleanupService) Run(ctx context.Context, opts CleanupOptions) *CleanupResult {
	result := &CleanupResult{}

	s.logger.Info("starting cleanup",
		"stale_reservation_age", opts.StaleReservationAge.String(),
		"media_retention", opts.MediaRetention.String(),
	)

	if opts.StaleReservationAge > 0 {
		n, err := s.ledger.ReleaseStale(ctx, opts.StaleReservationAge)
		result.ReservationsReleased = n
		if err != nil {
			s.logger.Error("failed to release stale reservations", "error", err)
			result.Errors = append(result.Errors, err)
		}
	}

	if opts.MediaRetention > 0 && s.storage != nil && s.storage.IsEnabled() {
		n, err := s.storage.DeleteOlderThan(ctx, generatedPrefix, opts.MediaRetention)
		result.MediaDeleted = n
		if err != nil {
			s.logger.Error("failed to delete old generated media", "error", err)
			result.Errors = append(result.Errors, err)
		}
	}

	s.logger.Info("cleanup completed",
		"reservations_released", result.ReservationsReleased,
		"media_deleted", result.MediaDeleted,
		"errors", len(result.Errors),
	)
	return result
}

// RunScheduled runs cleanup immediately and then at interval until ctx ends.
func (s *CleanupService) RunScheduled(ctx context.Context, opts CleanupOptions, interval time.Duration) {
	s.logger.Info("starting scheduled cleanup", "interval", interval.String())

	s.Run(ctx, opts)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled cleanup stopped")
			return
		case <-ticker.C:
			s.Run(ctx, opts)
		}
	}
}

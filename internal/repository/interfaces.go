// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmylchreest/postforge-api/internal/models"
)

var (
	// ErrInsufficientQuota is returned by Reserve when the hold does not fit
	// under the principal's allotment.
	ErrInsufficientQuota = errors.New("insufficient quota")

	// ErrReservationNotFound is returned when settling an unknown reservation.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrReservationSettled is returned when a reservation was already
	// committed or released.
	ErrReservationSettled = errors.New("reservation already settled")
)

// QuotaRepository defines methods for the quota ledger. Every mutation is a
// single conditional statement so concurrent callers never lose updates.
type QuotaRepository interface {
	EnsureState(ctx context.Context, principalID string, allotment int64, now time.Time) error
	GetState(ctx context.Context, principalID string) (*models.QuotaState, error)
	// Reserve places a hold. On ErrInsufficientQuota the current state is
	// returned alongside the error.
	Reserve(ctx context.Context, res *models.Reservation) (*models.QuotaState, error)
	// Settle moves a held reservation to committed or released, charging
	// charged units when the reservation epoch is current, and appends record
	// in the same transaction when it is non-nil.
	Settle(ctx context.Context, reservationID string, status models.ReservationStatus, charged int64, record *models.UsageRecord, now time.Time) (*models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error)
	// ResetAllotment applies only when epoch is newer than the stored epoch.
	ResetAllotment(ctx context.Context, principalID string, allotment, epoch int64, now time.Time) (bool, error)
}

// UsageRepository defines methods for the append-only usage log.
type UsageRepository interface {
	Create(ctx context.Context, rec *models.UsageRecord) error
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*models.UsageRecord, error)
	Summary(ctx context.Context, principalID string, since time.Time) (*models.UsageSummary, error)
}

// ScheduledItemRepository defines methods for scheduled item persistence.
type ScheduledItemRepository interface {
	// Create inserts the item and its pending attempts in one transaction.
	Create(ctx context.Context, item *models.ScheduledItem, attempts []*models.DestinationAttempt) error
	GetByID(ctx context.Context, id string) (*models.ScheduledItem, error)
	ListByOwner(ctx context.Context, ownerID string, status models.ItemStatus, limit int) ([]*models.ScheduledItem, error)
	// Withdraw marks the item withdrawn if it has not been dispatched yet.
	Withdraw(ctx context.Context, id, ownerID string, now time.Time) (bool, error)
	// ClaimDue atomically claims the oldest due item, or a dispatching item
	// whose lease expired. Returns nil when nothing is due.
	ClaimDue(ctx context.Context, claimToken string, now time.Time, lease time.Duration) (*models.ScheduledItem, error)
	// Finalize and Defer only apply while claimToken still holds the item.
	// They return false once the lease expired and another worker took over.
	Finalize(ctx context.Context, id, claimToken string, status models.ItemStatus, now time.Time) (bool, error)
	// Defer hands the item back to the scheduler with a new due time.
	Defer(ctx context.Context, id, claimToken string, dueAt, now time.Time) (bool, error)
}

// AttemptRepository defines methods for per-destination dispatch attempts.
type AttemptRepository interface {
	EnsureForItem(ctx context.Context, attempts []*models.DestinationAttempt) error
	Get(ctx context.Context, itemID string, dest models.Destination) (*models.DestinationAttempt, error)
	ListByItem(ctx context.Context, itemID string) ([]*models.DestinationAttempt, error)
	// Claim moves the attempt to in_flight. Returns nil when another worker
	// holds it, it is terminal, or its backoff has not elapsed.
	Claim(ctx context.Context, itemID string, dest models.Destination, claimToken string, now time.Time, lease time.Duration) (*models.DestinationAttempt, error)
	MarkSucceeded(ctx context.Context, id, claimToken, platformPostID string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, claimToken string, state models.AttemptState, errClass, errMsg string, nextRetryAt *time.Time, now time.Time) (bool, error)
	SetRemoteRef(ctx context.Context, id, claimToken, ref string, now time.Time) (bool, error)
	// ListPostIDsSince returns post ids other attempts already delivered to dest.
	ListPostIDsSince(ctx context.Context, dest models.Destination, since time.Time) ([]string, error)
	// ExpireExhausted fails attempts that can no longer be claimed because
	// their attempt budget is spent.
	ExpireExhausted(ctx context.Context, itemID string, now time.Time) (int64, error)
}

// DestinationAccountRepository defines methods for publishing credentials.
type DestinationAccountRepository interface {
	Upsert(ctx context.Context, acct *models.DestinationAccount) error
	Get(ctx context.Context, ownerID string, dest models.Destination) (*models.DestinationAccount, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.DestinationAccount, error)
	Delete(ctx context.Context, ownerID string, dest models.Destination) (bool, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Quota         QuotaRepository
	Usage         UsageRepository
	ScheduledItem ScheduledItemRepository
	Attempt       AttemptRepository
	Account       DestinationAccountRepository
}

// NewRepositories creates all repositories backed by db.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Quota:         NewSQLiteQuotaRepository(db),
		Usage:         NewSQLiteUsageRepository(db),
		ScheduledItem: NewSQLiteScheduledItemRepository(db),
		Attempt:       NewSQLiteAttemptRepository(db),
		Account:       NewSQLiteDestinationAccountRepository(db),
	}
}

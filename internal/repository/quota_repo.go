package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/postforge-api/internal/models"
)

// SQLiteQuotaRepository implements QuotaRepository for SQLite/libsql.
type SQLiteQuotaRepository struct {
	db *sql.DB
}

// NewSQLiteQuotaRepository creates a new SQLite quota repository.
func NewSQLiteQuotaRepository(db *sql.DB) *SQLiteQuotaRepository {
	return &SQLiteQuotaRepository{db: db}
}

// EnsureState creates the principal's quota row if it does not exist yet.
func (r *SQLiteQuotaRepository) EnsureState(ctx context.Context, principalID string, allotment int64, now time.Time) error {
	ts := formatTime(now)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quota_states (principal_id, allotment, consumed, reserved, epoch, created_at, updated_at)
		VALUES (?, ?, 0, 0, 0, ?, ?)
		ON CONFLICT(principal_id) DO NOTHING
	`, principalID, allotment, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to ensure quota state: %w", err)
	}
	return nil
}

// GetState retrieves the quota counters for a principal.
func (r *SQLiteQuotaRepository) GetState(ctx context.Context, principalID string) (*models.QuotaState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT principal_id, allotment, consumed, reserved, epoch, updated_at
		FROM quota_states WHERE principal_id = ?
	`, principalID)

	var s models.QuotaState
	var updatedAt string
	err := row.Scan(&s.PrincipalID, &s.Allotment, &s.Consumed, &s.Reserved, &s.Epoch, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota state: %w", err)
	}
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// Reserve places a hold of res.Amount units. The room check and the increment
// are one statement, so two concurrent reservations can never both pass an
// allotment boundary.
func (r *SQLiteQuotaRepository) Reserve(ctx context.Context, res *models.Reservation) (*models.QuotaState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := formatTime(res.CreatedAt)
	var s models.QuotaState
	var updatedAt string
	err = tx.QueryRowContext(ctx, `
		UPDATE quota_states
		SET reserved = reserved + ?, updated_at = ?
		WHERE principal_id = ? AND consumed + reserved + ? <= allotment
		RETURNING principal_id, allotment, consumed, reserved, epoch, updated_at
	`, res.Amount, now, res.PrincipalID, res.Amount).Scan(
		&s.PrincipalID, &s.Allotment, &s.Consumed, &s.Reserved, &s.Epoch, &updatedAt,
	)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		committed = true
		current, getErr := r.GetState(ctx, res.PrincipalID)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrInsufficientQuota
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve quota: %w", err)
	}
	s.UpdatedAt = parseTime(updatedAt)

	res.Epoch = s.Epoch
	res.Status = models.ReservationHeld
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quota_reservations (id, principal_id, amount, epoch, status, charged, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, res.ID, res.PrincipalID, res.Amount, res.Epoch, string(res.Status), now); err != nil {
		return nil, fmt.Errorf("failed to record reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return &s, nil
}

// Settle commits or releases a held reservation exactly once.
func (r *SQLiteQuotaRepository) Settle(ctx context.Context, reservationID string, status models.ReservationStatus, charged int64, record *models.UsageRecord, now time.Time) (*models.Reservation, error) {
	if status != models.ReservationCommitted && status != models.ReservationReleased {
		return nil, fmt.Errorf("invalid settle status %q", status)
	}
	if status == models.ReservationReleased || charged < 0 {
		charged = 0
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(now)
	var res models.Reservation
	var createdAt string
	err = tx.QueryRowContext(ctx, `
		UPDATE quota_reservations
		SET status = ?, charged = MIN(?, amount), settled_at = ?
		WHERE id = ? AND status = 'held'
		RETURNING id, principal_id, amount, epoch, status, charged, created_at
	`, string(status), charged, ts, reservationID).Scan(
		&res.ID, &res.PrincipalID, &res.Amount, &res.Epoch, &res.Status, &res.Charged, &createdAt,
	)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		existing, getErr := r.GetReservation(ctx, reservationID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, ErrReservationNotFound
		}
		return existing, ErrReservationSettled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to settle reservation: %w", err)
	}
	res.CreatedAt = parseTime(createdAt)
	settledAt := parseTime(ts)
	res.SettledAt = &settledAt

	// Holds from a previous epoch are returned but never charged to the
	// current one.
	if _, err := tx.ExecContext(ctx, `
		UPDATE quota_states
		SET reserved = MAX(reserved - ?, 0),
			consumed = consumed + CASE WHEN epoch = ? THEN ? ELSE 0 END,
			updated_at = ?
		WHERE principal_id = ?
	`, res.Amount, res.Epoch, res.Charged, ts, res.PrincipalID); err != nil {
		return nil, fmt.Errorf("failed to update quota state: %w", err)
	}

	if record != nil {
		record.PrincipalID = res.PrincipalID
		record.ReservationID = res.ID
		if err := insertUsageRecord(ctx, tx, record); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &res, nil
}

// GetReservation retrieves a reservation by ID.
func (r *SQLiteQuotaRepository) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var res models.Reservation
	var createdAt string
	var settledAt sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, principal_id, amount, epoch, status, charged, created_at, settled_at
		FROM quota_reservations WHERE id = ?
	`, id).Scan(&res.ID, &res.PrincipalID, &res.Amount, &res.Epoch, &res.Status, &res.Charged, &createdAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	res.CreatedAt = parseTime(createdAt)
	res.SettledAt = parseNullTime(settledAt)
	return &res, nil
}

// ListStaleHeld returns reservations still held that were created before
// cutoff, oldest first.
func (r *SQLiteQuotaRepository) ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal_id, amount, epoch, status, charged, created_at, settled_at
		FROM quota_reservations
		WHERE status = 'held' AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Reservation
	for rows.Next() {
		var res models.Reservation
		var createdAt string
		var settledAt sql.NullString
		if err := rows.Scan(&res.ID, &res.PrincipalID, &res.Amount, &res.Epoch, &res.Status, &res.Charged, &createdAt, &settledAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		res.CreatedAt = parseTime(createdAt)
		res.SettledAt = parseNullTime(settledAt)
		out = append(out, &res)
	}
	return out, rows.Err()
}

// ResetAllotment starts a new quota epoch. Re-applying an epoch that is not
// newer than the stored one changes nothing.
func (r *SQLiteQuotaRepository) ResetAllotment(ctx context.Context, principalID string, allotment, epoch int64, now time.Time) (bool, error) {
	ts := formatTime(now)
	result, err := r.db.ExecContext(ctx, `
		UPDATE quota_states
		SET allotment = ?, consumed = 0, epoch = ?, updated_at = ?
		WHERE principal_id = ? AND epoch < ?
	`, allotment, epoch, ts, principalID, epoch)
	if err != nil {
		return false, fmt.Errorf("failed to reset allotment: %w", err)
	}
	applied, err := affected(result)
	if err != nil || applied {
		return applied, err
	}

	result, err = r.db.ExecContext(ctx, `
		INSERT INTO quota_states (principal_id, allotment, consumed, reserved, epoch, created_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?, ?)
		ON CONFLICT(principal_id) DO NOTHING
	`, principalID, allotment, epoch, ts, ts)
	if err != nil {
		return false, fmt.Errorf("failed to create quota state: %w", err)
	}
	return affected(result)
}

// IsInsufficientQuota reports whether err is ErrInsufficientQuota.
func IsInsufficientQuota(err error) bool {
	return errors.Is(err, ErrInsufficientQuota)
}

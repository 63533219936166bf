package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/postforge-api/internal/models"
)

const attemptColumns = `id, item_id, destination, idempotency_key, state, attempt_count, max_attempts,
	last_error, last_error_class, platform_post_id, next_retry_at, claim_token, lease_expires_at,
	last_attempt_at, first_attempt_at, remote_ref, created_at, updated_at`

// SQLiteAttemptRepository implements AttemptRepository for SQLite/libsql.
type SQLiteAttemptRepository struct {
	db *sql.DB
}

// NewSQLiteAttemptRepository creates a new SQLite attempt repository.
func NewSQLiteAttemptRepository(db *sql.DB) *SQLiteAttemptRepository {
	return &SQLiteAttemptRepository{db: db}
}

// EnsureForItem inserts any attempts that do not exist yet. Existing rows
// keep their state and counters.
func (r *SQLiteAttemptRepository) EnsureForItem(ctx context.Context, attempts []*models.DestinationAttempt) error {
	for _, a := range attempts {
		if err := insertAttempt(ctx, r.db, a, true); err != nil {
			return err
		}
	}
	return nil
}

func insertAttempt(ctx context.Context, ex execer, a *models.DestinationAttempt, ignoreExisting bool) error {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.State == "" {
		a.State = models.AttemptPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	verb := "INSERT"
	if ignoreExisting {
		verb = "INSERT OR IGNORE"
	}
	_, err := ex.ExecContext(ctx, verb+` INTO destination_attempts (
			id, item_id, destination, idempotency_key, state, attempt_count, max_attempts,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`,
		a.ID, a.ItemID, string(a.Destination), a.IdempotencyKey, string(a.State), a.MaxAttempts,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create destination attempt: %w", err)
	}
	return nil
}

// Get retrieves the attempt for an item and destination.
func (r *SQLiteAttemptRepository) Get(ctx context.Context, itemID string, dest models.Destination) (*models.DestinationAttempt, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM destination_attempts
		WHERE item_id = ? AND destination = ?`, itemID, string(dest))
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destination attempt: %w", err)
	}
	return a, nil
}

// ListByItem returns all attempts for an item ordered by destination.
func (r *SQLiteAttemptRepository) ListByItem(ctx context.Context, itemID string) ([]*models.DestinationAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+attemptColumns+` FROM destination_attempts
		WHERE item_id = ? ORDER BY destination`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []*models.DestinationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan destination attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Claim increments attempt_count and moves the attempt in_flight in a single
// conditional update. Only one caller can observe a given attempt number.
func (r *SQLiteAttemptRepository) Claim(ctx context.Context, itemID string, dest models.Destination, claimToken string, now time.Time, lease time.Duration) (*models.DestinationAttempt, error) {
	ts := formatTime(now)
	row := r.db.QueryRowContext(ctx, `
		UPDATE destination_attempts
		SET state = 'in_flight',
			attempt_count = attempt_count + 1,
			claim_token = ?,
			lease_expires_at = ?,
			first_attempt_at = COALESCE(first_attempt_at, last_attempt_at, ?),
			last_attempt_at = ?,
			next_retry_at = NULL,
			updated_at = ?
		WHERE item_id = ? AND destination = ?
			AND attempt_count < max_attempts
			AND (
				state = 'pending'
				OR (state = 'failed_retryable' AND (next_retry_at IS NULL OR next_retry_at <= ?))
				OR (state = 'in_flight' AND lease_expires_at <= ?)
			)
		RETURNING `+attemptColumns,
		claimToken, formatTime(now.Add(lease)), ts, ts, ts, itemID, string(dest), ts, ts,
	)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim destination attempt: %w", err)
	}
	return a, nil
}

// MarkSucceeded records a successful publish. It only applies while the
// caller still holds the claim.
func (r *SQLiteAttemptRepository) MarkSucceeded(ctx context.Context, id, claimToken, platformPostID string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE destination_attempts
		SET state = 'succeeded', platform_post_id = ?, last_error = NULL, last_error_class = NULL,
			claim_token = NULL, lease_expires_at = NULL, next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'in_flight' AND claim_token = ?
	`, nullString(platformPostID), formatTime(now), id, claimToken)
	if err != nil {
		return false, fmt.Errorf("failed to mark attempt succeeded: %w", err)
	}
	return affected(result)
}

// MarkFailed records a failed publish as retryable or permanent.
func (r *SQLiteAttemptRepository) MarkFailed(ctx context.Context, id, claimToken string, state models.AttemptState, errClass, errMsg string, nextRetryAt *time.Time, now time.Time) (bool, error) {
	if state != models.AttemptFailedRetryable && state != models.AttemptFailedPermanent {
		return false, fmt.Errorf("invalid failure state %q", state)
	}
	if state == models.AttemptFailedPermanent {
		nextRetryAt = nil
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE destination_attempts
		SET state = ?, last_error = ?, last_error_class = ?, next_retry_at = ?,
			claim_token = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'in_flight' AND claim_token = ?
	`, string(state), nullString(errMsg), nullString(errClass), nullTime(nextRetryAt), formatTime(now), id, claimToken)
	if err != nil {
		return false, fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	return affected(result)
}

// SetRemoteRef records the platform handle of work an in-flight attempt
// started, so a later attempt can resume it. It only applies while the caller
// holds the claim.
func (r *SQLiteAttemptRepository) SetRemoteRef(ctx context.Context, id, claimToken, ref string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE destination_attempts SET remote_ref = ?, updated_at = ?
		WHERE id = ? AND state = 'in_flight' AND claim_token = ?
	`, nullString(ref), formatTime(now), id, claimToken)
	if err != nil {
		return false, fmt.Errorf("failed to set attempt remote ref: %w", err)
	}
	return affected(result)
}

// ListPostIDsSince returns platform post ids recorded by succeeded attempts
// for dest that were updated at or after since.
func (r *SQLiteAttemptRepository) ListPostIDsSince(ctx context.Context, dest models.Destination, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT platform_post_id FROM destination_attempts
		WHERE destination = ? AND state = 'succeeded' AND platform_post_id IS NOT NULL
			AND updated_at >= ?
	`, string(dest), formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list delivered post ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpireExhausted moves attempts that spent their budget and can no longer be
// claimed into failed_permanent.
func (r *SQLiteAttemptRepository) ExpireExhausted(ctx context.Context, itemID string, now time.Time) (int64, error) {
	ts := formatTime(now)
	result, err := r.db.ExecContext(ctx, `
		UPDATE destination_attempts
		SET state = 'failed_permanent',
			last_error_class = CASE WHEN state = 'in_flight' THEN 'lease_expired' ELSE last_error_class END,
			last_error = CASE WHEN state = 'in_flight' THEN 'lease expired after final attempt' ELSE last_error END,
			claim_token = NULL, lease_expires_at = NULL, next_retry_at = NULL, updated_at = ?
		WHERE item_id = ? AND attempt_count >= max_attempts
			AND (
				state = 'failed_retryable'
				OR (state = 'in_flight' AND lease_expires_at <= ?)
			)
	`, ts, itemID, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to expire exhausted attempts: %w", err)
	}
	return result.RowsAffected()
}

func scanAttempt(s rowScanner) (*models.DestinationAttempt, error) {
	var a models.DestinationAttempt
	var lastError, lastErrorClass, platformPostID, claimToken sql.NullString
	var nextRetryAt, leaseExpiresAt, lastAttemptAt, firstAttemptAt, remoteRef sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(
		&a.ID, &a.ItemID, &a.Destination, &a.IdempotencyKey, &a.State, &a.AttemptCount, &a.MaxAttempts,
		&lastError, &lastErrorClass, &platformPostID, &nextRetryAt, &claimToken, &leaseExpiresAt,
		&lastAttemptAt, &firstAttemptAt, &remoteRef, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.LastError = lastError.String
	a.LastErrorClass = lastErrorClass.String
	a.PlatformPostID = platformPostID.String
	a.ClaimToken = claimToken.String
	a.NextRetryAt = parseNullTime(nextRetryAt)
	a.LeaseExpiresAt = parseNullTime(leaseExpiresAt)
	a.LastAttemptAt = parseNullTime(lastAttemptAt)
	a.FirstAttemptAt = parseNullTime(firstAttemptAt)
	a.RemoteRef = remoteRef.String
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/postforge-api/internal/models"
)

const scheduledItemColumns = `id, owner_id, media_ref, text, hashtags_json, scheduled_at, due_at,
	destinations_json, status, claim_token, lease_expires_at, completed_at, created_at, updated_at`

// SQLiteScheduledItemRepository implements ScheduledItemRepository for SQLite/libsql.
type SQLiteScheduledItemRepository struct {
	db *sql.DB
}

// NewSQLiteScheduledItemRepository creates a new SQLite scheduled item repository.
func NewSQLiteScheduledItemRepository(db *sql.DB) *SQLiteScheduledItemRepository {
	return &SQLiteScheduledItemRepository{db: db}
}

// Create inserts the item and its pending attempts in one transaction.
func (r *SQLiteScheduledItemRepository) Create(ctx context.Context, item *models.ScheduledItem, attempts []*models.DestinationAttempt) error {
	hashtags := item.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}
	hashtagsJSON, err := json.Marshal(hashtags)
	if err != nil {
		return fmt.Errorf("failed to marshal hashtags: %w", err)
	}
	destinationsJSON, err := json.Marshal(item.Destinations)
	if err != nil {
		return fmt.Errorf("failed to marshal destinations: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if item.Status == "" {
		item.Status = models.ItemStatusScheduled
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scheduled_items (
			id, owner_id, media_ref, text, hashtags_json, scheduled_at, due_at,
			destinations_json, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.OwnerID, nullString(item.MediaRef), item.Text, string(hashtagsJSON),
		formatTime(item.ScheduledAt), formatTime(item.DueAt), string(destinationsJSON),
		string(item.Status), formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled item: %w", err)
	}

	for _, a := range attempts {
		if err := insertAttempt(ctx, tx, a, false); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a scheduled item by ID.
func (r *SQLiteScheduledItemRepository) GetByID(ctx context.Context, id string) (*models.ScheduledItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduledItemColumns+` FROM scheduled_items WHERE id = ?`, id)
	item, err := scanScheduledItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled item: %w", err)
	}
	return item, nil
}

// ListByOwner returns an owner's items, newest first. An empty status matches all.
func (r *SQLiteScheduledItemRepository) ListByOwner(ctx context.Context, ownerID string, status models.ItemStatus, limit int) ([]*models.ScheduledItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + scheduledItemColumns + ` FROM scheduled_items WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.ScheduledItem
	for rows.Next() {
		item, err := scanScheduledItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Withdraw marks the item withdrawn while it is still scheduled and no
// destination has been attempted.
func (r *SQLiteScheduledItemRepository) Withdraw(ctx context.Context, id, ownerID string, now time.Time) (bool, error) {
	ts := formatTime(now)
	result, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_items
		SET status = 'withdrawn', completed_at = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = 'scheduled'
			AND NOT EXISTS (
				SELECT 1 FROM destination_attempts
				WHERE item_id = scheduled_items.id AND attempt_count > 0
			)
	`, ts, ts, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to withdraw scheduled item: %w", err)
	}
	return affected(result)
}

// ClaimDue atomically claims the oldest due item using UPDATE...RETURNING.
// The WHERE clause is repeated on the outer UPDATE so two workers racing on
// the same candidate cannot both win.
func (r *SQLiteScheduledItemRepository) ClaimDue(ctx context.Context, claimToken string, now time.Time, lease time.Duration) (*models.ScheduledItem, error) {
	ts := formatTime(now)
	leaseUntil := formatTime(now.Add(lease))
	row := r.db.QueryRowContext(ctx, `
		UPDATE scheduled_items
		SET status = 'dispatching', claim_token = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM scheduled_items
			WHERE (status IN ('scheduled', 'retrying') AND due_at <= ?)
				OR (status = 'dispatching' AND lease_expires_at <= ?)
			ORDER BY due_at ASC, id ASC
			LIMIT 1
		)
		AND (
			(status IN ('scheduled', 'retrying') AND due_at <= ?)
			OR (status = 'dispatching' AND lease_expires_at <= ?)
		)
		RETURNING `+scheduledItemColumns,
		claimToken, leaseUntil, ts, ts, ts, ts, ts,
	)
	item, err := scanScheduledItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim due item: %w", err)
	}
	return item, nil
}

// Finalize records a terminal status on an item still held by claimToken.
func (r *SQLiteScheduledItemRepository) Finalize(ctx context.Context, id, claimToken string, status models.ItemStatus, now time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	ts := formatTime(now)
	result, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_items
		SET status = ?, claim_token = NULL, lease_expires_at = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'dispatching' AND claim_token = ?
	`, string(status), ts, ts, id, claimToken)
	if err != nil {
		return false, fmt.Errorf("failed to finalize scheduled item: %w", err)
	}
	return affected(result)
}

// Defer releases the claim held by claimToken and makes the item due again
// at dueAt.
func (r *SQLiteScheduledItemRepository) Defer(ctx context.Context, id, claimToken string, dueAt, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_items
		SET status = 'retrying', due_at = ?, claim_token = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'dispatching' AND claim_token = ?
	`, formatTime(dueAt), formatTime(now), id, claimToken)
	if err != nil {
		return false, fmt.Errorf("failed to defer scheduled item: %w", err)
	}
	return affected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduledItem(s rowScanner) (*models.ScheduledItem, error) {
	var item models.ScheduledItem
	var mediaRef, claimToken, leaseExpiresAt, completedAt sql.NullString
	var hashtagsJSON, destinationsJSON string
	var scheduledAt, dueAt, createdAt, updatedAt string

	err := s.Scan(
		&item.ID, &item.OwnerID, &mediaRef, &item.Text, &hashtagsJSON, &scheduledAt, &dueAt,
		&destinationsJSON, &item.Status, &claimToken, &leaseExpiresAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.MediaRef = mediaRef.String
	item.ClaimToken = claimToken.String
	item.LeaseExpiresAt = parseNullTime(leaseExpiresAt)
	item.CompletedAt = parseNullTime(completedAt)
	item.ScheduledAt = parseTime(scheduledAt)
	item.DueAt = parseTime(dueAt)
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(hashtagsJSON), &item.Hashtags); err != nil {
		return nil, fmt.Errorf("failed to decode hashtags: %w", err)
	}
	if err := json.Unmarshal([]byte(destinationsJSON), &item.Destinations); err != nil {
		return nil, fmt.Errorf("failed to decode destinations: %w", err)
	}
	return &item, nil
}

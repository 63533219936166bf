package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/postforge-api/internal/models"
)

// SQLiteUsageRepository implements UsageRepository for SQLite/libsql.
type SQLiteUsageRepository struct {
	db *sql.DB
}

// NewSQLiteUsageRepository creates a new SQLite usage repository.
func NewSQLiteUsageRepository(db *sql.DB) *SQLiteUsageRepository {
	return &SQLiteUsageRepository{db: db}
}

// Create appends a usage record that is not tied to a reservation.
func (r *SQLiteUsageRepository) Create(ctx context.Context, rec *models.UsageRecord) error {
	return insertUsageRecord(ctx, r.db, rec)
}

func insertUsageRecord(ctx context.Context, ex execer, rec *models.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO usage_records (
			id, principal_id, reservation_id, provider, model, capability,
			input_tokens, output_tokens, cost_units, cost_usd, outcome,
			error_class, error_message, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.PrincipalID, nullString(rec.ReservationID), rec.Provider, rec.Model, rec.Capability,
		rec.InputTokens, rec.OutputTokens, rec.CostUnits, rec.CostUSD, string(rec.Outcome),
		nullString(rec.ErrorClass), nullString(rec.ErrorMessage), rec.DurationMs, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// ListByPrincipal returns the most recent usage records, newest first.
func (r *SQLiteUsageRepository) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal_id, reservation_id, provider, model, capability,
			input_tokens, output_tokens, cost_units, cost_usd, outcome,
			error_class, error_message, duration_ms, created_at
		FROM usage_records
		WHERE principal_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, principalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		var reservationID, errClass, errMsg sql.NullString
		var createdAt string
		if err := rows.Scan(
			&rec.ID, &rec.PrincipalID, &reservationID, &rec.Provider, &rec.Model, &rec.Capability,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUnits, &rec.CostUSD, &rec.Outcome,
			&errClass, &errMsg, &rec.DurationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.ReservationID = reservationID.String
		rec.ErrorClass = errClass.String
		rec.ErrorMessage = errMsg.String
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Summary aggregates usage since the given time.
func (r *SQLiteUsageRepository) Summary(ctx context.Context, principalID string, since time.Time) (*models.UsageSummary, error) {
	var s models.UsageSummary
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_units), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE principal_id = ? AND created_at >= ?
	`, principalID, formatTime(since)).Scan(
		&s.TotalRequests, &s.Successful, &s.Failed,
		&s.InputTokens, &s.OutputTokens, &s.CostUnits, &s.CostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	return &s, nil
}

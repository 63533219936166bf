package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/postforge-api/internal/models"
)

// SQLiteDestinationAccountRepository implements DestinationAccountRepository for SQLite/libsql.
type SQLiteDestinationAccountRepository struct {
	db *sql.DB
}

// NewSQLiteDestinationAccountRepository creates a new SQLite destination account repository.
func NewSQLiteDestinationAccountRepository(db *sql.DB) *SQLiteDestinationAccountRepository {
	return &SQLiteDestinationAccountRepository{db: db}
}

// Upsert creates or replaces the owner's account for a destination.
func (r *SQLiteDestinationAccountRepository) Upsert(ctx context.Context, acct *models.DestinationAccount) error {
	if acct.ID == "" {
		acct.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO destination_accounts (
			id, owner_id, destination, account_id, account_name, access_token_encrypted,
			expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, destination) DO UPDATE SET
			account_id = excluded.account_id,
			account_name = excluded.account_name,
			access_token_encrypted = excluded.access_token_encrypted,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`,
		acct.ID, acct.OwnerID, string(acct.Destination), acct.AccountID, nullString(acct.AccountName),
		acct.AccessTokenEncrypted, nullTime(acct.ExpiresAt), formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert destination account: %w", err)
	}
	return nil
}

// Get retrieves the owner's account for a destination.
func (r *SQLiteDestinationAccountRepository) Get(ctx context.Context, ownerID string, dest models.Destination) (*models.DestinationAccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, destination, account_id, account_name, access_token_encrypted,
			expires_at, created_at, updated_at
		FROM destination_accounts WHERE owner_id = ? AND destination = ?
	`, ownerID, string(dest))
	acct, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destination account: %w", err)
	}
	return acct, nil
}

// ListByOwner returns all accounts for an owner.
func (r *SQLiteDestinationAccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.DestinationAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, destination, account_id, account_name, access_token_encrypted,
			expires_at, created_at, updated_at
		FROM destination_accounts WHERE owner_id = ? ORDER BY destination
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*models.DestinationAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan destination account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// Delete removes the owner's account for a destination.
func (r *SQLiteDestinationAccountRepository) Delete(ctx context.Context, ownerID string, dest models.Destination) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM destination_accounts WHERE owner_id = ? AND destination = ?`,
		ownerID, string(dest))
	if err != nil {
		return false, fmt.Errorf("failed to delete destination account: %w", err)
	}
	return affected(result)
}

func scanAccount(s rowScanner) (*models.DestinationAccount, error) {
	var acct models.DestinationAccount
	var accountName, expiresAt sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(
		&acct.ID, &acct.OwnerID, &acct.Destination, &acct.AccountID, &accountName,
		&acct.AccessTokenEncrypted, &expiresAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	acct.AccountName = accountName.String
	acct.ExpiresAt = parseNullTime(expiresAt)
	acct.CreatedAt = parseTime(createdAt)
	acct.UpdatedAt = parseTime(updatedAt)
	return &acct, nil
}

package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261003-140000",
		Description: "Add destination_accounts table for publishing credentials",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS destination_accounts (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				destination TEXT NOT NULL,
				account_id TEXT NOT NULL,
				account_name TEXT,
				access_token_encrypted TEXT NOT NULL,
				expires_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(owner_id, destination)
			)`,
		},
	})
}

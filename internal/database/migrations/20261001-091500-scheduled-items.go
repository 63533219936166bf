package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-091500",
		Description: "Add scheduled_items and destination_attempts tables",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS scheduled_items (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				media_ref TEXT,
				text TEXT NOT NULL DEFAULT '',
				hashtags_json TEXT NOT NULL DEFAULT '[]',
				scheduled_at TEXT NOT NULL,
				due_at TEXT NOT NULL,
				destinations_json TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'scheduled',
				claim_token TEXT,
				lease_expires_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scheduled_items_status_due ON scheduled_items(status, due_at)`,
			`CREATE INDEX IF NOT EXISTS idx_scheduled_items_owner ON scheduled_items(owner_id, created_at)`,

			// One row per (item, destination); the unit of claim-based exclusion.
			`CREATE TABLE IF NOT EXISTS destination_attempts (
				id TEXT PRIMARY KEY,
				item_id TEXT NOT NULL REFERENCES scheduled_items(id) ON DELETE CASCADE,
				destination TEXT NOT NULL,
				idempotency_key TEXT NOT NULL,
				state TEXT NOT NULL DEFAULT 'pending',
				attempt_count INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 5,
				last_error TEXT,
				last_error_class TEXT,
				platform_post_id TEXT,
				next_retry_at TEXT,
				claim_token TEXT,
				lease_expires_at TEXT,
				last_attempt_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(item_id, destination)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_destination_attempts_state ON destination_attempts(state, next_retry_at)`,
		},
	})
}

package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-090000",
		Description: "Add quota ledger tables",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS quota_states (
				principal_id TEXT PRIMARY KEY,
				allotment INTEGER NOT NULL,
				consumed INTEGER NOT NULL DEFAULT 0,
				reserved INTEGER NOT NULL DEFAULT 0,
				epoch INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				CHECK (consumed >= 0 AND reserved >= 0 AND allotment >= 0)
			)`,

			`CREATE TABLE IF NOT EXISTS quota_reservations (
				id TEXT PRIMARY KEY,
				principal_id TEXT NOT NULL REFERENCES quota_states(principal_id),
				amount INTEGER NOT NULL,
				epoch INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'held',
				charged INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				settled_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_quota_reservations_principal ON quota_reservations(principal_id, status)`,

			// Append-only audit of every generation attempt.
			`CREATE TABLE IF NOT EXISTS usage_records (
				id TEXT PRIMARY KEY,
				principal_id TEXT NOT NULL,
				reservation_id TEXT,
				provider TEXT NOT NULL,
				model TEXT NOT NULL,
				capability TEXT NOT NULL,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				cost_units INTEGER NOT NULL DEFAULT 0,
				cost_usd REAL NOT NULL DEFAULT 0,
				outcome TEXT NOT NULL,
				error_class TEXT,
				error_message TEXT,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_records_principal_created ON usage_records(principal_id, created_at)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_records_reservation ON usage_records(reservation_id) WHERE reservation_id IS NOT NULL`,
		},
	})
}

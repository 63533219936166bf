package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261019-100000",
		Description: "Track first attempt time and remote handles on destination attempts",
		Up: []string{
			`ALTER TABLE destination_attempts ADD COLUMN first_attempt_at TEXT`,
			// Platform handle of work started by an attempt whose outcome was unknown.
			`ALTER TABLE destination_attempts ADD COLUMN remote_ref TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_destination_attempts_post ON destination_attempts(destination, platform_post_id)`,
		},
	})
}

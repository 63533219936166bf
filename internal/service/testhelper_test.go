package service

import (
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/postforge-api/internal/config"
	"github.com/jmylchreest/postforge-api/internal/database/migrations"
	"github.com/jmylchreest/postforge-api/internal/repository"
)

// setupTestRepos returns repositories over a migrated in-memory database.
func setupTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return repository.NewRepositories(db)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQuota(allotment int64) config.QuotaConfig {
	return config.QuotaConfig{DefaultAllotment: allotment}
}

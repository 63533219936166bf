package repository

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/postforge-api/internal/database/migrations"
	"github.com/jmylchreest/postforge-api/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories with a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	return NewRepositories(setupTestDB(t))
}

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestItem(id, owner string, due time.Time, dests ...models.Destination) (*models.ScheduledItem, []*models.DestinationAttempt) {
	item := &models.ScheduledItem{
		ID:           id,
		OwnerID:      owner,
		Text:         "hello world",
		Hashtags:     []string{"#go"},
		MediaRef:     "https://cdn.example.com/a.jpg",
		ScheduledAt:  due,
		DueAt:        due,
		Destinations: dests,
		Status:       models.ItemStatusScheduled,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	var attempts []*models.DestinationAttempt
	for _, d := range dests {
		attempts = append(attempts, &models.DestinationAttempt{
			ItemID:         id,
			Destination:    d,
			IdempotencyKey: id + "-" + string(d),
			MaxAttempts:    3,
			CreatedAt:      testNow,
			UpdatedAt:      testNow,
		})
	}
	return item, attempts
}

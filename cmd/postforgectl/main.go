// Command postforgectl is the operator CLI for a postforge-api deployment.
// It talks to the database directly and is meant for migrations, quota
// support requests, and dispatch triage.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/postforge-api/internal/database"
	"github.com/jmylchreest/postforge-api/internal/logging"
	"github.com/jmylchreest/postforge-api/internal/repository"
	"github.com/jmylchreest/postforge-api/internal/version"
)

var (
	databaseURL  string
	outputFormat string
	noColor      bool
)

var rootCmd = &cobra.Command{
	Use:           "postforgectl",
	Short:         "Operate a postforge-api deployment",
	Version:       version.Get().Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", getEnvOrDefault("DATABASE_URL", "file:postforge.db?_journal=WAL&_timeout=5000"), "Database DSN (file: or libsql://)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json or yaml")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func cliLogger() *slog.Logger {
	return logging.NewWithWriter(os.Stderr, true, slog.LevelInfo)
}

// openRepos connects to the database and runs pending migrations.
func openRepos() (*sql.DB, *repository.Repositories, error) {
	db, err := database.New(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.MigrateWithLogger(db, cliLogger()); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, repository.NewRepositories(db), nil
}

// printStructured writes v as JSON or YAML. It returns false for table
// output so the caller renders its own view.
func printStructured(w io.Writer, v any) (bool, error) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		// Go through JSON so keys match the API's field names.
		raw, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(doc)
	case "table", "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q", outputFormat)
	}
}

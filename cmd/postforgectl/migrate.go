package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/postforge-api/internal/database"
)

var migrateStatusOnly bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Example: `  postforgectl migrate
  postforgectl migrate --status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.New(databaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() { _ = db.Close() }()

		if !migrateStatusOnly {
			if err := database.MigrateWithLogger(db, cliLogger()); err != nil {
				return err
			}
		}

		applied, err := database.GetAppliedMigrations(db)
		if err != nil {
			return err
		}
		pending, err := database.GetPendingMigrations(db)
		if err != nil {
			return err
		}

		type row struct {
			Timestamp   string `json:"timestamp"`
			Description string `json:"description"`
			State       string `json:"state"`
			AppliedAt   string `json:"applied_at,omitempty"`
		}
		rows := make([]row, 0, len(applied)+len(pending))
		for _, m := range applied {
			rows = append(rows, row{m.Timestamp, m.Description, "applied", m.AppliedAt.Format("2006-01-02 15:04:05")})
		}
		for _, m := range pending {
			rows = append(rows, row{Timestamp: m.Timestamp, Description: m.Description, State: "pending"})
		}

		if done, err := printStructured(os.Stdout, rows); done {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "TIMESTAMP\tSTATE\tAPPLIED\tDESCRIPTION")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Timestamp, stateColor(r.State), r.AppliedAt, r.Description)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatusOnly, "status", false, "Only report migration state")
	rootCmd.AddCommand(migrateCmd)
}

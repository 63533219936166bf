package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/postforge-api/internal/models"
)

var (
	goodColor = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func stateColor(state string) string {
	switch state {
	case "applied", string(models.ItemStatusFullyPublished), string(models.AttemptSucceeded):
		return goodColor.Sprint(state)
	case "pending", string(models.ItemStatusScheduled), string(models.ItemStatusDispatching),
		string(models.ItemStatusRetrying), string(models.ItemStatusPartiallyPublished),
		string(models.AttemptInFlight), string(models.AttemptFailedRetryable):
		return warnColor.Sprint(state)
	case string(models.ItemStatusFailed), string(models.AttemptFailedPermanent):
		return badColor.Sprint(state)
	default:
		return dimColor.Sprint(state)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status <item-id>",
	Short: "Show dispatch status for a scheduled item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, repos, err := openRepos()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		item, err := repos.ScheduledItem.GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("item %s not found", args[0])
		}
		attempts, err := repos.Attempt.ListByItem(cmd.Context(), item.ID)
		if err != nil {
			return err
		}

		view := struct {
			Item     *models.ScheduledItem        `json:"item"`
			Attempts []*models.DestinationAttempt `json:"attempts"`
		}{item, attempts}
		if done, err := printStructured(os.Stdout, view); done {
			return err
		}

		fmt.Printf("item:       %s\n", item.ID)
		fmt.Printf("owner:      %s\n", item.OwnerID)
		fmt.Printf("status:     %s\n", stateColor(string(item.Status)))
		fmt.Printf("scheduled:  %s\n", item.ScheduledAt.Format(time.RFC3339))
		fmt.Printf("due:        %s\n", item.DueAt.Format(time.RFC3339))
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "DESTINATION\tSTATE\tATTEMPTS\tPOST ID\tNEXT RETRY\tLAST ERROR")
		for _, a := range attempts {
			next := ""
			if a.NextRetryAt != nil {
				next = a.NextRetryAt.Format(time.RFC3339)
			}
			lastErr := a.LastError
			if a.LastErrorClass != "" {
				lastErr = a.LastErrorClass + ": " + lastErr
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
				a.Destination, stateColor(string(a.State)), a.AttemptCount, a.MaxAttempts, a.PlatformPostID, next, lastErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

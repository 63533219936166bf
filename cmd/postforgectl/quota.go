package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/postforge-api/internal/config"
	"github.com/jmylchreest/postforge-api/internal/service"
)

var (
	resetAllotment int64
	resetEpoch     int64
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and reset principal quotas",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show <principal-id>",
	Short: "Show a principal's quota state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, repos, err := openRepos()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		state, err := repos.Quota.GetState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("no quota state for %s", args[0])
		}

		if done, err := printStructured(os.Stdout, state); done {
			return err
		}
		fmt.Printf("principal:  %s\n", state.PrincipalID)
		fmt.Printf("allotment:  %d\n", state.Allotment)
		fmt.Printf("consumed:   %d\n", state.Consumed)
		fmt.Printf("reserved:   %d\n", state.Reserved)
		fmt.Printf("remaining:  %d\n", state.Remaining())
		fmt.Printf("epoch:      %d\n", state.Epoch)
		fmt.Printf("updated:    %s\n", state.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <principal-id>",
	Short: "Start a new quota period for a principal",
	Long: `Sets the allotment and clears consumption, exactly as a paid invoice does.
The reset only applies when --epoch is newer than the stored epoch.`,
	Example: `  postforgectl quota reset user_123 --allotment 500000`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetAllotment <= 0 {
			return fmt.Errorf("--allotment must be positive")
		}
		epoch := resetEpoch
		if epoch == 0 {
			epoch = time.Now().Unix()
		}

		db, repos, err := openRepos()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		ledger := service.NewLedgerService(repos, config.QuotaConfig{DefaultAllotment: resetAllotment}, cliLogger())
		applied, err := ledger.ResetAllotment(cmd.Context(), args[0], resetAllotment, epoch)
		if err != nil {
			return err
		}
		if !applied {
			fmt.Printf("reset skipped: stored epoch is not older than %d\n", epoch)
			return nil
		}
		fmt.Printf("reset %s to %d units (epoch %d)\n", args[0], resetAllotment, epoch)
		return nil
	},
}

func init() {
	quotaResetCmd.Flags().Int64Var(&resetAllotment, "allotment", 0, "New allotment in cost units")
	quotaResetCmd.Flags().Int64Var(&resetEpoch, "epoch", 0, "Period epoch (unix seconds, default now)")
	quotaCmd.AddCommand(quotaShowCmd, quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)
}

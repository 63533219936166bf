package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/postforge-api/internal/config"
	"github.com/jmylchreest/postforge-api/internal/service"
)

var (
	cleanupStaleAge       time.Duration
	cleanupMediaRetention time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Release abandoned quota holds and prune old generated media",
	Long: `Runs a single cleanup pass, the same one the server runs on CLEANUP_INTERVAL.
Media pruning needs the storage settings from the environment; when they are
absent only quota holds are released.`,
	Example: `  postforgectl cleanup --stale-age 10m
  postforgectl cleanup --media-retention 168h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, repos, err := openRepos()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		logger := cliLogger()
		quota := config.QuotaConfig{}
		var media service.MediaStore
		if cfg, err := config.Load(); err == nil {
			quota = cfg.Quota
			if cleanupMediaRetention > 0 {
				storage, err := service.NewStorageService(cfg, logger)
				if err != nil {
					return err
				}
				media = storage
			}
		} else if cleanupMediaRetention > 0 {
			logger.Warn("configuration not loadable, skipping media pruning", "error", err)
		}

		ledger := service.NewLedgerService(repos, quota, logger)
		result := service.NewCleanupService(ledger, media, logger).Run(cmd.Context(), service.CleanupOptions{
			StaleReservationAge: cleanupStaleAge,
			MediaRetention:      cleanupMediaRetention,
		})

		fmt.Printf("reservations released: %d\n", result.ReservationsReleased)
		fmt.Printf("media deleted:         %d\n", result.MediaDeleted)
		return errors.Join(result.Errors...)
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupStaleAge, "stale-age", 10*time.Minute, "Release holds older than this (0 skips)")
	cleanupCmd.Flags().DurationVar(&cleanupMediaRetention, "media-retention", 0, "Delete generated media older than this (0 skips)")
	rootCmd.AddCommand(cleanupCmd)
}

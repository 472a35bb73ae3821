package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
	"github.com/LougLynx/RIG-SYSTEM/internal/service"
	"github.com/LougLynx/RIG-SYSTEM/internal/worker"
)

func newArchivePlansCmd(c *cli) *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "archive-plans",
		Short: "Copy the current plan's details into history for one day",
		Long: `archive-plans does by hand what the worker does on each UTC date change.
A day that is already archived is skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := time.Now().UTC()
			if day != "" {
				var err error
				if d, err = time.Parse("2006-01-02", day); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			db, err := openDatabase(c.cfg)
			if err != nil {
				return err
			}
			n, err := service.NewPlanService(repository.NewPlanRepository(db)).ArchiveDay(cmd.Context(), d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d plan details for %s\n", n, d.Format("2006-01-02"))
			return nil
		},
	}
	cmd.Flags().StringVar(&day, "date", "", "day to archive, YYYY-MM-DD (default today, UTC)")
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			db, err := openDatabase(c.cfg)
			if err != nil {
				return err
			}
			if err := infra.RunMigrations(db); err != nil {
				return err
			}
			log.Info().Str("driver", c.cfg.DatabaseDriver).Msg("rig: schema up to date")
			return nil
		},
	}
}

func newReplayDLQCmd(c *cli) *cobra.Command {
	var (
		queue string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "replay-dlq",
		Short: "Move dead-lettered jobs back onto their queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rdb, err := infra.NewRedis(c.cfg.RedisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			n, err := worker.Replay(cmd.Context(), rdb, queue, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d jobs onto %s\n", n, queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&queue, "queue", worker.QueueEmail, "job queue whose DLQ to replay")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of jobs to move")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/middleware"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
	"github.com/LougLynx/RIG-SYSTEM/internal/router"
	"github.com/LougLynx/RIG-SYSTEM/internal/worker"
)

func newWorkerCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the reconciliation loop, the job pool and the ops API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), c)
		},
	}
}

func runWorker(ctx context.Context, c *cli) error {
	cfg := c.cfg
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Background jobs: daily report PDF and outgoing e-mail
	mailer := infra.NewMailer(infra.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	pool := worker.NewPool(a.rdb, cfg.WorkerPoolSize, cfg.JobMaxAttempts)
	pool.Register(worker.QueueReport, worker.NewReportWorker(repository.NewReceivingRepository(a.db), a.dispatcher, cfg.ReportStoragePath))
	if mailer.Configured() {
		pool.Register(worker.QueueEmail, worker.NewEmailWorker(mailer))
	} else {
		log.Warn().Msg("rig: SMTP_HOST not set, e-mail jobs stay queued")
	}

	jobCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))
	pool.Start(jobCtx)
	worker.StartRetryCron(jobCtx, worker.RetryCronConfig{RDB: a.rdb})

	limiter := middleware.NewRateLimiter(600, time.Minute)
	go limiter.RunPurge(jobCtx, router.PurgeInterval)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: router.New(cfg, router.Deps{
			DB:        a.db,
			Redis:     a.rdb,
			Feed:      a.feed,
			Scheduler: a.scheduler,
			Limiter:   limiter,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Msgf("rig: ops API listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("rig: ops API stopped")
		}
	}()

	// Blocks until ctx is cancelled; a realtime connect failure returns at once
	runErr := a.scheduler.Run(ctx)

	log.Info().Msg("rig: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("rig: forced ops API shutdown")
	}
	stopJobs()
	pool.Wait()
	log.Info().Msg("rig: exited")

	return runErr
}

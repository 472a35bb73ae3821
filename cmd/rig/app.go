package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LougLynx/RIG-SYSTEM/internal/config"
	"github.com/LougLynx/RIG-SYSTEM/internal/events"
	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
	"github.com/LougLynx/RIG-SYSTEM/internal/service"
	"github.com/LougLynx/RIG-SYSTEM/internal/worker"
)

// app is the composition root shared by the worker and once commands.
type app struct {
	db         *gorm.DB
	rdb        *redis.Client
	feed       *infra.FeedClient
	dispatcher *worker.Dispatcher
	scheduler  *worker.Scheduler
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := infra.NewDatabase(infra.DatabaseConfig{
		Driver: cfg.DatabaseDriver,
		DSN:    cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.DatabaseDriver, err)
	}
	return db, nil
}

func newApp(cfg *config.Config) (*app, error) {
	// NewDatabase migrates the schema before handing the pool back
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	feed := infra.NewFeedClient(infra.FeedConfig{
		BaseURL: cfg.FeedBaseURL,
		APIKey:  cfg.FeedAPIKey,
		Timeout: cfg.FeedTimeout,
		Breaker: infra.DefaultCBConfig(),
	})

	dispatcher := worker.NewDispatcher(rdb, cfg.AnomalyRecipientList())
	queue := events.NewQueue(0)

	opts := []service.Option{}
	if len(cfg.AnomalyRecipientList()) > 0 {
		opts = append(opts, service.WithAnomalyNotifier(dispatcher))
	}
	receiving := service.NewReceivingService(feed, queue, opts...)

	sc := worker.SchedulerConfig{
		Scope:            repository.NewScope(db),
		Feed:             feed,
		Receiving:        receiving,
		Queue:            queue,
		Channel:          newChannel(cfg, rdb),
		Interval:         cfg.CycleInterval(),
		LookbackDays:     cfg.LookbackDays,
		ReportRecipients: cfg.ReportRecipientList(),
	}
	if len(sc.ReportRecipients) > 0 {
		sc.Reports = dispatcher
	}
	if cfg.CycleLockTTL > 0 {
		sc.Lease = infra.NewCycleLock(rdb, "", cfg.CycleLockTTL)
	}

	return &app{
		db:         db,
		rdb:        rdb,
		feed:       feed,
		dispatcher: dispatcher,
		scheduler:  worker.NewScheduler(sc),
	}, nil
}

func newChannel(cfg *config.Config, rdb *redis.Client) worker.Channel {
	if cfg.RealtimeTransport == "redis" {
		log.Info().Str("channel", cfg.RealtimeRedisChannel).Msg("realtime: using redis pub/sub")
		return infra.NewRedisChannel(rdb, cfg.RealtimeRedisChannel)
	}
	log.Info().Str("url", cfg.HubURL).Msg("realtime: using hub websocket")
	return infra.NewHubClient(infra.HubConfig{
		URL:             cfg.HubURL,
		AccessToken:     cfg.HubAccessToken,
		SkipNegotiation: cfg.HubSkipNegotiation,
	})
}

func (a *app) close() {
	if err := a.rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("rig: closing redis")
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

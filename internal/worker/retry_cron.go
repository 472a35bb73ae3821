package worker

// retry_cron.go
// Background goroutine that gives dead-lettered jobs another chance once the
// outage behind them (SMTP down, report volume full) is likely over. Every
// entry is replayed at most MaxDLQReplays times, and only after a delay that
// doubles with each replay.

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	retryTickInterval = time.Minute
	retryBatchSize    = 50

	// MaxDLQReplays caps automatic replays; later entries stay for manual inspection.
	MaxDLQReplays = 3
)

// RetryCronConfig holds all dependencies for the retry goroutine.
type RetryCronConfig struct {
	RDB       *redis.Client
	Queues    []string // default: report and email queues
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// StartRetryCron launches the retry goroutine. It respects ctx for graceful shutdown.
func StartRetryCron(ctx context.Context, cfg RetryCronConfig) {
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{QueueReport, QueueEmail}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = retryTickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = retryBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		log.Info().Dur("interval", cfg.Interval).Msg("retry_cron: started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("retry_cron: shutting down")
				return
			case <-ticker.C:
				for _, q := range cfg.Queues {
					n, err := ReplayDue(ctx, cfg.RDB, q, cfg.Now(), cfg.BatchSize)
					if err != nil {
						log.Error().Err(err).Str("queue", q).Msg("retry_cron: replay failed")
						continue
					}
					if n > 0 {
						log.Info().Int("count", n).Str("queue", q).Msg("retry_cron: dead letters replayed")
					}
				}
			}
		}
	}()
}

// ReplayDue walks at most limit entries of dlq:{queue} once. Entries whose
// backoff has elapsed and that have replays left go back onto queue; the rest
// are rotated back into the DLQ untouched.
func ReplayDue(ctx context.Context, rdb *redis.Client, queue string, now time.Time, limit int) (int, error) {
	dlq := DLQPrefix + queue
	n, err := rdb.LLen(ctx, dlq).Result()
	if err != nil {
		return 0, err
	}
	if int64(limit) < n {
		n = int64(limit)
	}

	moved := 0
	for i := int64(0); i < n; i++ {
		// RPOPLPUSH onto itself rotates the list without ever dropping an entry
		raw, err := rdb.RPopLPush(ctx, dlq, dlq).Result()
		if err != nil {
			return moved, err
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if !replayDue(entry, now) {
			continue
		}

		job := Job{Type: entry.JobType, Payload: entry.Payload, Replays: entry.Replays + 1}
		if err := push(ctx, rdb, queue, job); err != nil {
			return moved, err
		}
		if err := rdb.LRem(ctx, dlq, 1, raw).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func replayDue(e DLQEntry, now time.Time) bool {
	if e.Replays >= MaxDLQReplays {
		return false
	}
	return !now.Before(e.FailedAt.Add(computeRetryBackoff(e.Replays)))
}

// computeRetryBackoff is 5m, 10m, 20m, ... by replay count.
func computeRetryBackoff(replays int) time.Duration {
	return 5 * time.Minute << uint(replays)
}

package worker

// dlq.go: dead letter lists for report and e-mail jobs.
// A job lands in dlq:{queue} after its last failed attempt and stays there
// until someone inspects it (LRANGE) or replays it with Replay.

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DLQPrefix = "dlq:"

// DLQEntry wraps a failed job with metadata for debugging.
type DLQEntry struct {
	OriginalQueue string          `json:"original_queue"`
	JobType       string          `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      time.Time       `json:"failed_at"`
	Attempts      int             `json:"attempts"`
	Replays       int             `json:"replays"`
}

// SendToDLQ records a job that will not be retried again.
func SendToDLQ(ctx context.Context, rdb *redis.Client, queue string, job Job, reason string) {
	entry := DLQEntry{
		OriginalQueue: queue,
		JobType:       job.Type,
		Payload:       job.Payload,
		Reason:        reason,
		FailedAt:      time.Now().UTC(),
		Attempts:      job.Attempts,
		Replays:       job.Replays,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dlq: marshal entry")
		return
	}

	// the job is already lost if ctx is done; push anyway
	if err := rdb.LPush(context.WithoutCancel(ctx), DLQPrefix+queue, data).Err(); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dlq: push failed")
		return
	}
	log.Warn().
		Str("queue", queue).
		Str("job_type", job.Type).
		Str("reason", reason).
		Int("attempts", job.Attempts).
		Int("replays", job.Replays).
		Msg("dlq: job parked")
}

// DLQLength returns the number of entries in a DLQ for monitoring.
func DLQLength(ctx context.Context, rdb *redis.Client, queue string) (int64, error) {
	return rdb.LLen(ctx, DLQPrefix+queue).Result()
}

// DLQStats reports the length of every job queue's DLQ, for the health endpoint.
func DLQStats(ctx context.Context, rdb *redis.Client) (map[string]int64, error) {
	out := make(map[string]int64, 2)
	for _, q := range []string{QueueReport, QueueEmail} {
		n, err := DLQLength(ctx, rdb, q)
		if err != nil {
			return nil, err
		}
		out[q] = n
	}
	return out, nil
}

// Replay moves up to limit entries from dlq:{queue} back onto queue with a
// fresh attempt counter. It returns how many were moved.
func Replay(ctx context.Context, rdb *redis.Client, queue string, limit int) (int, error) {
	moved := 0
	for moved < limit {
		raw, err := rdb.RPop(ctx, DLQPrefix+queue).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("dlq: dropping unreadable entry")
			continue
		}
		if err := push(ctx, rdb, queue, Job{Type: entry.JobType, Payload: entry.Payload, Replays: entry.Replays}); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

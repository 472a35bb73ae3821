//go:build integration

package worker

// Job queue tests against a real Redis via testcontainers.
// Run with: go test -tags integration ./internal/worker/... -v

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/service"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	rdC, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	url, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []EmailJobPayload
	err  error
}

func (m *recordingMailer) Send(to []string, subject, body, attach string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, EmailJobPayload{To: to, Subject: subject, Body: body, AttachPath: attach})
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestPool_AnomalyEmailDelivered(t *testing.T) {
	rdb := setupRedis(t)
	mailer := &recordingMailer{}
	d := NewDispatcher(rdb, []string{"qa@plant.example"})

	require.NoError(t, d.NotifyAnomaly(context.Background(), service.AnomalyAlert{
		RecordID:     uuid.New(),
		SupplierCode: "S1",
		SupplierName: "ACME",
		Key:          "asn:A1",
		DetectedAt:   time.Now(),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(rdb, 1, 3)
	pool.Register(QueueEmail, NewEmailWorker(mailer))
	pool.Start(ctx)
	t.Cleanup(func() { cancel(); pool.Wait() })

	require.Eventually(t, func() bool { return mailer.count() == 1 }, 10*time.Second, 50*time.Millisecond)
	assert.Contains(t, mailer.sent[0].Subject, "S1")
	assert.Equal(t, []string{"qa@plant.example"}, mailer.sent[0].To)
}

func TestPool_FailedJobsGoToDLQAndReplay(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	mailer := &recordingMailer{err: errors.New("smtp down")}

	d := NewDispatcher(rdb, nil)
	require.NoError(t, d.EnqueueEmail(ctx, EmailJobPayload{To: []string{"a@plant.example"}, Subject: "hi"}))

	runCtx, cancel := context.WithCancel(ctx)
	pool := NewPool(rdb, 1, 1)
	pool.Register(QueueEmail, NewEmailWorker(mailer))
	pool.Start(runCtx)

	require.Eventually(t, func() bool {
		n, _ := DLQLength(ctx, rdb, QueueEmail)
		return n == 1
	}, 10*time.Second, 50*time.Millisecond)
	cancel()
	pool.Wait()

	stats, err := DLQStats(ctx, rdb)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[QueueEmail])
	assert.Equal(t, int64(0), stats[QueueReport])

	raw, err := rdb.LIndex(ctx, DLQPrefix+QueueEmail, 0).Result()
	require.NoError(t, err)
	var entry DLQEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))
	assert.Equal(t, "email", entry.JobType)
	assert.Contains(t, entry.Reason, "smtp down")

	moved, err := Replay(ctx, rdb, QueueEmail, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	n, err := rdb.LLen(ctx, QueueEmail).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReplayDue_RespectsBackoffAndCap(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	SendToDLQ(ctx, rdb, QueueReport, Job{Type: "report", Payload: json.RawMessage(`{"day":"2026-03-09"}`)}, "disk full")
	SendToDLQ(ctx, rdb, QueueReport, Job{Type: "report", Payload: json.RawMessage(`{"day":"2026-03-08"}`), Replays: MaxDLQReplays}, "disk full")

	n, err := ReplayDue(ctx, rdb, QueueReport, time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is due right after failing")

	n, err = ReplayDue(ctx, rdb, QueueReport, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := DLQLength(ctx, rdb, QueueReport)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left, "exhausted entry stays for manual replay")

	raw, err := rdb.RPop(ctx, QueueReport).Result()
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, 1, job.Replays)
}

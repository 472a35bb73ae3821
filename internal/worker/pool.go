package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/LougLynx/RIG-SYSTEM/internal/service"
)

const (
	QueueReport = "jobs:report"
	QueueEmail  = "jobs:email"
)

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	Replays  int             `json:"replays,omitempty"` // times the job came back from the DLQ
}

// Handler processes one job payload. A returned error puts the job back on its
// queue until the attempt limit sends it to the DLQ.
type Handler interface {
	Process(ctx context.Context, raw json.RawMessage) error
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb               *redis.Client
	anomalyRecipients []string
}

func NewDispatcher(rdb *redis.Client, anomalyRecipients []string) *Dispatcher {
	return &Dispatcher{rdb: rdb, anomalyRecipients: anomalyRecipients}
}

// EnqueueReport pushes a daily report job to Redis.
func (d *Dispatcher) EnqueueReport(ctx context.Context, payload ReportJobPayload) error {
	return d.enqueue(ctx, QueueReport, "report", payload)
}

// EnqueueEmail pushes an email job to Redis.
func (d *Dispatcher) EnqueueEmail(ctx context.Context, payload EmailJobPayload) error {
	return d.enqueue(ctx, QueueEmail, "email", payload)
}

// NotifyAnomaly turns a regressed-advice alert into an e-mail job. Without
// configured recipients it does nothing.
func (d *Dispatcher) NotifyAnomaly(ctx context.Context, a service.AnomalyAlert) error {
	if len(d.anomalyRecipients) == 0 {
		return nil
	}
	body := fmt.Sprintf(
		"Supplier %s (%s) reported %s as not received while it is already on the receiving ledger.\n"+
			"The record was closed automatically at %s.\n\nRecord id: %s\n",
		a.SupplierName, a.SupplierCode, a.Key, a.DetectedAt.Format(time.RFC1123), a.RecordID)
	return d.EnqueueEmail(ctx, EmailJobPayload{
		To:      d.anomalyRecipients,
		Subject: fmt.Sprintf("[RIG] Receiving anomaly: %s %s", a.SupplierCode, a.Key),
		Body:    body,
	})
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return push(ctx, d.rdb, queue, Job{Type: jobType, Payload: data})
}

func push(ctx context.Context, rdb *redis.Client, queue string, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return rdb.LPush(ctx, queue, encoded).Err()
}

// Pool consumes the job queues with a fixed number of goroutines.
type Pool struct {
	rdb         *redis.Client
	handlers    map[string]Handler
	size        int
	maxAttempts int
	wg          sync.WaitGroup
}

func NewPool(rdb *redis.Client, size, maxAttempts int) *Pool {
	if size <= 0 {
		size = 2
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Pool{rdb: rdb, handlers: map[string]Handler{}, size: size, maxAttempts: maxAttempts}
}

// Register binds a handler to a queue. Call before Start.
func (p *Pool) Register(queue string, h Handler) { p.handlers[queue] = h }

// Start launches the workers. Each goroutine blocks on BRPOP, zero CPU when idle.
func (p *Pool) Start(ctx context.Context) {
	queues := make([]string, 0, len(p.handlers))
	for q := range p.handlers {
		queues = append(queues, q)
	}
	if len(queues) == 0 {
		log.Warn().Msg("worker pool: no handlers registered, not starting")
		return
	}
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i, queues)
	}
	log.Info().Int("workers", p.size).Str("queues", strings.Join(queues, ",")).Msg("worker pool started")
}

// Wait blocks until every worker has returned after ctx was cancelled.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, id int, queues []string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop waits up to 5s, then loops to check ctx
			result, err := p.rdb.BRPop(ctx, 5*time.Second, queues...).Result()
			if err != nil {
				continue // timeout or context cancelled
			}
			if len(result) < 2 {
				continue
			}
			p.processJob(ctx, result[0], result[1])
		}
	}
}

func (p *Pool) processJob(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		SendToDLQ(ctx, p.rdb, queue, Job{Type: "unknown", Payload: json.RawMessage(raw)}, "malformed envelope: "+err.Error())
		return
	}

	h, ok := p.handlers[queue]
	if !ok {
		log.Error().Str("queue", queue).Str("type", job.Type).Msg("no handler for queue")
		return
	}

	log.Debug().Str("type", job.Type).Str("queue", queue).Int("attempt", job.Attempts+1).Msg("processing job")
	err := h.Process(ctx, job.Payload)
	if err == nil {
		return
	}

	job.Attempts++
	if job.Attempts >= p.maxAttempts {
		SendToDLQ(ctx, p.rdb, queue, job, err.Error())
		return
	}

	log.Warn().Err(err).Str("queue", queue).Str("type", job.Type).Int("attempts", job.Attempts).Msg("job failed, requeueing")
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(job.Attempts) * 2 * time.Second):
	}
	// requeue with a fresh context so a shutdown does not lose the job
	if err := push(context.Background(), p.rdb, queue, job); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("requeue failed")
	}
}

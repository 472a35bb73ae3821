package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LougLynx/RIG-SYSTEM/internal/events"
	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
)

// Channel is the realtime push primitive: *infra.HubClient or *infra.RedisChannel.
type Channel interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, target string, args ...any) error
	State() infra.ChannelState
	Close() error
}

// Publisher drains the event queue into the realtime channel. Delivery is best
// effort: a failed send is logged and the event is gone.
type Publisher struct {
	queue   *events.Queue
	ch      Channel
	timeout time.Duration
	sent    atomic.Int64
	failed  atomic.Int64
}

func NewPublisher(queue *events.Queue, ch Channel, sendTimeout time.Duration) *Publisher {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Publisher{queue: queue, ch: ch, timeout: sendTimeout}
}

// Run publishes until the queue is closed and empty.
func (p *Publisher) Run() {
	for e := range p.queue.Events() {
		p.publish(e)
	}
	log.Info().Int64("sent", p.sent.Load()).Int64("failed", p.failed.Load()).Msg("publisher: drained")
}

func (p *Publisher) publish(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.ch.Send(ctx, string(e.Type), e.Args...); err != nil {
		p.failed.Add(1)
		log.Warn().
			Err(err).
			Str("event", string(e.Type)).
			Str("record_id", e.RecordID.String()).
			Str("channel_state", p.ch.State().String()).
			Msg("publisher: send failed")
		return
	}
	p.sent.Add(1)
	log.Debug().Str("event", string(e.Type)).Str("record_id", e.RecordID.String()).Msg("publisher: sent")
}

func (p *Publisher) Sent() int64   { return p.sent.Load() }
func (p *Publisher) Failed() int64 { return p.failed.Load() }

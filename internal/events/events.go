// Package events carries the typed transition events produced by the
// reconciliation passes to the publisher that pushes them to the realtime hub.
package events

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type is the hub method name the dashboards subscribe to.
type Type string

const (
	CalendarUpdated  Type = "UpdateCalendar"      // record created
	ReceivingAnomaly Type = "ErrorReceived"       // advice regressed to not-received
	ScanCompleted    Type = "UpdateColorScanDone" // completed without having been tracked
	LeadTimeUpdated  Type = "UpdateLeadtime"
	ScanProgress     Type = "UpdatePercentage"
)

// Event is one detected transition of a receiving record.
type Event struct {
	Type      Type
	RecordID  uuid.UUID
	Timestamp time.Time
	Args      []any
}

// New stamps an event with the current time.
func New(t Type, recordID uuid.UUID, args ...any) Event {
	return Event{Type: t, RecordID: recordID, Timestamp: time.Now(), Args: args}
}

// Sink receives events from the reconciliation passes.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Queue is a bounded FIFO between the passes and the publisher. Emit blocks
// while the buffer is full so no event is silently dropped; a cancelled
// context is the only way out.
type Queue struct {
	ch      chan Event
	emitted atomic.Int64
	closed  atomic.Bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan Event, size)}
}

// ErrQueueClosed is returned by Emit after Close.
var ErrQueueClosed = errors.New("events: queue closed")

func (q *Queue) Emit(ctx context.Context, e Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		q.emitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the receive side, drained by the publisher.
func (q *Queue) Events() <-chan Event { return q.ch }

// Len is the number of events waiting to be published.
func (q *Queue) Len() int { return len(q.ch) }

// Emitted counts events accepted since start.
func (q *Queue) Emitted() int64 { return q.emitted.Load() }

// Close stops accepting events. The publisher drains what is left.
// Emit must not be called concurrently with Close.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

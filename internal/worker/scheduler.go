package worker

// scheduler.go
// Drives the reconciliation cycles: connect the realtime channel, then run one
// cycle at a time with a fixed pause between the end of one and the start of
// the next. Cancellation is only looked at between cycles.

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LougLynx/RIG-SYSTEM/internal/dto"
	"github.com/LougLynx/RIG-SYSTEM/internal/events"
	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
	"github.com/LougLynx/RIG-SYSTEM/internal/service"
)

// SchedulerState is the lifecycle of the scheduler.
type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateConnecting
	StateRunning
	StateShuttingDown
)

func (s SchedulerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "idle"
	}
}

// CycleState is what one cycle hands to the next.
type CycleState struct {
	Previous     service.Snapshot
	LastArchived time.Time // UTC date of the last plan archival; zero before the first
}

// Lease is satisfied by *infra.CycleLock. The cycle runs on the returned
// context, which ends when the lease is lost.
type Lease interface {
	Acquire(ctx context.Context) (context.Context, func(), error)
}

// ReportEnqueuer is satisfied by *Dispatcher.
type ReportEnqueuer interface {
	EnqueueReport(ctx context.Context, payload ReportJobPayload) error
}

// SchedulerConfig holds all dependencies of the scheduler.
type SchedulerConfig struct {
	Scope     repository.Scope
	Feed      service.Feed
	Receiving service.ReceivingService
	Queue     *events.Queue
	Channel   Channel

	Interval     time.Duration // pause between cycles (default 5s)
	LookbackDays int           // days before today in the advice window (default 7)
	SendTimeout  time.Duration

	// Optional
	Lease            Lease
	Reports          ReportEnqueuer
	ReportRecipients []string
	Now              func() time.Time
}

type Scheduler struct {
	cfg       SchedulerConfig
	publisher *Publisher
	state     atomic.Int32
	last      atomic.Pointer[dto.CycleReport]
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		cfg:       cfg,
		publisher: NewPublisher(cfg.Queue, cfg.Channel, cfg.SendTimeout),
	}
}

func (s *Scheduler) State() SchedulerState { return SchedulerState(s.state.Load()) }

// LastReport returns the counters of the last finished cycle, nil before the first.
func (s *Scheduler) LastReport() *dto.CycleReport { return s.last.Load() }

// ChannelState exposes the realtime connection for health checks.
func (s *Scheduler) ChannelState() infra.ChannelState { return s.cfg.Channel.State() }

func (s *Scheduler) setState(st SchedulerState) {
	s.state.Store(int32(st))
	log.Info().Str("state", st.String()).Msg("scheduler: state changed")
}

// Run connects the realtime channel and loops until ctx is cancelled. A connect
// failure is returned before anything touches the ledger.
func (s *Scheduler) Run(ctx context.Context) error {
	stop, err := s.start(ctx)
	if err != nil {
		return err
	}
	defer stop()

	state := CycleState{}
	for {
		if ctx.Err() != nil {
			return nil
		}

		// a started cycle always runs to the end
		next, rep, err := s.safeCycle(context.WithoutCancel(ctx), state)
		state = next
		s.logCycle(rep, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.Interval):
		}
	}
}

// RunOnce connects, runs a single cycle from an empty state and drains the
// events it produced.
func (s *Scheduler) RunOnce(ctx context.Context) (dto.CycleReport, error) {
	stop, err := s.start(ctx)
	if err != nil {
		return dto.CycleReport{}, err
	}
	defer stop()

	_, rep, err := s.safeCycle(ctx, CycleState{})
	s.logCycle(rep, err)
	return rep, err
}

// start moves Idle → Connecting → Running and launches the publisher. The
// returned func drains the queue and releases the channel.
func (s *Scheduler) start(ctx context.Context) (func(), error) {
	s.setState(StateConnecting)
	if err := s.cfg.Channel.Connect(ctx); err != nil {
		s.setState(StateIdle)
		return nil, fmt.Errorf("realtime channel: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.publisher.Run()
	}()
	s.setState(StateRunning)

	return func() {
		s.setState(StateShuttingDown)
		s.cfg.Queue.Close()
		<-done
		if err := s.cfg.Channel.Close(); err != nil {
			log.Warn().Err(err).Msg("scheduler: closing realtime channel")
		}
		s.setState(StateIdle)
	}, nil
}

// safeCycle turns a panic into an error so the loop keeps going.
func (s *Scheduler) safeCycle(ctx context.Context, st CycleState) (next CycleState, rep dto.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = st
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return s.RunCycle(ctx, st)
}

// RunCycle runs one cycle on a scoped store. The returned state is always
// usable: when the advice fetch fails the previous snapshot is kept.
func (s *Scheduler) RunCycle(ctx context.Context, st CycleState) (CycleState, dto.CycleReport, error) {
	now := s.cfg.Now()
	rep := dto.CycleReport{StartedAt: now}
	next := st

	if s.cfg.Lease != nil {
		leaseCtx, release, err := s.cfg.Lease.Acquire(ctx)
		if errors.Is(err, infra.ErrLeaseHeld) {
			log.Debug().Msg("scheduler: another worker holds the cycle lease, skipping")
			return st, rep, nil
		}
		if err != nil {
			return st, rep, fmt.Errorf("cycle lease: %w", err)
		}
		defer release()
		ctx = leaseCtx
	}

	err := s.cfg.Scope.Do(ctx, func(ctx context.Context, store repository.Store) error {
		today := utcDate(now)
		if !today.Equal(st.LastArchived) {
			if archived := s.rollover(ctx, store, st.LastArchived, today); archived {
				next.LastArchived = today
			}
		}

		current, err := service.FetchSnapshot(ctx, s.cfg.Feed, now, s.cfg.LookbackDays)
		if err != nil {
			return err
		}
		rep.Advices = current.Len()

		// a lost lease stops the cycle at the next pass boundary
		if err := context.Cause(ctx); err != nil {
			return err
		}
		s.cfg.Receiving.Reconcile(ctx, store, current, st.Previous, &rep)
		next.Previous = current

		if err := context.Cause(ctx); err != nil {
			return err
		}
		if err := s.cfg.Receiving.SyncDetails(ctx, store, &rep); err != nil {
			log.Error().Err(err).Msg("scheduler: detail pass failed")
			rep.Errors++
		}
		if err := context.Cause(ctx); err != nil {
			return err
		}
		if err := s.cfg.Receiving.SyncStorage(ctx, store, &rep); err != nil {
			log.Error().Err(err).Msg("scheduler: storage pass failed")
			rep.Errors++
		}
		return nil
	})

	rep.Duration = s.cfg.Now().Sub(now)
	s.last.Store(&rep)
	return next, rep, err
}

// rollover archives the plan for today and, when a previous day was seen by
// this process, queues that day's report. A failed archive is retried next cycle.
func (s *Scheduler) rollover(ctx context.Context, store repository.Store, previous, today time.Time) bool {
	if _, err := service.ArchiveRollover(ctx, store, today); err != nil {
		log.Error().Err(err).Str("day", today.Format("2006-01-02")).Msg("scheduler: plan archival failed")
		return false
	}
	if previous.IsZero() || s.cfg.Reports == nil || len(s.cfg.ReportRecipients) == 0 {
		return true
	}

	payload := ReportJobPayload{Day: previous.Format("2006-01-02"), Recipients: s.cfg.ReportRecipients}
	if err := s.cfg.Reports.EnqueueReport(ctx, payload); err != nil {
		log.Warn().Err(err).Str("day", payload.Day).Msg("scheduler: could not queue daily report")
	}
	return true
}

func (s *Scheduler) logCycle(rep dto.CycleReport, err error) {
	if err != nil {
		log.Error().Err(err).Dur("took", rep.Duration).Msg("scheduler: cycle failed")
		return
	}
	evt := log.Debug()
	if rep.Created+rep.Completed+rep.Anomalies+rep.Suspects+rep.Stored+rep.Errors > 0 {
		evt = log.Info()
	}
	evt.
		Int("advices", rep.Advices).
		Int("created", rep.Created).
		Int("completed", rep.Completed).
		Int("resynced", rep.Resynced).
		Int("anomalies", rep.Anomalies).
		Int("suspects", rep.Suspects).
		Int("skipped", rep.Skipped).
		Int("lines_patched", rep.LinesPatched).
		Int("stored", rep.Stored).
		Int("events", rep.Events).
		Int("errors", rep.Errors).
		Dur("took", rep.Duration).
		Msg("scheduler: cycle done")
}

func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LougLynx/RIG-SYSTEM/internal/dto"
	"github.com/LougLynx/RIG-SYSTEM/internal/events"
	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
	"github.com/LougLynx/RIG-SYSTEM/internal/service"
	"github.com/LougLynx/RIG-SYSTEM/internal/testutil"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type stubReports struct {
	mu   sync.Mutex
	jobs []ReportJobPayload
}

func (r *stubReports) EnqueueReport(_ context.Context, p ReportJobPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, p)
	return nil
}

type stubLease struct {
	err      error
	lost     bool
	released int
}

func (l *stubLease) Acquire(ctx context.Context) (context.Context, func(), error) {
	if l.err != nil {
		return nil, nil, l.err
	}
	leaseCtx, cancel := context.WithCancelCause(ctx)
	if l.lost {
		cancel(infra.ErrLeaseLost)
	}
	return leaseCtx, func() { cancel(nil); l.released++ }, nil
}

type panicking struct{ service.ReceivingService }

func (panicking) Reconcile(context.Context, repository.Store, service.Snapshot, service.Snapshot, *dto.CycleReport) {
	panic("boom")
}

type fixture struct {
	scope   *testutil.MemScope
	feed    *testutil.FakeFeed
	channel *testutil.FakeChannel
	queue   *events.Queue
	clock   *clock
	reports *stubReports
	cfg     SchedulerConfig
}

func newFixture() *fixture {
	f := &fixture{
		scope:   testutil.NewMemScope(),
		feed:    testutil.NewFakeFeed(),
		channel: &testutil.FakeChannel{},
		queue:   events.NewQueue(64),
		clock:   &clock{now: time.Date(2026, 3, 10, 23, 59, 50, 0, time.UTC)},
		reports: &stubReports{},
	}
	f.cfg = SchedulerConfig{
		Scope:            f.scope,
		Feed:             f.feed,
		Receiving:        service.NewReceivingService(f.feed, f.queue, service.WithClock(f.clock.Now)),
		Queue:            f.queue,
		Channel:          f.channel,
		Interval:         5 * time.Millisecond,
		Reports:          f.reports,
		ReportRecipients: []string{"ops@example.com"},
		Now:              f.clock.Now,
	}
	return f
}

func TestRunCycle_ArchivesOncePerUTCDay(t *testing.T) {
	f := newFixture()
	s := NewScheduler(f.cfg)
	ctx := context.Background()

	st, _, err := s.RunCycle(ctx, CycleState{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), st.LastArchived)
	assert.Empty(t, f.reports.jobs, "no report for a day this process never saw")

	st, _, err = s.RunCycle(ctx, st)
	require.NoError(t, err)
	assert.Len(t, f.scope.Plans.Archived, 1)

	f.clock.Set(time.Date(2026, 3, 11, 0, 0, 5, 0, time.UTC))
	st, _, err = s.RunCycle(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), st.LastArchived)
	assert.Len(t, f.scope.Plans.Archived, 2)
	require.Len(t, f.reports.jobs, 1)
	assert.Equal(t, "2026-03-10", f.reports.jobs[0].Day)
}

func TestRunCycle_FailedArchiveRetriedNextCycle(t *testing.T) {
	f := newFixture()
	f.scope.Plans.FailArchive = errors.New("deadlock")
	s := NewScheduler(f.cfg)

	st, _, err := s.RunCycle(context.Background(), CycleState{})
	require.NoError(t, err, "archival failure does not fail the cycle")
	assert.True(t, st.LastArchived.IsZero())

	f.scope.Plans.FailArchive = nil
	st, _, err = s.RunCycle(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, st.LastArchived.IsZero())
}

func TestRunCycle_CreatesAcrossCyclesAndReleasesScope(t *testing.T) {
	f := newFixture()
	today := f.clock.Now()
	f.feed.SetAdvices(today, infra.ShipmentAdvice{SupplierCode: "S1", AsnNumber: "A1"})
	s := NewScheduler(f.cfg)
	ctx := context.Background()

	st, rep, err := s.RunCycle(ctx, CycleState{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Advices)
	assert.Equal(t, 1, st.Previous.Len())

	f.feed.SetAdvices(today, infra.ShipmentAdvice{SupplierCode: "S1", AsnNumber: "A1", ReceiveStatus: true})
	_, rep, err = s.RunCycle(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)

	assert.Len(t, f.scope.Receivings.Records(), 1)
	assert.Equal(t, f.scope.Opened, f.scope.Released)
	require.NotNil(t, s.LastReport())
	assert.Equal(t, 1, s.LastReport().Created)

	// creation then the detail pass's lead time update
	require.Equal(t, 2, f.queue.Len())
	assert.Equal(t, events.CalendarUpdated, (<-f.queue.Events()).Type)
	assert.Equal(t, events.LeadTimeUpdated, (<-f.queue.Events()).Type)
}

func TestRunCycle_FetchErrorKeepsPrevious(t *testing.T) {
	f := newFixture()
	f.feed.SetAdvices(f.clock.Now(), infra.ShipmentAdvice{SupplierCode: "S1", AsnNumber: "A1"})
	s := NewScheduler(f.cfg)

	st, _, err := s.RunCycle(context.Background(), CycleState{})
	require.NoError(t, err)

	f.feed.AdviceErr = errors.New("502 bad gateway")
	next, _, err := s.RunCycle(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, 1, next.Previous.Len())
	assert.Equal(t, st.LastArchived, next.LastArchived)
	assert.Equal(t, f.scope.Opened, f.scope.Released)
}

func TestRunCycle_LeaseHeldSkips(t *testing.T) {
	f := newFixture()
	f.cfg.Lease = &stubLease{err: infra.ErrLeaseHeld}
	s := NewScheduler(f.cfg)

	st, _, err := s.RunCycle(context.Background(), CycleState{})
	require.NoError(t, err)
	assert.Zero(t, f.scope.Opened)
	assert.True(t, st.LastArchived.IsZero())
}

func TestRunCycle_LeaseReleased(t *testing.T) {
	f := newFixture()
	lease := &stubLease{}
	f.cfg.Lease = lease
	s := NewScheduler(f.cfg)

	_, _, err := s.RunCycle(context.Background(), CycleState{})
	require.NoError(t, err)
	assert.Equal(t, 1, lease.released)
}

func TestRunCycle_LostLeaseStopsCycle(t *testing.T) {
	f := newFixture()
	lease := &stubLease{lost: true}
	f.cfg.Lease = lease
	today := f.clock.Now()
	prev := []infra.ShipmentAdvice{{SupplierCode: "S1", AsnNumber: "A1"}}
	f.feed.SetAdvices(today, infra.ShipmentAdvice{SupplierCode: "S1", AsnNumber: "A1", ReceiveStatus: true})
	s := NewScheduler(f.cfg)

	st := CycleState{Previous: service.NewSnapshot(prev, today)}
	next, rep, err := s.RunCycle(context.Background(), st)

	require.ErrorIs(t, err, infra.ErrLeaseLost)
	assert.Zero(t, rep.Created)
	assert.Empty(t, f.scope.Receivings.Records())
	assert.Equal(t, 1, next.Previous.Len(), "edge is kept for the next cycle")
	assert.Equal(t, 1, lease.released)
	assert.Equal(t, f.scope.Opened, f.scope.Released)
}

func TestSafeCycle_RecoversPanic(t *testing.T) {
	f := newFixture()
	f.cfg.Receiving = panicking{}
	s := NewScheduler(f.cfg)
	prev := CycleState{LastArchived: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)}

	next, _, err := s.safeCycle(context.Background(), prev)
	require.ErrorContains(t, err, "panic")
	assert.Equal(t, prev.LastArchived, next.LastArchived)
	assert.Equal(t, f.scope.Opened, f.scope.Released)
}

func TestScheduler_ConnectFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.channel.ConnectErr = errors.New("hub unreachable")
	s := NewScheduler(f.cfg)

	err := s.Run(context.Background())
	require.ErrorContains(t, err, "hub unreachable")
	assert.Zero(t, f.scope.Opened, "nothing touched the ledger")
	assert.Empty(t, f.feed.AdviceCalls)
	assert.Equal(t, StateIdle, s.State())
}

func TestScheduler_RunUntilCancelled(t *testing.T) {
	f := newFixture()
	today := f.clock.Now()
	f.feed.SetAdvices(today, infra.ShipmentAdvice{SupplierCode: "S1", AsnNumber: "A1"})
	s := NewScheduler(f.cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.LastReport() != nil }, time.Second, 5*time.Millisecond)
	f.feed.SetAdvices(today, infra.ShipmentAdvice{SupplierCode: "S1", AsnNumber: "A1", ReceiveStatus: true})
	require.Eventually(t, func() bool { return len(f.scope.Receivings.Records()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.True(t, f.channel.Closed)
	assert.Equal(t, StateIdle, s.State())
	var targets []string
	for _, sent := range f.channel.Sent() {
		targets = append(targets, sent.Target)
	}
	assert.Contains(t, targets, string(events.CalendarUpdated))
}

func TestPublisher_SwallowsSendFailures(t *testing.T) {
	q := events.NewQueue(4)
	ch := &testutil.FakeChannel{SendErr: infra.ErrHubDisconnected}
	p := NewPublisher(q, ch, time.Second)

	require.NoError(t, q.Emit(context.Background(), events.Event{Type: events.LeadTimeUpdated}))
	require.NoError(t, q.Emit(context.Background(), events.Event{Type: events.ScanProgress}))
	q.Close()
	p.Run()

	assert.EqualValues(t, 2, p.Failed())
	assert.Zero(t, p.Sent())
}

func TestPublisher_SendsTargetAndArgs(t *testing.T) {
	q := events.NewQueue(4)
	ch := &testutil.FakeChannel{}
	p := NewPublisher(q, ch, time.Second)

	require.NoError(t, q.Emit(context.Background(), events.Event{Type: events.ReceivingAnomaly, Args: []any{"id-1", "Supplier", true}}))
	q.Close()
	p.Run()

	require.Len(t, ch.Sent(), 1)
	assert.Equal(t, "ErrorReceived", ch.Sent()[0].Target)
	assert.Equal(t, []any{"id-1", "Supplier", true}, ch.Sent()[0].Args)
}

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memPublisher records events in order.
type memPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *memPublisher) Publish(e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *memPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.events))
	for i, e := range p.events {
		names[i] = e.Event
	}
	return names
}

func newTestManager(t *testing.T, pub Publisher) *Manager {
	t.Helper()

	store := newTestStore(t)
	m, err := NewManager(store, pub, Config{Workers: 2}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) *Job {
	t.Helper()

	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(context.Background(), id)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestManager_CompletesJobWithProgressCheckpoints(t *testing.T) {
	pub := &memPublisher{}
	m := newTestManager(t, pub)

	m.RegisterHandler("batch", func(ctx context.Context, jc *JobContext) (string, error) {
		jc.Progress(ctx, 33, "one")
		jc.Progress(ctx, 66, "two")
		return `{"items":3}`, nil
	})
	m.Start()

	job, err := m.Submit(context.Background(), "batch", `{"n":3}`)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	done := waitForStatus(t, m, job.ID, StatusCompleted)
	assert.Equal(t, `{"items":3}`, done.Result)
	assert.Equal(t, 100, done.ProgressPercent)

	// The completed event is published just after the row flips, so
	// give it a moment.
	require.Eventually(t, func() bool { return len(pub.names()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t,
		[]string{EventCreated, EventStarted, EventProgress, EventProgress, EventCompleted},
		pub.names())
}

func TestManager_ProgressObservationsAreMonotonic(t *testing.T) {
	m := newTestManager(t, nil)

	release := make(chan struct{})
	m.RegisterHandler("slow", func(ctx context.Context, jc *JobContext) (string, error) {
		jc.Progress(ctx, 33, "")
		jc.Progress(ctx, 66, "")
		<-release
		return "done", nil
	})
	m.Start()

	job, err := m.Submit(context.Background(), "slow", "")
	require.NoError(t, err)

	last := -1
	require.Eventually(t, func() bool {
		got, err := m.Get(context.Background(), job.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got.ProgressPercent, last)
		last = got.ProgressPercent
		return got.ProgressPercent == 66
	}, 5*time.Second, 5*time.Millisecond)

	close(release)
	waitForStatus(t, m, job.ID, StatusCompleted)
}

func TestManager_HandlerErrorFailsJob(t *testing.T) {
	m := newTestManager(t, nil)

	m.RegisterHandler("broken", func(ctx context.Context, jc *JobContext) (string, error) {
		return "", errors.New("backend exploded")
	})
	m.Start()

	job, err := m.Submit(context.Background(), "broken", "")
	require.NoError(t, err)

	failed := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Equal(t, "backend exploded", failed.Error)
}

func TestManager_HandlerPanicFailsJob(t *testing.T) {
	m := newTestManager(t, nil)

	m.RegisterHandler("panicky", func(ctx context.Context, jc *JobContext) (string, error) {
		panic("nil map write")
	})
	m.RegisterHandler("ok", func(ctx context.Context, jc *JobContext) (string, error) {
		return "fine", nil
	})
	m.Start()

	job, err := m.Submit(context.Background(), "panicky", "")
	require.NoError(t, err)

	failed := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Contains(t, failed.Error, "nil map write")

	// The worker survives the panic.
	job2, err := m.Submit(context.Background(), "ok", "")
	require.NoError(t, err)
	waitForStatus(t, m, job2.ID, StatusCompleted)
}

func TestManager_CooperativeCancellation(t *testing.T) {
	m := newTestManager(t, nil)

	started := make(chan struct{})
	step := make(chan struct{})
	m.RegisterHandler("loop", func(ctx context.Context, jc *JobContext) (string, error) {
		close(started)
		for {
			<-step
			if jc.Cancelled(ctx) {
				return "", ErrCancelled
			}
		}
	})
	m.Start()

	job, err := m.Submit(context.Background(), "loop", "")
	require.NoError(t, err)
	<-started

	accepted, err := m.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, accepted)

	step <- struct{}{}
	cancelled := waitForStatus(t, m, job.ID, StatusCancelled)
	assert.Empty(t, cancelled.Result)

	// Cancel after the terminal transition is refused.
	accepted, err = m.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestManager_SubmitUnknownType(t *testing.T) {
	m := newTestManager(t, nil)
	m.Start()

	_, err := m.Submit(context.Background(), "mystery", "")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestManager_RequeuesPendingJobsOnStart(t *testing.T) {
	store := newTestStore(t)

	// A row persisted by a previous process, with no queue entry.
	job, err := store.Create(context.Background(), "batch", "")
	require.NoError(t, err)

	m, err := NewManager(store, nil, Config{Workers: 2}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	m.RegisterHandler("batch", func(ctx context.Context, jc *JobContext) (string, error) {
		return "recovered", nil
	})
	m.Start()

	done := waitForStatus(t, m, job.ID, StatusCompleted)
	assert.Equal(t, "recovered", done.Result)
}

func TestManager_FailsInterruptedRunningJobsOnStart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A row left running by a process that died mid-handler.
	job, err := store.Create(ctx, "batch", "")
	require.NoError(t, err)
	require.NoError(t, store.Start(ctx, job.ID))

	m, err := NewManager(store, nil, Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	m.RegisterHandler("batch", func(ctx context.Context, jc *JobContext) (string, error) {
		return "", nil
	})
	m.Start()

	failed := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Equal(t, "interrupted by restart", failed.Error)
}

func TestManager_RequeuedJobWithoutHandlerFails(t *testing.T) {
	store := newTestStore(t)

	job, err := store.Create(context.Background(), "retired", "")
	require.NoError(t, err)

	m, err := NewManager(store, nil, Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	m.Start()

	failed := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Contains(t, failed.Error, "no handler registered")
}

func TestManager_StopFinalizesInFlightJob(t *testing.T) {
	store := newTestStore(t)

	m, err := NewManager(store, nil, Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)

	started := make(chan struct{})
	m.RegisterHandler("wait", func(ctx context.Context, jc *JobContext) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	m.Start()

	job, err := m.Submit(context.Background(), "wait", "")
	require.NoError(t, err)
	<-started

	m.Stop()

	// The handler saw shutdown, but the row still reached a terminal
	// state rather than sticking at running.
	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "context canceled")
}

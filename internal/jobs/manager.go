package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobContext is the handler's view of its job: progress reporting and
// the cooperative cancellation flag.
type JobContext struct {
	job     *Job
	manager *Manager
}

// Job returns the snapshot taken when the worker picked up the job.
func (jc *JobContext) Job() *Job { return jc.job }

// Progress records a progress checkpoint. Safe to call after
// cancellation; the update is simply ignored.
func (jc *JobContext) Progress(ctx context.Context, percent int, message string) {
	if err := jc.manager.store.UpdateProgress(ctx, jc.job.ID, percent, message); err != nil {
		jc.manager.logger.Warn("failed to update job progress",
			zap.String("job_id", jc.job.ID), zap.Error(err))
		return
	}
	publishEvent(jc.manager.publisher, jc.manager.logger, Event{
		JobID: jc.job.ID, Type: jc.job.Type, Event: EventProgress,
		Status: StatusRunning, ProgressPercent: percent, ProgressMessage: message,
	})
}

// Cancelled reports whether cancellation was requested. Handlers must
// poll this between coarse-grained steps and return ErrCancelled.
func (jc *JobContext) Cancelled(ctx context.Context) bool {
	cancelled, err := jc.manager.store.IsCancelled(ctx, jc.job.ID)
	if err != nil {
		jc.manager.logger.Warn("failed to read cancellation flag",
			zap.String("job_id", jc.job.ID), zap.Error(err))
		return false
	}
	return cancelled
}

// Handler executes one job type. The returned string becomes the job
// result. Returning ErrCancelled marks the job cancelled instead of
// failed.
type Handler func(ctx context.Context, jc *JobContext) (string, error)

// Config controls the worker pool and retention sweep.
type Config struct {
	Workers int `koanf:"workers"`

	// QueueSize bounds the submission queue; Submit returns an error
	// when full rather than blocking the request path.
	QueueSize int `koanf:"queue_size"`

	Retention     time.Duration `koanf:"retention"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.Retention == 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Hour
	}
}

// ErrQueueFull indicates the submission queue is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// Manager runs the worker pool. Submission enqueues the job id and
// returns immediately; workers execute handlers and write results back
// to the store.
type Manager struct {
	store     *Store
	publisher Publisher
	logger    *zap.Logger
	config    Config

	handlers map[string]Handler
	queue    chan string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewManager creates a manager. Start must be called before Submit.
func NewManager(store *Store, publisher Publisher, cfg Config, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	return &Manager{
		store:     store,
		publisher: publisher,
		logger:    logger,
		config:    cfg,
		handlers:  make(map[string]Handler),
		queue:     make(chan string, cfg.QueueSize),
	}, nil
}

// RegisterHandler installs the handler for a job type. Must be called
// before Start.
func (m *Manager) RegisterHandler(jobType string, h Handler) {
	m.handlers[jobType] = h
}

// Start launches the workers and the retention sweeper.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.baseCtx, m.cancel = context.WithCancel(context.Background())

	// Rows left running by a previous process have no worker to finish
	// them. Fail them before the new workers launch, so the sweep can
	// never touch a legitimately running job.
	if n, err := m.store.FailInterrupted(m.baseCtx, "interrupted by restart"); err != nil {
		m.logger.Error("failed to fail interrupted jobs", zap.Error(err))
	} else if n > 0 {
		m.logger.Warn("failed jobs interrupted by previous shutdown", zap.Int("count", n))
	}

	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.wg.Add(1)
	go m.requeuePending()
	m.wg.Add(1)
	go m.sweeper()

	m.logger.Info("job manager started",
		zap.Int("workers", m.config.Workers),
		zap.Duration("retention", m.config.Retention))
}

// Stop drains the workers. In-flight handlers observe context
// cancellation and their jobs still reach a terminal state; queued jobs
// stay pending and are requeued by the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	m.cancel()
	m.wg.Wait()
}

// Submit creates a pending job and enqueues it. Returns quickly; the
// job runs on a worker.
func (m *Manager) Submit(ctx context.Context, jobType, input string) (*Job, error) {
	if _, ok := m.handlers[jobType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, jobType)
	}

	job, err := m.store.Create(ctx, jobType, input)
	if err != nil {
		return nil, err
	}
	publishEvent(m.publisher, m.logger, Event{
		JobID: job.ID, Type: job.Type, Event: EventCreated, Status: StatusPending,
	})

	select {
	case m.queue <- job.ID:
	default:
		// A pending row with no queue entry would sit unserved until the
		// next restart, so a full queue fails the job immediately.
		if err := m.store.Fail(ctx, job.ID, "job queue full"); err != nil {
			m.logger.Error("failed to fail unqueued job",
				zap.String("job_id", job.ID), zap.Error(err))
		}
		return nil, ErrQueueFull
	}

	jobsSubmitted.WithLabelValues(jobType).Inc()
	return job, nil
}

// Get returns a job snapshot.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// List returns job snapshots, newest first.
func (m *Manager) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	return m.store.List(ctx, status, limit)
}

// Delete removes a terminal job row.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Cleanup bulk-deletes terminal jobs older than the given age.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return m.store.Cleanup(ctx, olderThan)
}

// Cancel requests cooperative cancellation.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	accepted, err := m.store.Cancel(ctx, id)
	if err != nil || !accepted {
		return accepted, err
	}
	job, getErr := m.store.Get(ctx, id)
	if getErr == nil && job.Status == StatusCancelled {
		// Pending jobs cancel immediately; running ones transition when
		// the worker notices the flag.
		publishEvent(m.publisher, m.logger, Event{
			JobID: id, Type: job.Type, Event: EventCancelled, Status: StatusCancelled,
		})
	}
	return accepted, nil
}

// requeuePending enqueues pending rows that survived a restart.
// Blocking sends let the backlog exceed the queue capacity; workers
// drain as it feeds. A double enqueue for a freshly submitted job is
// harmless since run skips non-pending rows.
func (m *Manager) requeuePending() {
	defer m.wg.Done()
	ids, err := m.store.PendingIDs(m.baseCtx)
	if err != nil {
		m.logger.Error("failed to scan pending jobs", zap.Error(err))
		return
	}
	for _, id := range ids {
		select {
		case <-m.baseCtx.Done():
			return
		case m.queue <- id:
		}
	}
	if len(ids) > 0 {
		m.logger.Info("requeued pending jobs", zap.Int("count", len(ids)))
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.baseCtx.Done():
			return
		case id := <-m.queue:
			m.run(id)
		}
	}
}

// run executes one job with a panic boundary: any handler fault becomes
// a failed job, never a crashed worker.
func (m *Manager) run(id string) {
	ctx := m.baseCtx
	// Terminal writes use a non-cancellable context so a job whose
	// handler observed shutdown still lands in a terminal state instead
	// of a permanently running row.
	finCtx := context.WithoutCancel(m.baseCtx)

	job, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Error("failed to load queued job", zap.String("job_id", id), zap.Error(err))
		return
	}
	if job.Status != StatusPending {
		// Cancelled before a worker picked it up.
		return
	}

	handler, ok := m.handlers[job.Type]
	if !ok {
		// A requeued row from a previous process that knew this type.
		if err := m.store.Fail(finCtx, id, "no handler registered for type "+job.Type); err != nil {
			m.logger.Warn("failed to mark job failed", zap.String("job_id", id), zap.Error(err))
		}
		publishEvent(m.publisher, m.logger, Event{
			JobID: id, Type: job.Type, Event: EventFailed, Status: StatusFailed,
			Error: "no handler registered for type " + job.Type,
		})
		return
	}

	if err := m.store.Start(ctx, id); err != nil {
		m.logger.Warn("failed to start job", zap.String("job_id", id), zap.Error(err))
		return
	}
	publishEvent(m.publisher, m.logger, Event{
		JobID: id, Type: job.Type, Event: EventStarted, Status: StatusRunning,
	})
	activeJobs.Inc()
	start := timeNow()

	result, err := m.safeExecute(ctx, handler, &JobContext{job: job, manager: m})

	activeJobs.Dec()
	jobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrCancelled):
		if err := m.store.MarkCancelled(finCtx, id); err != nil {
			m.logger.Warn("failed to mark job cancelled", zap.String("job_id", id), zap.Error(err))
		}
		publishEvent(m.publisher, m.logger, Event{
			JobID: id, Type: job.Type, Event: EventCancelled, Status: StatusCancelled,
		})
		jobsFinished.WithLabelValues(job.Type, string(StatusCancelled)).Inc()

	case err != nil:
		if err := m.store.Fail(finCtx, id, err.Error()); err != nil {
			m.logger.Warn("failed to mark job failed", zap.String("job_id", id), zap.Error(err))
		}
		publishEvent(m.publisher, m.logger, Event{
			JobID: id, Type: job.Type, Event: EventFailed, Status: StatusFailed, Error: err.Error(),
		})
		jobsFinished.WithLabelValues(job.Type, string(StatusFailed)).Inc()

	default:
		if err := m.store.Complete(finCtx, id, result); err != nil {
			m.logger.Warn("failed to mark job completed", zap.String("job_id", id), zap.Error(err))
		}
		publishEvent(m.publisher, m.logger, Event{
			JobID: id, Type: job.Type, Event: EventCompleted, Status: StatusCompleted, ProgressPercent: 100,
		})
		jobsFinished.WithLabelValues(job.Type, string(StatusCompleted)).Inc()
	}
}

func (m *Manager) safeExecute(ctx context.Context, handler Handler, jc *JobContext) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
			m.logger.Error("job handler panic",
				zap.String("job_id", jc.job.ID),
				zap.Any("panic", r))
		}
	}()
	return handler(ctx, jc)
}

func (m *Manager) sweeper() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			deleted, err := m.store.Cleanup(m.baseCtx, m.config.Retention)
			if err != nil {
				m.logger.Warn("retention sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				m.logger.Info("retention sweep deleted jobs", zap.Int("count", deleted))
			}
		}
	}
}

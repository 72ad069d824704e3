package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/events"
	"github.com/phrazzld/pantry-api/internal/queue"
	"github.com/phrazzld/pantry-api/internal/store"
)

// RunnerConfig holds configuration for the queue consumer.
type RunnerConfig struct {
	// WorkerCount determines how many goroutines receive from the queue.
	WorkerCount int

	// BatchSize is the maximum number of messages a worker receives and
	// processes concurrently.
	BatchSize int

	// StuckTaskAge is how long a task may go without an update before the
	// sweep re-enqueues it. Processing tasks update on every progress step,
	// so only crashed attempts and orphaned pending tasks qualify.
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often the sweep runs.
	// If zero, defaults to 1 minute.
	StuckTaskCheckInterval time.Duration

	// ErrorBackoff is how long a worker waits after a failed receive.
	// If zero, defaults to 1 second.
	ErrorBackoff time.Duration

	// MaxRequeuePerSweep caps how many tasks one sweep re-enqueues; the
	// rest wait for the next sweep. If zero, defaults to 100.
	MaxRequeuePerSweep int
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:            2,
		BatchSize:              10,
		StuckTaskAge:           5 * time.Minute,
		StuckTaskCheckInterval: time.Minute,
		ErrorBackoff:           time.Second,
		MaxRequeuePerSweep:     100,
	}
}

// Runner consumes the task queue with a pool of workers and periodically
// sweeps the store for tasks that lost their message.
type Runner struct {
	receiver  queue.Receiver
	publisher queue.Publisher
	handler   MessageHandler
	store     store.TaskStore
	purger    store.Purger
	emitter   events.EventEmitter

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once

	config   RunnerConfig
	logger   *slog.Logger
	timeFunc func() time.Time
}

// NewRunner creates a Runner. handler is usually a *Processor; publisher is
// used by the sweep to re-enqueue tasks.
func NewRunner(
	receiver queue.Receiver,
	publisher queue.Publisher,
	handler MessageHandler,
	taskStore store.TaskStore,
	config RunnerConfig,
	logger *slog.Logger,
) (*Runner, error) {
	if receiver == nil {
		return nil, ErrNilReceiver
	}
	if publisher == nil {
		return nil, ErrNilPublisher
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if taskStore == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultRunnerConfig()
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", defaults.WorkerCount)
		config.WorkerCount = defaults.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = defaults.StuckTaskAge
	}
	if config.StuckTaskCheckInterval <= 0 {
		config.StuckTaskCheckInterval = defaults.StuckTaskCheckInterval
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if config.MaxRequeuePerSweep <= 0 {
		config.MaxRequeuePerSweep = defaults.MaxRequeuePerSweep
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		receiver:   receiver,
		publisher:  publisher,
		handler:    handler,
		store:      taskStore,
		emitter:    events.NopEmitter{},
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     logger.With("component", "task_runner"),
		timeFunc:   time.Now,
	}, nil
}

// SetPurger enables retention purging on every sweep.
func (r *Runner) SetPurger(p store.Purger) {
	r.purger = p
}

// SetTimeFunc replaces the clock used to stamp requeued tasks. For tests.
func (r *Runner) SetTimeFunc(f func() time.Time) {
	r.timeFunc = f
}

// SetEmitter sets where the sweep reports re-enqueued tasks.
func (r *Runner) SetEmitter(e events.EventEmitter) {
	if e != nil {
		r.emitter = e
	}
}

// Start runs one sweep and then launches the workers and the periodic sweep.
func (r *Runner) Start() error {
	started := false
	r.startOnce.Do(func() {
		started = true
		r.Sweep(r.ctx)

		for i := 0; i < r.config.WorkerCount; i++ {
			r.wg.Add(1)
			go r.worker(i)
		}

		r.wg.Add(1)
		go r.stuckTaskMonitor()

		r.logger.Info("task runner started",
			"worker_count", r.config.WorkerCount,
			"batch_size", r.config.BatchSize)
	})
	if !started {
		return fmt.Errorf("task runner already started")
	}
	return nil
}

// Stop cancels in-flight attempts and waits for every worker to return.
// Cancelled attempts release their messages for redelivery.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancelFunc()
		r.wg.Wait()
		r.logger.Info("task runner stopped")
	})
}

// worker receives batches until the runner stops or the queue closes.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	log := r.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		deliveries, err := r.receiver.Receive(r.ctx, r.config.BatchSize)
		if err != nil {
			if r.ctx.Err() != nil {
				log.Debug("stopping worker")
				return
			}
			if errors.Is(err, queue.ErrQueueClosed) {
				log.Debug("queue closed, stopping worker")
				return
			}
			log.Error("failed to receive messages", "error", err)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(r.config.ErrorBackoff):
			}
			continue
		}

		var batch sync.WaitGroup
		for _, d := range deliveries {
			batch.Add(1)
			go func(d queue.Delivery) {
				defer batch.Done()
				r.handle(d, id)
			}(d)
		}
		batch.Wait()
	}
}

// handle processes one delivery and then acks it, whatever the outcome.
// Only an attempt cut short by shutdown is released instead.
func (r *Runner) handle(d queue.Delivery, workerID int) {
	log := r.logger.With(
		"task_id", d.Message.TaskID,
		"worker_id", workerID,
		"attempt", d.Attempt,
	)

	outcome, err := r.processSafely(d)

	// The runner's context may be cancelled by now.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
	defer cancel()

	if r.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		if relErr := r.receiver.Release(settleCtx, d); relErr != nil {
			log.Warn("failed to release interrupted message", "error", relErr)
		}
		log.Info("attempt interrupted by shutdown, message released")
		return
	}

	if err != nil {
		log.Error("message processing failed", "outcome", outcome, "error", err)
	} else {
		log.Debug("message processed", "outcome", outcome)
	}

	if ackErr := r.receiver.Ack(settleCtx, d); ackErr != nil {
		log.Warn("failed to ack message", "error", ackErr)
	}
}

// processSafely runs the handler, converting a panic into an error.
func (r *Runner) processSafely(d queue.Delivery) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while processing message",
				"task_id", d.Message.TaskID,
				"panic", p,
				"stack", string(debug.Stack()))
			outcome = OutcomeAbandoned
			err = fmt.Errorf("panic while processing message: %v", p)
		}
	}()
	return r.handler.Process(r.ctx, d.Message)
}

// stuckTaskMonitor periodically runs the sweep.
func (r *Runner) stuckTaskMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.ctx)
		}
	}
}

// Sweep re-enqueues processing tasks that stopped reporting progress and
// pending tasks that were never picked up, then purges expired records when
// the store supports it. Each requeued task is stamped first, so it waits
// another StuckTaskAge before it qualifies again. Returns the number of
// tasks requeued.
func (r *Runner) Sweep(ctx context.Context) int {
	requeued := 0
	for _, status := range []domain.TaskStatus{domain.TaskStatusProcessing, domain.TaskStatusPending} {
		if requeued >= r.config.MaxRequeuePerSweep {
			break
		}

		tasks, err := r.store.ListTasksByStatus(ctx, status, r.config.StuckTaskAge)
		if err != nil {
			r.logger.Error("failed to check for stuck tasks", "status", status, "error", err)
			continue
		}
		requeued += r.requeue(ctx, tasks, r.config.MaxRequeuePerSweep-requeued)
	}

	if r.purger != nil {
		purged, err := r.purger.PurgeExpired(ctx)
		if err != nil {
			r.logger.Error("failed to purge expired records", "error", err)
		} else if purged > 0 {
			r.logger.Info("purged expired records", "count", purged)
		}
	}

	if requeued > 0 {
		r.logger.Info("stuck task sweep finished", "requeued", requeued)
	}
	return requeued
}

// SweepUser re-enqueues one user's stalled tasks, using the same age and cap
// as Sweep. It does not purge.
func (r *Runner) SweepUser(ctx context.Context, userID string) int {
	tasks, err := r.store.ListUserTasks(ctx, userID)
	if err != nil {
		r.logger.Error("failed to list user tasks for sweep", "user_id", userID, "error", err)
		return 0
	}

	cutoff := r.timeFunc().Add(-r.config.StuckTaskAge)
	var stalled []*domain.ProcessingTask
	for _, task := range tasks {
		if task.IsTerminal() || !task.UpdatedAt.Before(cutoff) {
			continue
		}
		stalled = append(stalled, task)
	}

	requeued := r.requeue(ctx, stalled, r.config.MaxRequeuePerSweep)
	r.logger.Info("user task sweep finished", "user_id", userID, "requeued", requeued)
	return requeued
}

// requeue stamps each task through the store and publishes a fresh message
// for it, up to limit tasks. A task whose stamp conflicts has moved on since
// it was listed and is left alone.
func (r *Runner) requeue(ctx context.Context, tasks []*domain.ProcessingTask, limit int) int {
	requeued := 0
	for i, task := range tasks {
		if requeued >= limit {
			r.logger.Warn("requeue limit reached, deferring remaining stuck tasks",
				"limit", limit,
				"deferred", len(tasks)-i)
			break
		}

		now := r.timeFunc().UTC()
		task.Touch(now)
		if err := r.store.SaveTask(ctx, task); err != nil {
			if errors.Is(err, store.ErrStaleTask) || errors.Is(err, store.ErrTaskNotFound) {
				r.logger.Debug("stuck task changed before requeue, skipping",
					"task_id", task.ID,
					"error", err)
				continue
			}
			r.logger.Error("failed to stamp stuck task", "task_id", task.ID, "error", err)
			continue
		}
		// SaveTask treats an identical stored state as a duplicate write and
		// returns the stored stamp; a different stamp means another sweep
		// got there first.
		if !task.UpdatedAt.Equal(now) {
			continue
		}

		if err := r.publisher.Publish(ctx, queue.NewMessage(task, now)); err != nil {
			r.logger.Error("failed to requeue stuck task",
				"task_id", task.ID,
				"status", task.Status,
				"error", err)
			continue
		}
		requeued++
		r.logger.Info("requeued stuck task",
			"task_id", task.ID,
			"status", task.Status,
			"progress", task.Progress,
			"retry_count", task.RetryCount)

		if err := r.emitter.EmitEvent(ctx, events.NewTaskEvent(events.EventTaskRequeued, task, now)); err != nil {
			r.logger.Warn("failed to emit task event", "task_id", task.ID, "error", err)
		}
	}
	return requeued
}

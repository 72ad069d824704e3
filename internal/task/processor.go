package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/events"
	"github.com/phrazzld/pantry-api/internal/queue"
	"github.com/phrazzld/pantry-api/internal/store"
)

const (
	// DefaultProgressStep is the number of percentage points per progress update.
	DefaultProgressStep = 5

	// DefaultMinStepInterval is the shortest simulated delay between updates.
	DefaultMinStepInterval = 500 * time.Millisecond
)

// ProcessorConfig holds the tunables of a Processor.
type ProcessorConfig struct {
	// ProgressStep is the progress increment per step, between 1 and 100.
	ProgressStep int

	// MinStepInterval floors the per-step delay.
	MinStepInterval time.Duration
}

// DefaultProcessorConfig returns the standard five-point, half-second-floor
// progress model.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		ProgressStep:    DefaultProgressStep,
		MinStepInterval: DefaultMinStepInterval,
	}
}

// Processor runs a single queue message through the task state machine:
// pending to processing, stepwise progress, then completion, retry or
// failure.
type Processor struct {
	store     store.TaskStore
	publisher queue.Publisher
	emitter   events.EventEmitter
	config    ProcessorConfig
	logger    *slog.Logger

	timeFunc func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	sample   func() float64
}

var _ MessageHandler = (*Processor)(nil)

// NewProcessor creates a Processor. The publisher receives retry messages.
func NewProcessor(
	taskStore store.TaskStore,
	publisher queue.Publisher,
	emitter events.EventEmitter,
	config ProcessorConfig,
	logger *slog.Logger,
) (*Processor, error) {
	if taskStore == nil {
		return nil, ErrNilStore
	}
	if publisher == nil {
		return nil, ErrNilPublisher
	}
	if config.ProgressStep <= 0 || config.ProgressStep > 100 {
		config.ProgressStep = DefaultProgressStep
	}
	if config.MinStepInterval < 0 {
		config.MinStepInterval = 0
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		store:     taskStore,
		publisher: publisher,
		emitter:   emitter,
		config:    config,
		logger:    logger.With("component", "task_processor"),
		timeFunc:  time.Now,
		sleep:     sleepContext,
		sample:    rand.Float64,
	}, nil
}

// SetClock replaces the time source and the sleep used between steps.
func (p *Processor) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	p.timeFunc = now
	p.sleep = sleep
}

// SetSampler replaces the source of the uniform [0, 1) draw that decides
// each attempt's outcome.
func (p *Processor) SetSampler(sample func() float64) {
	p.sample = sample
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StepInterval returns the simulated delay between progress updates for an
// ingredient.
func (p *Processor) StepInterval(ing domain.Ingredient) time.Duration {
	d := ing.ProcessingDuration() * time.Duration(p.config.ProgressStep) / 100
	return max(d, p.config.MinStepInterval)
}

// Process handles one message. Messages for missing or terminal tasks, and
// messages from an attempt that has since been retried, are skipped. A task
// already in processing resumes from its persisted progress.
//
// A returned error means the attempt was abandoned; the task keeps the state
// last persisted. Cancellation of ctx surfaces as the context's error.
func (p *Processor) Process(ctx context.Context, msg queue.Message) (Outcome, error) {
	log := p.logger.With(
		"task_id", msg.TaskID,
		"user_id", msg.UserID,
		"retry_count", msg.RetryCount,
	)

	task, err := p.store.GetTask(ctx, msg.TaskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		log.Warn("task record no longer exists, dropping message")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeAbandoned, fmt.Errorf("failed to load task: %w", err)
	}

	if task.IsTerminal() {
		log.Debug("task already finished, ignoring redelivery", "status", task.Status)
		return OutcomeSkipped, nil
	}
	if msg.RetryCount < task.RetryCount {
		log.Debug("message belongs to an earlier attempt, ignoring",
			"task_retry_count", task.RetryCount)
		return OutcomeSkipped, nil
	}

	duration := task.Ingredient.ProcessingDuration()

	switch task.Status {
	case domain.TaskStatusPending:
		if err := task.Start(p.timeFunc(), duration); err != nil {
			return OutcomeAbandoned, err
		}
		if err := p.save(ctx, task); err != nil {
			return p.abandon(log, err)
		}
		p.emit(ctx, events.EventTaskStarted, task)
		log.Info("task processing started", "ingredient_id", task.Ingredient.ID)
	case domain.TaskStatusProcessing:
		p.emit(ctx, events.EventTaskResumed, task)
		log.Info("resuming task from persisted progress", "progress", task.Progress)
	}

	step := p.config.ProgressStep
	interval := p.StepInterval(task.Ingredient)
	for task.Progress < 100 {
		if err := p.sleep(ctx, interval); err != nil {
			return OutcomeAbandoned, err
		}

		next := min(task.Progress+step, 100)
		remaining := duration * time.Duration(100-next) / 100
		if err := task.Advance(next, p.timeFunc(), remaining); err != nil {
			return OutcomeAbandoned, err
		}
		if err := p.save(ctx, task); err != nil {
			return p.abandon(log, err)
		}
		p.emit(ctx, events.EventTaskProgress, task)
	}

	return p.finish(ctx, log, task)
}

// finish draws the attempt's outcome and applies it.
func (p *Processor) finish(ctx context.Context, log *slog.Logger, task *domain.ProcessingTask) (Outcome, error) {
	now := p.timeFunc()
	sample := p.sample()

	if sample >= task.Ingredient.FailureRate {
		if err := task.Complete(now); err != nil {
			return OutcomeAbandoned, err
		}
		if err := p.save(ctx, task); err != nil {
			return p.abandon(log, err)
		}
		p.emit(ctx, events.EventTaskCompleted, task)
		log.Info("task completed")
		return OutcomeCompleted, nil
	}

	if task.CanRetry() {
		if err := task.Retry(now); err != nil {
			return OutcomeAbandoned, err
		}
		if err := p.save(ctx, task); err != nil {
			return p.abandon(log, err)
		}
		p.emit(ctx, events.EventTaskRetrying, task)

		if err := p.publisher.Publish(ctx, queue.NewMessage(task, now)); err != nil {
			log.Error("failed to enqueue retry, task left pending",
				"retry_count", task.RetryCount,
				"error", err)
			return OutcomeRetried, fmt.Errorf("failed to enqueue retry: %w", err)
		}
		log.Info("task attempt failed, retry scheduled",
			"retry_count", task.RetryCount,
			"max_retries", task.MaxRetries)
		return OutcomeRetried, nil
	}

	if err := task.Fail(now); err != nil {
		return OutcomeAbandoned, err
	}
	if err := p.save(ctx, task); err != nil {
		return p.abandon(log, err)
	}
	p.emit(ctx, events.EventTaskFailed, task)
	log.Info("task failed, retry budget exhausted",
		"retry_count", task.RetryCount,
		"max_retries", task.MaxRetries)
	return OutcomeFailed, nil
}

func (p *Processor) save(ctx context.Context, task *domain.ProcessingTask) error {
	if err := p.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// abandon stops an attempt after a failed save. Losing a version race to
// another delivery of the same task is expected and not an error.
func (p *Processor) abandon(log *slog.Logger, err error) (Outcome, error) {
	if errors.Is(err, store.ErrStaleTask) {
		log.Info("task was updated by another delivery, abandoning attempt")
		return OutcomeSkipped, nil
	}
	if errors.Is(err, store.ErrTaskNotFound) {
		log.Warn("task record disappeared during processing, abandoning attempt")
		return OutcomeSkipped, nil
	}
	return OutcomeAbandoned, err
}

func (p *Processor) emit(ctx context.Context, eventType events.EventType, task *domain.ProcessingTask) {
	if err := p.emitter.EmitEvent(ctx, events.NewTaskEvent(eventType, task, p.timeFunc())); err != nil {
		p.logger.Warn("failed to emit task event",
			"task_id", task.ID,
			"event_type", eventType,
			"error", err)
	}
}

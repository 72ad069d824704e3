package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/events"
	"github.com/phrazzld/pantry-api/internal/platform/logger"
	"github.com/phrazzld/pantry-api/internal/queue"
	"github.com/phrazzld/pantry-api/internal/store"
)

// MaxSelectionSize is the largest number of ingredients one submission may name.
const MaxSelectionSize = 10

// Producer turns a user's ingredient selection into pending tasks and one
// queue message per task.
type Producer struct {
	store     store.TaskStore
	publisher queue.Publisher
	catalog   *domain.Catalog
	emitter   events.EventEmitter
	logger    *slog.Logger
	timeFunc  func() time.Time
}

// NewProducer creates a Producer. A nil emitter discards events.
func NewProducer(
	taskStore store.TaskStore,
	publisher queue.Publisher,
	catalog *domain.Catalog,
	emitter events.EventEmitter,
	logger *slog.Logger,
) (*Producer, error) {
	if taskStore == nil {
		return nil, ErrNilStore
	}
	if publisher == nil {
		return nil, ErrNilPublisher
	}
	if catalog == nil {
		return nil, ErrNilCatalog
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Producer{
		store:     taskStore,
		publisher: publisher,
		catalog:   catalog,
		emitter:   emitter,
		logger:    logger.With("component", "task_producer"),
		timeFunc:  time.Now,
	}, nil
}

// ValidateSelection checks the shape of a selection without consulting the
// catalog.
func ValidateSelection(ingredientIDs []string) error {
	if len(ingredientIDs) == 0 {
		return fmt.Errorf("%w: at least one ingredient is required", ErrInvalidSelection)
	}
	if len(ingredientIDs) > MaxSelectionSize {
		return fmt.Errorf("%w: at most %d ingredients may be selected", ErrInvalidSelection, MaxSelectionSize)
	}

	seen := make(map[string]struct{}, len(ingredientIDs))
	for _, id := range ingredientIDs {
		if id == "" {
			return fmt.Errorf("%w: ingredient IDs cannot be blank", ErrInvalidSelection)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: ingredient %q selected twice", ErrInvalidSelection, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// SubmitSelection creates one pending task per known ingredient, in
// selection order, and enqueues a message for each. Unknown IDs are dropped.
//
// A message that cannot be published leaves its task pending; the failure is
// logged and the task is still returned, to be re-enqueued by the runner's
// sweep.
func (p *Producer) SubmitSelection(
	ctx context.Context,
	userID string,
	ingredientIDs []string,
) ([]*domain.ProcessingTask, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	if userID == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyTaskUserID)
	}
	if err := ValidateSelection(ingredientIDs); err != nil {
		return nil, err
	}

	ingredients := make([]domain.Ingredient, 0, len(ingredientIDs))
	for _, id := range ingredientIDs {
		ing, ok := p.catalog.Lookup(id)
		if !ok {
			log.Debug("dropping unknown ingredient from selection",
				"user_id", userID,
				"ingredient_id", id)
			continue
		}
		ingredients = append(ingredients, ing)
	}

	if len(ingredients) == 0 {
		log.Info("selection contained no known ingredients",
			"user_id", userID,
			"requested", len(ingredientIDs))
		return []*domain.ProcessingTask{}, nil
	}

	tasks, err := p.store.CreateTasks(ctx, userID, ingredients)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks: %w", err)
	}

	now := p.timeFunc()
	published := 0
	for _, task := range tasks {
		if err := p.publisher.Publish(ctx, queue.NewMessage(task, now)); err != nil {
			log.Error("failed to enqueue task, leaving it pending",
				"task_id", task.ID,
				"user_id", userID,
				"ingredient_id", task.Ingredient.ID,
				"error", err)
			continue
		}
		published++

		if err := p.emitter.EmitEvent(ctx, events.NewTaskEvent(events.EventTaskSubmitted, task, now)); err != nil {
			log.Warn("failed to emit task event", "task_id", task.ID, "error", err)
		}
	}

	log.Info("ingredient selection submitted",
		"user_id", userID,
		"requested", len(ingredientIDs),
		"created", len(tasks),
		"enqueued", published)

	return tasks, nil
}

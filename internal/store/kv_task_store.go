package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/platform/logger"
)

const (
	taskKeyPrefix = "task:"

	// DefaultRetention is how long task records and indexes live without writes.
	DefaultRetention = 24 * time.Hour

	// maxIndexAttempts bounds the compare-and-swap loop on a user's index.
	maxIndexAttempts = 8

	// maxIDAttempts bounds ID regeneration when a freshly generated ID is taken.
	maxIDAttempts = 3
)

// ErrNilKV is returned when a task store is constructed without a backend.
var ErrNilKV = errors.New("kv backend cannot be nil")

// TaskKey returns the KV key holding the task record.
func TaskKey(id uuid.UUID) string {
	return taskKeyPrefix + id.String()
}

// UserIndexKey returns the KV key holding the user's ordered task IDs.
func UserIndexKey(userID string) string {
	return "user:" + userID + ":tasks"
}

// KVTaskStoreConfig holds the tunables of a KVTaskStore.
type KVTaskStoreConfig struct {
	// Retention is the TTL applied to records and indexes on every write.
	// Zero uses DefaultRetention; a negative value disables expiry.
	Retention time.Duration

	// MaxRetries is the retry budget stamped on new tasks.
	MaxRetries int
}

// KVTaskStore implements TaskStore on top of any KV backend.
type KVTaskStore struct {
	kv         KV
	ttl        time.Duration
	maxRetries int
	timeFunc   func() time.Time
}

// Ensure KVTaskStore implements TaskStore interface
var _ TaskStore = (*KVTaskStore)(nil)

// NewKVTaskStore creates a task store persisting through kv.
func NewKVTaskStore(kv KV, cfg KVTaskStoreConfig) (*KVTaskStore, error) {
	if kv == nil {
		return nil, ErrNilKV
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must not be negative", ErrInvalidEntity)
	}

	ttl := cfg.Retention
	if ttl == 0 {
		ttl = DefaultRetention
	}

	return &KVTaskStore{
		kv:         kv,
		ttl:        ttl,
		maxRetries: cfg.MaxRetries,
		timeFunc:   time.Now,
	}, nil
}

// SetTimeFunc replaces the clock used for timestamps and age filters.
func (s *KVTaskStore) SetTimeFunc(fn func() time.Time) {
	s.timeFunc = fn
}

// CreateTask persists a new pending task and prepends it to the user's index.
func (s *KVTaskStore) CreateTask(
	ctx context.Context,
	userID string,
	ingredient domain.Ingredient,
) (*domain.ProcessingTask, error) {
	tasks, err := s.CreateTasks(ctx, userID, []domain.Ingredient{ingredient})
	if err != nil {
		return nil, err
	}
	return tasks[0], nil
}

// CreateTasks persists one pending task per ingredient, then adds all new IDs
// to the user's index with a single write. If the index cannot be updated the
// freshly written records are removed again, so no record exists that the
// index does not reference.
func (s *KVTaskStore) CreateTasks(
	ctx context.Context,
	userID string,
	ingredients []domain.Ingredient,
) ([]*domain.ProcessingTask, error) {
	log := logger.FromContext(ctx)

	if len(ingredients) == 0 {
		return nil, nil
	}

	now := s.timeFunc()
	tasks := make([]*domain.ProcessingTask, 0, len(ingredients))
	keys := make([]string, 0, len(ingredients))
	ids := make([]string, 0, len(ingredients))

	rollback := func() {
		if len(keys) == 0 {
			return
		}
		if err := s.kv.Delete(context.WithoutCancel(ctx), keys...); err != nil {
			log.Error("failed to remove task records after failed create",
				"user_id", userID,
				"task_count", len(keys),
				"error", err)
		}
	}

	for _, ing := range ingredients {
		task, err := s.insertTask(ctx, userID, ing, now)
		if err != nil {
			rollback()
			return nil, err
		}
		tasks = append(tasks, task)
		keys = append(keys, TaskKey(task.ID))
		ids = append(ids, task.ID.String())
	}

	if err := s.prependToIndex(ctx, userID, ids); err != nil {
		rollback()
		return nil, err
	}

	log.Debug("tasks created",
		"user_id", userID,
		"task_count", len(tasks))

	return tasks, nil
}

// insertTask writes a new record under a fresh ID, regenerating the ID in
// the unlikely case that it is already taken.
func (s *KVTaskStore) insertTask(
	ctx context.Context,
	userID string,
	ing domain.Ingredient,
	now time.Time,
) (*domain.ProcessingTask, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		task, err := domain.NewProcessingTask(userID, ing, s.maxRetries, now)
		if err != nil {
			return nil, NewStoreError("task", "create", "invalid task", fmt.Errorf("%w: %v", ErrInvalidEntity, err))
		}
		task.Version = 1

		data, err := json.Marshal(task)
		if err != nil {
			return nil, NewStoreError("task", "create", "failed to encode task", err)
		}

		ok, err := s.kv.CompareAndSwap(ctx, TaskKey(task.ID), nil, data, s.ttl)
		if err != nil {
			return nil, NewStoreError("task", "create", "failed to write task", err)
		}
		if ok {
			return task, nil
		}
	}

	return nil, NewStoreError("task", "create", "could not allocate a unique task ID", ErrConflict)
}

// prependToIndex adds ids to the front of the user's index, retrying on
// concurrent modification.
func (s *KVTaskStore) prependToIndex(ctx context.Context, userID string, ids []string) error {
	key := UserIndexKey(userID)

	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		current, existing, err := s.readIndex(ctx, key)
		if err != nil {
			return err
		}

		next := make([]string, 0, len(ids)+len(existing))
		next = append(next, ids...)
		next = append(next, existing...)

		data, err := json.Marshal(next)
		if err != nil {
			return NewStoreError("task_index", "update", "failed to encode index", err)
		}

		ok, err := s.kv.CompareAndSwap(ctx, key, current, data, s.ttl)
		if err != nil {
			return NewStoreError("task_index", "update", "failed to write index", err)
		}
		if ok {
			return nil
		}
	}

	return NewStoreError("task_index", "update", "index kept changing", ErrConflict)
}

// readIndex returns the raw index value (nil when absent) and its decoded IDs.
func (s *KVTaskStore) readIndex(ctx context.Context, key string) ([]byte, []string, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, NewStoreError("task_index", "read", "failed to read index", err)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, nil, NewStoreError("task_index", "read", "failed to decode index", err)
	}
	return raw, ids, nil
}

// GetTask retrieves a task by its ID.
func (s *KVTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.ProcessingTask, error) {
	_, task, err := s.readTask(ctx, id)
	return task, err
}

func (s *KVTaskStore) readTask(ctx context.Context, id uuid.UUID) ([]byte, *domain.ProcessingTask, error) {
	raw, err := s.kv.Get(ctx, TaskKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, nil, NewStoreError("task", "read", "failed to read task", err)
	}

	task, err := decodeTask(raw)
	if err != nil {
		return nil, nil, NewStoreError("task", "read", "failed to decode task", err)
	}
	return raw, task, nil
}

// ListUserTasks returns the user's tasks in index order, newest first.
func (s *KVTaskStore) ListUserTasks(ctx context.Context, userID string) ([]*domain.ProcessingTask, error) {
	log := logger.FromContext(ctx)

	_, ids, err := s.readIndex(ctx, UserIndexKey(userID))
	if err != nil {
		return nil, err
	}

	tasks := make([]*domain.ProcessingTask, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Warn("skipping malformed task ID in user index",
				"user_id", userID,
				"task_id", raw)
			continue
		}

		task, err := s.GetTask(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			log.Debug("skipping expired task referenced by user index",
				"user_id", userID,
				"task_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// SaveTask conditionally overwrites a task record. See TaskStore.SaveTask.
func (s *KVTaskStore) SaveTask(ctx context.Context, task *domain.ProcessingTask) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return NewStoreError("task", "save", "invalid task", fmt.Errorf("%w: %v", ErrInvalidEntity, err))
	}

	current, stored, err := s.readTask(ctx, task.ID)
	if err != nil {
		return err
	}

	if stored.Version != task.Version {
		if sameState(stored, task) {
			// Duplicate of a save that already landed.
			task.Version = stored.Version
			task.UpdatedAt = stored.UpdatedAt
			return nil
		}
		log.Debug("rejecting stale task write",
			"task_id", task.ID,
			"stored_version", stored.Version,
			"write_version", task.Version)
		return ErrStaleTask
	}

	next := task.Clone()
	next.Version++

	data, err := json.Marshal(next)
	if err != nil {
		return NewStoreError("task", "save", "failed to encode task", err)
	}

	ok, err := s.kv.CompareAndSwap(ctx, TaskKey(task.ID), current, data, s.ttl)
	if err != nil {
		return NewStoreError("task", "save", "failed to write task", err)
	}
	if !ok {
		return ErrStaleTask
	}

	task.Version = next.Version

	if err := s.kv.Expire(ctx, UserIndexKey(task.UserID), s.ttl); err != nil {
		log.Warn("failed to refresh user index retention",
			"user_id", task.UserID,
			"task_id", task.ID,
			"error", err)
	}

	return nil
}

// ClearUserTasks deletes all records referenced by the user's index before
// deleting the index itself, so a failure part way leaves an index that
// still points at records rather than records nothing points at. The index
// is only deleted while it still holds the value that was read; if a
// submission lands in between, the index is re-read and the new records
// are cleared too.
func (s *KVTaskStore) ClearUserTasks(ctx context.Context, userID string) (int, error) {
	log := logger.FromContext(ctx)
	key := UserIndexKey(userID)
	cleared := make(map[string]struct{})

	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		raw, ids, err := s.readIndex(ctx, key)
		if err != nil {
			return len(cleared), err
		}
		if raw == nil {
			return logCleared(log, userID, cleared), nil
		}

		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, done := cleared[id]; !done {
				keys = append(keys, taskKeyPrefix+id)
			}
		}
		if len(keys) > 0 {
			if err := s.kv.Delete(ctx, keys...); err != nil {
				return len(cleared), NewStoreError("task", "delete", "failed to delete task records", err)
			}
		}
		for _, id := range ids {
			cleared[id] = struct{}{}
		}

		ok, err := s.kv.CompareAndDelete(ctx, key, raw)
		if err != nil {
			return len(cleared), NewStoreError("task_index", "delete", "failed to delete index", err)
		}
		if ok {
			return logCleared(log, userID, cleared), nil
		}

		log.Debug("user index changed during clear, retrying",
			"user_id", userID,
			"attempt", attempt+1)
	}

	return len(cleared), NewStoreError("task_index", "delete", "index kept changing", ErrConflict)
}

func logCleared(log *slog.Logger, userID string, cleared map[string]struct{}) int {
	log.Info("cleared user tasks",
		"user_id", userID,
		"task_count", len(cleared))
	return len(cleared)
}

// ListTasksByStatus scans all live task records for the given status.
func (s *KVTaskStore) ListTasksByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
) ([]*domain.ProcessingTask, error) {
	log := logger.FromContext(ctx)

	entries, err := s.kv.Scan(ctx, taskKeyPrefix)
	if err != nil {
		return nil, NewStoreError("task", "scan", "failed to scan tasks", err)
	}

	cutoff := s.timeFunc().Add(-olderThan)
	var tasks []*domain.ProcessingTask
	for _, entry := range entries {
		task, err := decodeTask(entry.Value)
		if err != nil {
			log.Warn("skipping undecodable task record",
				"key", strings.TrimPrefix(entry.Key, taskKeyPrefix),
				"error", err)
			continue
		}
		if task.Status != status {
			continue
		}
		if olderThan > 0 && !task.UpdatedAt.Before(cutoff) {
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

func decodeTask(raw []byte) (*domain.ProcessingTask, error) {
	var task domain.ProcessingTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// sameState reports whether two records agree on everything except the
// bookkeeping fields a save itself changes.
func sameState(a, b *domain.ProcessingTask) bool {
	ac, bc := a.Clone(), b.Clone()
	ac.Version, bc.Version = 0, 0
	ac.UpdatedAt, bc.UpdatedAt = time.Time{}, time.Time{}

	aj, errA := json.Marshal(ac)
	bj, errB := json.Marshal(bc)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

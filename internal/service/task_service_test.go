package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/platform/memory"
	"github.com/phrazzld/pantry-api/internal/service"
	"github.com/phrazzld/pantry-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ingredient(id string) domain.Ingredient {
	return domain.Ingredient{ID: id, Name: id, ProcessingTimeSeconds: 1}
}

// failingStore overrides selected store methods with errors.
type failingStore struct {
	store.TaskStore
	err error
}

func (f *failingStore) ListUserTasks(context.Context, string) ([]*domain.ProcessingTask, error) {
	return nil, f.err
}

func (f *failingStore) GetTask(context.Context, uuid.UUID) (*domain.ProcessingTask, error) {
	return nil, f.err
}

func (f *failingStore) ClearUserTasks(context.Context, string) (int, error) {
	return 0, f.err
}

func newService(t *testing.T) (service.TaskStatusService, *store.KVTaskStore, *memory.KVStore) {
	t.Helper()
	kv := memory.NewKVStore()
	s, err := store.NewKVTaskStore(kv, store.KVTaskStoreConfig{MaxRetries: 3})
	require.NoError(t, err)
	svc, err := service.NewTaskStatusService(s, testLogger())
	require.NoError(t, err)
	return svc, s, kv
}

func TestNewTaskStatusService(t *testing.T) {
	t.Parallel()

	_, err := service.NewTaskStatusService(nil, nil)
	var svcErr *service.TaskServiceError
	assert.ErrorAs(t, err, &svcErr)
}

func TestTaskStatusService_ListTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, s, kv := newService(t)

	tasks, err := s.CreateTasks(ctx, "user-1", []domain.Ingredient{
		ingredient("carrot"), ingredient("tomato"), ingredient("onion"), ingredient("corn"),
	})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, tasks[0].Start(now, time.Second))
	require.NoError(t, s.SaveTask(ctx, tasks[0]))

	require.NoError(t, tasks[1].Start(now, time.Second))
	require.NoError(t, tasks[1].Complete(now))
	require.NoError(t, s.SaveTask(ctx, tasks[1]))

	require.NoError(t, tasks[2].Start(now, time.Second))
	require.NoError(t, tasks[2].Fail(now))
	require.NoError(t, s.SaveTask(ctx, tasks[2]))

	_, err = s.CreateTask(ctx, "user-2", ingredient("garlic"))
	require.NoError(t, err)

	list, err := svc.ListTasks(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list.Tasks, 4)
	assert.Equal(t, service.TaskCounts{Total: 4, Pending: 1, Processing: 1, Completed: 1, Failed: 1}, list.Counts)

	// A record that expired while still indexed is skipped.
	require.NoError(t, kv.Delete(ctx, store.TaskKey(tasks[3].ID)))
	list, err = svc.ListTasks(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list.Tasks, 3)
	assert.Equal(t, 0, list.Counts.Pending)
	assert.Equal(t, 3, list.Counts.Total)

	empty, err := svc.ListTasks(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty.Tasks)
	assert.Equal(t, service.TaskCounts{}, empty.Counts)
}

func TestTaskStatusService_GetTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, s, _ := newService(t)

	task, err := s.CreateTask(ctx, "user-1", ingredient("carrot"))
	require.NoError(t, err)

	got, err := svc.GetTask(ctx, "user-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	_, err = svc.GetTask(ctx, "user-2", task.ID)
	assert.ErrorIs(t, err, service.ErrNotOwned)

	_, err = svc.GetTask(ctx, "user-1", uuid.New())
	assert.ErrorIs(t, err, service.ErrTaskNotFound)
	assert.NotErrorIs(t, err, service.ErrNotOwned)
}

func TestTaskStatusService_ClearTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, s, _ := newService(t)

	_, err := s.CreateTasks(ctx, "user-1", []domain.Ingredient{ingredient("carrot"), ingredient("tomato")})
	require.NoError(t, err)

	n, err := svc.ClearTasks(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := svc.ListTasks(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list.Tasks)
}

func TestTaskStatusService_WrapsUnexpectedErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	boom := errors.New("kv down")
	svc, err := service.NewTaskStatusService(&failingStore{err: boom}, testLogger())
	require.NoError(t, err)

	var svcErr *service.TaskServiceError

	_, err = svc.ListTasks(ctx, "user-1")
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "list_tasks", svcErr.Operation)
	assert.ErrorIs(t, err, boom)

	_, err = svc.GetTask(ctx, "user-1", uuid.New())
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "get_task", svcErr.Operation)

	_, err = svc.ClearTasks(ctx, "user-1")
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "clear_tasks", svcErr.Operation)
}

func TestNewTaskServiceError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, service.NewTaskServiceError("op", "msg", nil))
	assert.Equal(t, service.ErrTaskNotFound, service.NewTaskServiceError("op", "msg", store.ErrTaskNotFound))
	assert.Equal(t, service.ErrNotOwned, service.NewTaskServiceError("op", "msg", service.ErrNotOwned))

	err := service.NewTaskServiceError("op", "msg", errors.New("x"))
	assert.EqualError(t, err, "task service op failed: msg: x")
}

package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/events"
	"github.com/phrazzld/pantry-api/internal/platform/memory"
	"github.com/phrazzld/pantry-api/internal/queue"
	"github.com/phrazzld/pantry-api/internal/store"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeClock advances only when the processor sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func testIngredients() []domain.Ingredient {
	return []domain.Ingredient{
		{ID: "carrot", Name: "Carrot", Emoji: "🥕", ProcessingTimeSeconds: 2, FailureRate: 0},
		{ID: "tomato", Name: "Tomato", Emoji: "🍅", ProcessingTimeSeconds: 20, FailureRate: 0},
		{ID: "onion", Name: "Onion", Emoji: "🧅", ProcessingTimeSeconds: 1, FailureRate: 1},
		{ID: "pepper", Name: "Pepper", Emoji: "🌶️", ProcessingTimeSeconds: 1, FailureRate: 0.3},
	}
}

func testCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	c, err := domain.NewCatalog(testIngredients())
	require.NoError(t, err)
	return c
}

func ingredientByID(t *testing.T, id string) domain.Ingredient {
	t.Helper()
	ing, ok := testCatalog(t).Lookup(id)
	require.True(t, ok, "unknown test ingredient %s", id)
	return ing
}

// newTestStore returns a task store on an in-memory KV sharing clock.
func newTestStore(t *testing.T, clock *fakeClock, maxRetries int) (*store.KVTaskStore, *memory.KVStore) {
	t.Helper()
	kv := memory.NewKVStore()
	kv.SetTimeFunc(clock.Now)
	s, err := store.NewKVTaskStore(kv, store.KVTaskStoreConfig{Retention: 24 * time.Hour, MaxRetries: maxRetries})
	require.NoError(t, err)
	s.SetTimeFunc(clock.Now)
	return s, kv
}

// mockPublisher records published messages; PublishFn, when set, decides
// the result.
type mockPublisher struct {
	mu        sync.Mutex
	messages  []queue.Message
	PublishFn func(ctx context.Context, msg queue.Message) error
}

func (m *mockPublisher) Publish(ctx context.Context, msg queue.Message) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockPublisher) Messages() []queue.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// mockTaskStore wraps a real store and lets tests override single methods.
type mockTaskStore struct {
	store.TaskStore
	SaveTaskFn    func(ctx context.Context, task *domain.ProcessingTask) error
	CreateTasksFn func(ctx context.Context, userID string, ingredients []domain.Ingredient) ([]*domain.ProcessingTask, error)

	ListTasksByStatusFn func(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.ProcessingTask, error)
}

func (m *mockTaskStore) ListTasksByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
) ([]*domain.ProcessingTask, error) {
	if m.ListTasksByStatusFn != nil {
		return m.ListTasksByStatusFn(ctx, status, olderThan)
	}
	return m.TaskStore.ListTasksByStatus(ctx, status, olderThan)
}

func (m *mockTaskStore) SaveTask(ctx context.Context, task *domain.ProcessingTask) error {
	if m.SaveTaskFn != nil {
		return m.SaveTaskFn(ctx, task)
	}
	return m.TaskStore.SaveTask(ctx, task)
}

func (m *mockTaskStore) CreateTasks(
	ctx context.Context,
	userID string,
	ingredients []domain.Ingredient,
) ([]*domain.ProcessingTask, error) {
	if m.CreateTasksFn != nil {
		return m.CreateTasksFn(ctx, userID, ingredients)
	}
	return m.TaskStore.CreateTasks(ctx, userID, ingredients)
}

// newTestProcessor wires a processor to the fake clock and a fixed sample.
func newTestProcessor(
	t *testing.T,
	taskStore store.TaskStore,
	publisher queue.Publisher,
	clock *fakeClock,
	sample float64,
) (*Processor, *events.Recorder) {
	t.Helper()
	recorder := &events.Recorder{}
	emitter := events.NewInMemoryEventEmitter(testLogger())
	emitter.RegisterHandler(recorder)

	p, err := NewProcessor(taskStore, publisher, emitter, DefaultProcessorConfig(), testLogger())
	require.NoError(t, err)
	p.SetClock(clock.Now, clock.Sleep)
	p.SetSampler(func() float64 { return sample })
	return p, recorder
}

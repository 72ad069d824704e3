package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func carrot() Ingredient {
	return Ingredient{ID: "carrot", Name: "Carrot", Emoji: "🥕", ProcessingTimeSeconds: 2, FailureRate: 0.1}
}

func TestNewProcessingTask(t *testing.T) {
	t.Parallel()

	task, err := NewProcessingTask("user-1", carrot(), 3, testNow)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, "user-1", task.UserID)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, 3, task.MaxRetries)
	assert.Equal(t, testNow, task.CreatedAt)
	assert.Nil(t, task.StartTime)

	_, err = NewProcessingTask("", carrot(), 3, testNow)
	assert.ErrorIs(t, err, ErrEmptyTaskUserID)

	_, err = NewProcessingTask("user-1", Ingredient{ID: "x", Name: "X"}, 3, testNow)
	assert.ErrorIs(t, err, ErrInvalidProcessingTime)

	_, err = NewProcessingTask("user-1", carrot(), -1, testNow)
	assert.ErrorIs(t, err, ErrInvalidRetryCount)
}

func TestProcessingTask_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	ing := carrot()
	task, err := NewProcessingTask("user-1", ing, 3, testNow)
	require.NoError(t, err)

	ing.FailureRate = 1
	assert.Equal(t, 0.1, task.Ingredient.FailureRate)
}

func TestProcessingTask_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("success path", func(t *testing.T) {
		t.Parallel()
		task, err := NewProcessingTask("user-1", carrot(), 3, testNow)
		require.NoError(t, err)

		require.NoError(t, task.Start(testNow, 2*time.Second))
		assert.Equal(t, TaskStatusProcessing, task.Status)
		require.NotNil(t, task.StartTime)
		require.NotNil(t, task.EstimatedEndTime)
		assert.Equal(t, testNow.Add(2*time.Second), *task.EstimatedEndTime)

		require.NoError(t, task.Advance(50, testNow.Add(time.Second), time.Second))
		assert.Equal(t, 50, task.Progress)

		require.NoError(t, task.Complete(testNow.Add(2*time.Second)))
		assert.Equal(t, TaskStatusCompleted, task.Status)
		assert.Equal(t, 100, task.Progress)
		require.NotNil(t, task.EndTime)
		assert.True(t, task.IsTerminal())
	})

	t.Run("retry until budget exhausted", func(t *testing.T) {
		t.Parallel()
		task, err := NewProcessingTask("user-1", carrot(), 2, testNow)
		require.NoError(t, err)

		for i := 1; i <= 2; i++ {
			require.NoError(t, task.Start(testNow, time.Second))
			require.NoError(t, task.Advance(100, testNow, 0))
			require.NoError(t, task.Retry(testNow.Add(time.Duration(i)*time.Second)))
			assert.Equal(t, TaskStatusPending, task.Status)
			assert.Equal(t, i, task.RetryCount)
			assert.Equal(t, 0, task.Progress)
		}

		require.NoError(t, task.Start(testNow, time.Second))
		err = task.Retry(testNow)
		assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
		assert.Equal(t, 2, task.RetryCount)

		require.NoError(t, task.Fail(testNow))
		assert.Equal(t, TaskStatusFailed, task.Status)
		assert.True(t, task.IsTerminal())
	})
}

func TestProcessingTask_IllegalTransitions(t *testing.T) {
	t.Parallel()

	pending, err := NewProcessingTask("user-1", carrot(), 3, testNow)
	require.NoError(t, err)

	assert.ErrorIs(t, pending.Complete(testNow), ErrInvalidTransition)
	assert.ErrorIs(t, pending.Fail(testNow), ErrInvalidTransition)
	assert.ErrorIs(t, pending.Retry(testNow), ErrInvalidTransition)
	assert.ErrorIs(t, pending.Advance(10, testNow, 0), ErrInvalidTransition)

	require.NoError(t, pending.Start(testNow, time.Second))
	assert.ErrorIs(t, pending.Start(testNow, time.Second), ErrInvalidTransition)

	require.NoError(t, pending.Advance(40, testNow, 0))
	assert.ErrorIs(t, pending.Advance(35, testNow, 0), ErrInvalidProgress)
	assert.ErrorIs(t, pending.Advance(101, testNow, 0), ErrInvalidProgress)

	require.NoError(t, pending.Complete(testNow))
	assert.ErrorIs(t, pending.Start(testNow, time.Second), ErrInvalidTransition)
	assert.ErrorIs(t, pending.Fail(testNow), ErrInvalidTransition)
}

func TestProcessingTask_Clone(t *testing.T) {
	t.Parallel()

	task, err := NewProcessingTask("user-1", carrot(), 3, testNow)
	require.NoError(t, err)
	require.NoError(t, task.Start(testNow, time.Second))

	c := task.Clone()
	*c.StartTime = testNow.Add(time.Hour)
	c.Progress = 80

	assert.Equal(t, testNow, *task.StartTime)
	assert.Equal(t, 0, task.Progress)
}

func TestProcessingTask_Touch(t *testing.T) {
	t.Parallel()

	task, err := NewProcessingTask("user-1", carrot(), 3, testNow)
	require.NoError(t, err)
	before := task.Clone()

	later := testNow.Add(time.Minute).In(time.FixedZone("UTC+2", 2*60*60))
	task.Touch(later)

	assert.Equal(t, later.UTC(), task.UpdatedAt)
	assert.Equal(t, time.UTC, task.UpdatedAt.Location())
	assert.Equal(t, before.Status, task.Status)
	assert.Equal(t, before.Progress, task.Progress)
	assert.Equal(t, before.RetryCount, task.RetryCount)
}

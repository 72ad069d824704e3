// Package queuetest holds a behavioural test suite shared by every queue
// backend.
package queuetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty queue whose visibility timeout is
// visibility.
type Factory func(t *testing.T, visibility time.Duration) queue.Queue

// NewMessage returns a valid message for a random task.
func NewMessage(retryCount int) queue.Message {
	return queue.Message{
		TaskID:     uuid.New(),
		Ingredient: domain.Ingredient{ID: "carrot", Name: "Carrot", ProcessingTimeSeconds: 1},
		UserID:     "user-1",
		Timestamp:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		RetryCount: retryCount,
	}
}

func receive(t *testing.T, q queue.Receiver, max int) []queue.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deliveries, err := q.Receive(ctx, max)
	require.NoError(t, err)
	return deliveries
}

// RunConformance exercises the queue.Queue contract against a backend.
func RunConformance(t *testing.T, factory Factory) {
	t.Run("fifo batches", func(t *testing.T) {
		q := factory(t, time.Minute)
		ctx := context.Background()

		var sent []queue.Message
		for i := 0; i < 3; i++ {
			msg := NewMessage(i)
			sent = append(sent, msg)
			require.NoError(t, q.Publish(ctx, msg))
		}

		first := receive(t, q, 2)
		require.Len(t, first, 2)
		assert.Equal(t, sent[0].TaskID, first[0].Message.TaskID)
		assert.Equal(t, sent[1].TaskID, first[1].Message.TaskID)
		assert.Equal(t, 1, first[0].Attempt)
		assert.NotEmpty(t, first[0].Receipt)

		second := receive(t, q, 10)
		require.Len(t, second, 1)
		assert.Equal(t, sent[2], second[0].Message)
	})

	t.Run("receive blocks until context done", func(t *testing.T) {
		q := factory(t, time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := q.Receive(ctx, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("receive wakes on publish", func(t *testing.T) {
		q := factory(t, time.Minute)
		msg := NewMessage(0)

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = q.Publish(context.Background(), msg)
		}()

		got := receive(t, q, 1)
		require.Len(t, got, 1)
		assert.Equal(t, msg.TaskID, got[0].Message.TaskID)
	})

	t.Run("ack removes message", func(t *testing.T) {
		q := factory(t, 50*time.Millisecond)
		ctx := context.Background()
		require.NoError(t, q.Publish(ctx, NewMessage(0)))

		got := receive(t, q, 1)
		require.Len(t, got, 1)
		require.NoError(t, q.Ack(ctx, got[0]))

		time.Sleep(100 * time.Millisecond)
		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err := q.Receive(waitCtx, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		assert.ErrorIs(t, q.Ack(ctx, got[0]), queue.ErrUnknownReceipt)
	})

	t.Run("release redelivers immediately", func(t *testing.T) {
		q := factory(t, time.Minute)
		ctx := context.Background()
		msg := NewMessage(0)
		require.NoError(t, q.Publish(ctx, msg))

		got := receive(t, q, 1)
		require.Len(t, got, 1)
		require.NoError(t, q.Release(ctx, got[0]))

		again := receive(t, q, 1)
		require.Len(t, again, 1)
		assert.Equal(t, msg.TaskID, again[0].Message.TaskID)
		assert.Equal(t, 2, again[0].Attempt)
		assert.NotEqual(t, got[0].Receipt, again[0].Receipt)
	})

	t.Run("lapsed lease redelivers", func(t *testing.T) {
		q := factory(t, 50*time.Millisecond)
		ctx := context.Background()
		msg := NewMessage(0)
		require.NoError(t, q.Publish(ctx, msg))

		got := receive(t, q, 1)
		require.Len(t, got, 1)

		again := receive(t, q, 1)
		require.Len(t, again, 1)
		assert.Equal(t, msg.TaskID, again[0].Message.TaskID)

		// The first lease no longer owns the message.
		assert.ErrorIs(t, q.Ack(ctx, got[0]), queue.ErrUnknownReceipt)
		assert.NoError(t, q.Ack(ctx, again[0]))
	})

	t.Run("invalid message rejected", func(t *testing.T) {
		q := factory(t, time.Minute)
		err := q.Publish(context.Background(), queue.Message{})
		assert.ErrorIs(t, err, queue.ErrInvalidMessage)
	})
}

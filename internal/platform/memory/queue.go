package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/queue"
)

// maxReceiveWait bounds how long Receive sleeps before re-checking leases.
const maxReceiveWait = time.Second

type queuedMessage struct {
	id       string
	msg      queue.Message
	attempts int
	receipt  string
	deadline time.Time
}

// Queue is a bounded in-process queue with visibility-timeout leases.
// Messages do not survive a restart.
type Queue struct {
	mu         sync.Mutex
	ready      []*queuedMessage
	inflight   map[string]*queuedMessage // keyed by message id
	capacity   int
	visibility time.Duration
	notify     chan struct{}
	done       chan struct{}
	closed     bool
	logger     *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a queue holding at most capacity messages (ready plus
// in flight). A capacity of zero or less means unbounded.
func NewQueue(capacity int, visibility time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		inflight:   make(map[string]*queuedMessage),
		capacity:   capacity,
		visibility: visibility,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		logger:     logger.With("component", "memory_queue"),
	}
}

// Publish appends msg to the tail of the queue.
func (q *Queue) Publish(ctx context.Context, msg queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return queue.ErrQueueClosed
	}
	if q.capacity > 0 && len(q.ready)+len(q.inflight) >= q.capacity {
		return fmt.Errorf("%w: queue capacity %d reached", queue.ErrQueueFull, q.capacity)
	}

	q.ready = append(q.ready, &queuedMessage{id: uuid.NewString(), msg: msg})
	q.signal()

	q.logger.Debug("message enqueued",
		"task_id", msg.TaskID,
		"retry_count", msg.RetryCount,
		"queue_len", len(q.ready))
	return nil
}

// signal wakes one waiting receiver. Callers must hold the lock.
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Receive leases up to max ready messages, waiting for one if none is ready.
// After Close it drains what is left and then returns ErrQueueClosed.
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Delivery, error) {
	if max <= 0 {
		max = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		deliveries, wait, closed := q.take(max)
		if len(deliveries) > 0 {
			return deliveries, nil
		}
		if closed {
			return nil, queue.ErrQueueClosed
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// take reclaims lapsed leases and leases up to max messages. When nothing
// is ready it reports how long to wait before the next lease lapses.
func (q *Queue) take(max int) ([]queue.Delivery, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	wait := maxReceiveWait

	var lapsed []*queuedMessage
	for id, m := range q.inflight {
		if !now.Before(m.deadline) {
			lapsed = append(lapsed, m)
			delete(q.inflight, id)
			continue
		}
		if d := m.deadline.Sub(now); d < wait {
			wait = d
		}
	}
	for _, m := range lapsed {
		m.receipt = ""
		q.logger.Warn("lease lapsed, message made visible again",
			"task_id", m.msg.TaskID,
			"attempts", m.attempts)
	}
	if len(lapsed) > 0 {
		q.ready = append(lapsed, q.ready...)
	}

	n := min(max, len(q.ready))
	if n == 0 {
		return nil, wait, q.closed
	}

	deliveries := make([]queue.Delivery, 0, n)
	for _, m := range q.ready[:n] {
		m.attempts++
		m.receipt = uuid.NewString()
		m.deadline = now.Add(q.visibility)
		q.inflight[m.id] = m
		deliveries = append(deliveries, queue.Delivery{
			ID:      m.id,
			Receipt: m.receipt,
			Attempt: m.attempts,
			Message: m.msg,
		})
	}
	q.ready = q.ready[n:]

	if len(q.ready) > 0 {
		q.signal()
	}
	return deliveries, wait, q.closed
}

// lease returns the in-flight message held by d. Callers must hold the lock.
func (q *Queue) lease(d queue.Delivery) (*queuedMessage, error) {
	m, ok := q.inflight[d.ID]
	if !ok || m.receipt != d.Receipt {
		return nil, queue.ErrUnknownReceipt
	}
	return m, nil
}

// Ack drops the message held by d.
func (q *Queue) Ack(_ context.Context, d queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.lease(d); err != nil {
		return err
	}
	delete(q.inflight, d.ID)
	return nil
}

// Release puts the message held by d back at the head of the queue.
func (q *Queue) Release(_ context.Context, d queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.lease(d)
	if err != nil {
		return err
	}
	delete(q.inflight, d.ID)
	m.receipt = ""
	q.ready = append([]*queuedMessage{m}, q.ready...)
	q.signal()
	return nil
}

// Len returns the number of messages waiting to be received.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// InFlight returns the number of leased, unacknowledged messages.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Close stops accepting new messages and wakes blocked receivers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	q.logger.Info("queue closed",
		"remaining", len(q.ready),
		"in_flight", len(q.inflight))
}

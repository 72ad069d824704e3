package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/queue"
	"github.com/phrazzld/pantry-api/internal/store"
)

const (
	// DefaultQueueName is the logical queue the task pipeline uses.
	DefaultQueueName = "ingredient-tasks"

	defaultVisibility   = 30 * time.Second
	defaultPollInterval = 250 * time.Millisecond
)

// QueueConfig holds the tunables of a SQL queue.
type QueueConfig struct {
	// Name separates logical queues sharing the table.
	Name string

	// Visibility is how long a received message stays hidden before it is
	// handed out again.
	Visibility time.Duration

	// PollInterval is how often an idle receiver checks for new messages.
	PollInterval time.Duration
}

// Queue is a durable queue on the queue_messages table. Messages survive
// restarts; a message leased by a crashed consumer reappears once its
// visibility timeout lapses.
type Queue struct {
	db       *DB
	cfg      QueueConfig
	logger   *slog.Logger
	timeFunc func() time.Time
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a SQL queue on db.
func NewQueue(db *DB, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.Name == "" {
		cfg.Name = DefaultQueueName
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = defaultVisibility
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:       db,
		cfg:      cfg,
		logger:   logger.With("component", "sql_queue", "queue", cfg.Name),
		timeFunc: time.Now,
	}
}

// Publish inserts msg as immediately visible.
func (q *Queue) Publish(ctx context.Context, msg queue.Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}

	now := millis(q.timeFunc())
	query := `
		INSERT INTO queue_messages (queue_name, body, visible_at, attempts, created_at)
		VALUES (?, ?, ?, 0, ?)
	`
	if _, err := q.db.ExecContext(ctx, q.db.dialect.rebind(query), q.cfg.Name, body, now, now); err != nil {
		return fmt.Errorf("failed to publish message: %w", MapError(err))
	}

	q.logger.Debug("message enqueued",
		"task_id", msg.TaskID,
		"retry_count", msg.RetryCount)
	return nil
}

// Receive polls until at least one message can be leased.
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Delivery, error) {
	if max <= 0 {
		max = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		deliveries, err := q.claim(ctx, max)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(deliveries) > 0 {
			return deliveries, nil
		}

		timer := time.NewTimer(q.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type claimedRow struct {
	id       int64
	body     []byte
	attempts int
}

// claim leases up to max visible messages in one transaction. Rows whose
// body cannot be decoded are deleted.
func (q *Queue) claim(ctx context.Context, max int) ([]queue.Delivery, error) {
	now := q.timeFunc()

	selectQuery := `
		SELECT id, body, attempts FROM queue_messages
		WHERE queue_name = ? AND visible_at <= ?
		ORDER BY id
		LIMIT ?
	`
	if q.db.dialect == DialectPostgres {
		selectQuery += " FOR UPDATE SKIP LOCKED"
	}
	leaseQuery := `UPDATE queue_messages SET visible_at = ?, receipt = ?, attempts = attempts + 1 WHERE id = ?`
	dropQuery := `DELETE FROM queue_messages WHERE id = ?`

	var deliveries []queue.Delivery
	err := store.RunInTransaction(ctx, q.db.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		claimed, err := q.selectVisible(ctx, tx, selectQuery, millis(now), max)
		if err != nil {
			return err
		}

		for _, row := range claimed {
			msg, err := queue.Decode(row.body)
			if err != nil {
				q.logger.Error("dropping undecodable message",
					"message_id", row.id,
					"error", err)
				if _, err := tx.ExecContext(ctx, q.db.dialect.rebind(dropQuery), row.id); err != nil {
					return fmt.Errorf("failed to drop message: %w", MapError(err))
				}
				continue
			}

			receipt := uuid.NewString()
			_, err = tx.ExecContext(ctx, q.db.dialect.rebind(leaseQuery),
				millis(now.Add(q.cfg.Visibility)), receipt, row.id)
			if err != nil {
				return fmt.Errorf("failed to lease message: %w", MapError(err))
			}

			deliveries = append(deliveries, queue.Delivery{
				ID:      strconv.FormatInt(row.id, 10),
				Receipt: receipt,
				Attempt: row.attempts + 1,
				Message: msg,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (q *Queue) selectVisible(ctx context.Context, tx store.DBTX, query string, now int64, max int) ([]claimedRow, error) {
	rows, err := tx.QueryContext(ctx, q.db.dialect.rebind(query), q.cfg.Name, now, max)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", MapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			q.logger.Error("failed to close rows", "error", cerr)
		}
	}()

	var claimed []claimedRow
	for rows.Next() {
		var row claimedRow
		if err := rows.Scan(&row.id, &row.body, &row.attempts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return claimed, nil
}

// Ack deletes the message if d still holds its lease.
func (q *Queue) Ack(ctx context.Context, d queue.Delivery) error {
	id, err := strconv.ParseInt(d.ID, 10, 64)
	if err != nil {
		return queue.ErrUnknownReceipt
	}

	query := `DELETE FROM queue_messages WHERE id = ? AND receipt = ?`
	return q.execLeased(ctx, query, id, d.Receipt)
}

// Release makes the message visible again if d still holds its lease.
func (q *Queue) Release(ctx context.Context, d queue.Delivery) error {
	id, err := strconv.ParseInt(d.ID, 10, 64)
	if err != nil {
		return queue.ErrUnknownReceipt
	}

	query := `UPDATE queue_messages SET visible_at = ?, receipt = NULL WHERE id = ? AND receipt = ?`
	return q.execLeased(ctx, query, millis(q.timeFunc()), id, d.Receipt)
}

func (q *Queue) execLeased(ctx context.Context, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, q.db.dialect.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return queue.ErrUnknownReceipt
	}
	return nil
}

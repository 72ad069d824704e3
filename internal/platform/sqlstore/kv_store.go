package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/pantry-api/internal/platform/logger"
	"github.com/phrazzld/pantry-api/internal/store"
)

// KVStore implements store.KV on the kv_entries table. Expired rows are
// invisible to every operation and removed by PurgeExpired.
type KVStore struct {
	db       store.DBTX
	dialect  Dialect
	timeFunc func() time.Time
}

var (
	_ store.KV     = (*KVStore)(nil)
	_ store.Purger = (*KVStore)(nil)
)

// NewKVStore creates a KV store on db.
func NewKVStore(db *DB) *KVStore {
	return &KVStore{
		db:       db.DB,
		dialect:  db.dialect,
		timeFunc: time.Now,
	}
}

// SetTimeFunc replaces the clock used for expiry decisions.
func (s *KVStore) SetTimeFunc(fn func() time.Time) {
	s.timeFunc = fn
}

const liveCondition = "(expires_at = 0 OR expires_at > ?)"

// Get returns the live value under key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM kv_entries WHERE key = ? AND ` + liveCondition

	var value []byte
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), key, millis(s.timeFunc())).Scan(&value)
	if err != nil {
		err = MapError(err)
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(query), key, value, expiresAt(s.timeFunc(), ttl))
	if err != nil {
		return fmt.Errorf("failed to write key: %w", MapError(err))
	}
	return nil
}

// CompareAndSwap writes value if the live value under key equals expected,
// or if expected is nil and no live value exists.
func (s *KVStore) CompareAndSwap(
	ctx context.Context,
	key string,
	expected, value []byte,
	ttl time.Duration,
) (bool, error) {
	now := s.timeFunc()

	var (
		query string
		args  []any
	)
	if expected == nil {
		// An expired row still occupies the key, so insert-if-absent may
		// overwrite it.
		query = `
			INSERT INTO kv_entries (key, value, expires_at)
			VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE
			SET value = excluded.value, expires_at = excluded.expires_at
			WHERE kv_entries.expires_at <> 0 AND kv_entries.expires_at <= ?
		`
		args = []any{key, value, expiresAt(now, ttl), millis(now)}
	} else {
		query = `
			UPDATE kv_entries
			SET value = ?, expires_at = ?
			WHERE key = ? AND value = ? AND ` + liveCondition
		args = []any{value, expiresAt(now, ttl), key, expected, millis(now)}
	}

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to swap key: %w", MapError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// CompareAndDelete removes key if its live value equals expected.
func (s *KVStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	now := s.timeFunc()
	query := `DELETE FROM kv_entries WHERE key = ? AND value = ? AND ` + liveCondition

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(query), key, expected, millis(now))
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", MapError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// Expire resets the TTL of a live key.
func (s *KVStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	now := s.timeFunc()
	query := `UPDATE kv_entries SET expires_at = ? WHERE key = ? AND ` + liveCondition

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(query), expiresAt(now, ttl), key, millis(now))
	if err != nil {
		return fmt.Errorf("failed to refresh key expiry: %w", MapError(err))
	}
	return nil
}

// Delete removes the given keys in one statement.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	query := `DELETE FROM kv_entries WHERE key IN (` + placeholders + `)`

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete keys: %w", MapError(err))
	}
	return nil
}

// Scan returns live entries whose key starts with prefix, ordered by key.
func (s *KVStore) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT key, value FROM kv_entries
		WHERE key LIKE ? ESCAPE '\' AND ` + liveCondition + `
		ORDER BY key
	`

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), likePrefix(prefix), millis(s.timeFunc()))
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", MapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.Error("failed to close rows", "error", cerr)
		}
	}()

	var entries []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		// SQLite's LIKE ignores ASCII case.
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entries, nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// PurgeExpired deletes expired rows.
func (s *KVStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM kv_entries WHERE expires_at <> 0 AND expires_at <= ?`

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(query), millis(s.timeFunc()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired keys: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

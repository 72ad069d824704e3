package store

import (
	"context"
	"time"
)

// Entry is a single key/value pair returned by KV.Scan.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the minimal key-value contract the task store is built on.
// A ttl of zero or less means the key never expires. Expired keys behave
// exactly like missing keys for every operation.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set unconditionally stores value under key.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CompareAndSwap stores value only if the current value equals expected.
	// A nil expected means "only if the key is absent". Returns false, with
	// no error, when the condition does not hold.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if its current value equals
	// expected. Returns false, with no error, when the condition does not
	// hold.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Expire resets the TTL of an existing key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Scan returns every live entry whose key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
}

// Purger is implemented by KV backends that keep expired entries around
// until they are explicitly removed.
type Purger interface {
	// PurgeExpired deletes expired entries and returns how many were removed.
	PurgeExpired(ctx context.Context) (int64, error)
}

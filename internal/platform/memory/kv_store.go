package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/pantry-api/internal/store"
)

type item struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (i item) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// KVStore is a mutex-guarded map implementing store.KV.
type KVStore struct {
	mu       sync.RWMutex
	items    map[string]item
	timeFunc func() time.Time
}

var (
	_ store.KV     = (*KVStore)(nil)
	_ store.Purger = (*KVStore)(nil)
)

// NewKVStore creates an empty in-memory KV store.
func NewKVStore() *KVStore {
	return &KVStore{
		items:    make(map[string]item),
		timeFunc: time.Now,
	}
}

// SetTimeFunc replaces the clock used for expiry decisions.
func (s *KVStore) SetTimeFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeFunc = fn
}

func (s *KVStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.timeFunc().Add(ttl)
}

// lookup returns the live item under key. Callers must hold the lock.
func (s *KVStore) lookup(key string) (item, bool) {
	it, ok := s.items[key]
	if !ok || it.expired(s.timeFunc()) {
		return item{}, false
	}
	return it, true
}

// Get returns a copy of the value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.lookup(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return bytes.Clone(it.value), nil
}

// Set stores a copy of value under key.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = item{value: bytes.Clone(value), expiresAt: s.expiry(ttl)}
	return nil
}

// CompareAndSwap stores value if the live value under key equals expected.
func (s *KVStore) CompareAndSwap(
	ctx context.Context,
	key string,
	expected, value []byte,
	ttl time.Duration,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && (!ok || !bytes.Equal(it.value, expected)):
		return false, nil
	}

	s.items[key] = item{value: bytes.Clone(value), expiresAt: s.expiry(ttl)}
	return true, nil
}

// CompareAndDelete removes key if its live value equals expected.
func (s *KVStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok || !bytes.Equal(it.value, expected) {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// Expire resets the TTL of a live key.
func (s *KVStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok {
		return nil
	}
	it.expiresAt = s.expiry(ttl)
	s.items[key] = it
	return nil
}

// Delete removes the given keys.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

// Scan returns live entries under prefix, ordered by key.
func (s *KVStore) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []store.Entry
	for key := range s.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if it, ok := s.lookup(key); ok {
			entries = append(entries, store.Entry{Key: key, Value: bytes.Clone(it.value)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// PurgeExpired drops expired items from the map.
func (s *KVStore) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeFunc()
	var removed int64
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored items, including expired ones not yet purged.
func (s *KVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

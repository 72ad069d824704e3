// Package storetest holds a behavioural test suite shared by every
// store.KV backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/pantry-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// KVFactory returns a fresh, empty backend and a function that moves the
// backend's clock forward.
type KVFactory func(t *testing.T) (kv store.KV, advance func(time.Duration))

// RunKVConformance exercises the store.KV contract against a backend.
func RunKVConformance(t *testing.T, factory KVFactory) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		kv, _ := factory(t)
		_, err := kv.Get(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("set and get", func(t *testing.T) {
		kv, _ := factory(t)
		require.NoError(t, kv.Set(ctx, "a", []byte("1"), 0))
		require.NoError(t, kv.Set(ctx, "a", []byte("2"), 0))

		got, err := kv.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), got)
	})

	t.Run("compare and swap insert if absent", func(t *testing.T) {
		kv, _ := factory(t)
		ok, err := kv.CompareAndSwap(ctx, "k", nil, []byte("first"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = kv.CompareAndSwap(ctx, "k", nil, []byte("second"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := kv.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})

	t.Run("compare and swap on value", func(t *testing.T) {
		kv, _ := factory(t)
		require.NoError(t, kv.Set(ctx, "k", []byte("v1"), time.Minute))

		ok, err := kv.CompareAndSwap(ctx, "k", []byte("other"), []byte("v2"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = kv.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = kv.CompareAndSwap(ctx, "missing", []byte("v1"), []byte("v2"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("compare and delete", func(t *testing.T) {
		kv, advance := factory(t)
		require.NoError(t, kv.Set(ctx, "k", []byte("v1"), time.Second))

		ok, err := kv.CompareAndDelete(ctx, "k", []byte("other"))
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = kv.Get(ctx, "k")
		require.NoError(t, err)

		ok, err = kv.CompareAndDelete(ctx, "k", []byte("v1"))
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = kv.Get(ctx, "k")
		assert.ErrorIs(t, err, store.ErrNotFound)

		ok, err = kv.CompareAndDelete(ctx, "missing", []byte("v1"))
		require.NoError(t, err)
		assert.False(t, ok)

		// Expired values never match.
		require.NoError(t, kv.Set(ctx, "short", []byte("v1"), time.Second))
		advance(2 * time.Second)
		ok, err = kv.CompareAndDelete(ctx, "short", []byte("v1"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		kv, advance := factory(t)
		require.NoError(t, kv.Set(ctx, "short", []byte("x"), time.Second))
		require.NoError(t, kv.Set(ctx, "forever", []byte("y"), 0))

		advance(2 * time.Second)

		_, err := kv.Get(ctx, "short")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = kv.Get(ctx, "forever")
		assert.NoError(t, err)

		// An expired key counts as absent for insert-if-absent.
		ok, err := kv.CompareAndSwap(ctx, "short", nil, []byte("again"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expire refreshes ttl", func(t *testing.T) {
		kv, advance := factory(t)
		require.NoError(t, kv.Set(ctx, "k", []byte("x"), 2*time.Second))

		advance(time.Second)
		require.NoError(t, kv.Expire(ctx, "k", 5*time.Second))
		advance(3 * time.Second)

		_, err := kv.Get(ctx, "k")
		assert.NoError(t, err)

		require.NoError(t, kv.Expire(ctx, "missing", time.Second))
	})

	t.Run("delete", func(t *testing.T) {
		kv, _ := factory(t)
		require.NoError(t, kv.Set(ctx, "a", []byte("1"), 0))
		require.NoError(t, kv.Set(ctx, "b", []byte("2"), 0))

		require.NoError(t, kv.Delete(ctx, "a", "b", "missing"))

		_, err := kv.Get(ctx, "a")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = kv.Get(ctx, "b")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("scan by prefix skips expired", func(t *testing.T) {
		kv, advance := factory(t)
		require.NoError(t, kv.Set(ctx, "task:1", []byte("a"), 0))
		require.NoError(t, kv.Set(ctx, "task:2", []byte("b"), time.Second))
		require.NoError(t, kv.Set(ctx, "user:1:tasks", []byte("c"), 0))

		advance(2 * time.Second)

		entries, err := kv.Scan(ctx, "task:")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "task:1", entries[0].Key)
		assert.Equal(t, []byte("a"), entries[0].Value)
	})

	t.Run("purge expired", func(t *testing.T) {
		kv, advance := factory(t)
		purger, ok := kv.(store.Purger)
		if !ok {
			t.Skip("backend does not implement store.Purger")
		}

		require.NoError(t, kv.Set(ctx, "old", []byte("x"), time.Second))
		require.NoError(t, kv.Set(ctx, "new", []byte("y"), time.Hour))
		advance(2 * time.Second)

		removed, err := purger.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		_, err = kv.Get(ctx, "new")
		assert.NoError(t, err)
	})
}

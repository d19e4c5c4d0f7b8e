package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/contract-sentinel/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour)
	store.now = func() time.Time { return now }

	id := NewID()
	original := &contracts.Session{Token: "tok", User: contracts.User{ID: "u1", Email: "a@b.fr"}}
	require.NoError(t, store.Save(ctx, id, original))

	t.Run("GetReturnsCopy", func(t *testing.T) {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, original, got)

		got.Clear()
		again, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "tok", again.Token)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Expiry", func(t *testing.T) {
		now = now.Add(time.Hour)
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, store.Len())
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "x", original))
		assert.Equal(t, 1, store.Len())
		require.NoError(t, store.Delete(ctx, "x"))
		require.NoError(t, store.Delete(ctx, "x"))
		assert.Zero(t, store.Len())
	})

	t.Run("NilSession", func(t *testing.T) {
		assert.Error(t, store.Save(ctx, "y", nil))
	})
}

func TestMemoryStoreNoTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Save(ctx, "a", &contracts.Session{Token: "t"}))
	store.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	_, err := store.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

// TestRedisStore runs against a live Redis when SENTINEL_TEST_REDIS_URL is set
func TestRedisStore(t *testing.T) {
	url := os.Getenv("SENTINEL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SENTINEL_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStore(client, "sentinel-test", time.Minute)
	id := NewID()

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, id, &contracts.Session{Token: "tok", User: contracts.User{ID: "u1"}}))
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.User.ID)

	ttl, err := client.TTL(ctx, store.key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

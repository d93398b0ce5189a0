package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client)
}

func TestRedisPutGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	rec := Record{
		SessionID: "sess-1",
		ActorID:   "actor-1",
		TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, c.Put(ctx, rec, time.Hour))

	got, err := c.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, rec.ActorID, got.ActorID)
	require.Equal(t, rec.TokenHash, got.TokenHash)
}

func TestRedisGetMiss(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrMiss)
}

func TestRedisGetExpiredRecord(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	rec := Record{
		SessionID: "sess-1",
		ActorID:   "actor-1",
		TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, c.Put(ctx, rec, time.Hour))

	_, err := c.Get(ctx, "sess-1")
	require.ErrorIs(t, err, ErrMiss)
}

func TestRedisDeleteIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Delete(ctx, "sess-1", "actor-1"))
	require.NoError(t, c.Delete(ctx, "sess-1", "actor-1"))
}

func TestRedisDeleteAllForActor(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(ctx, Record{
			SessionID: id,
			ActorID:   "actor-1",
			TokenHash: "hash-" + id,
			ExpiresAt: time.Now().Add(time.Hour),
		}, time.Hour))
	}

	require.NoError(t, c.DeleteAllForActor(ctx, "actor-1"))

	for _, id := range []string{"a", "b", "c"} {
		_, err := c.Get(ctx, id)
		require.ErrorIs(t, err, ErrMiss)
	}
}

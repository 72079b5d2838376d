package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64, opts ...Option) (*TokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTokenBucket(client, capacity, refill, time.Minute, opts...), mr
}

func TestTokenBucket_RejectsAfterCapacity(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.True(t, allowed, "first token")

	allowed, _, err = bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.True(t, allowed, "second token")

	allowed, tokens, err := bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.False(t, allowed, "third token should be rejected")
	assert.Less(t, tokens, 1.0)
}

func TestTokenBucket_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	bucket, mr := newBucket(t, 1, 0.001)

	allowed, _, err := bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx, "actor-2")
	require.NoError(t, err)
	assert.True(t, allowed, "another actor has its own bucket")

	assert.True(t, mr.Exists("ratelimit:actor-1"))
	assert.True(t, mr.Exists("ratelimit:actor-2"))
}

func TestTokenBucket_Refills(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	bucket, _ := newBucket(t, 1, 1, WithClock(func() time.Time { return now }))

	allowed, _, err := bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	require.False(t, allowed, "bucket empty")

	// GIVEN: one second passes at one token per second
	now = now.Add(time.Second)

	// THEN: one more request goes through
	allowed, _, err = bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestTokenBucket_SetsTTL(t *testing.T) {
	ctx := context.Background()
	bucket, mr := newBucket(t, 5, 1, WithPrefix("batch:"))

	_, _, err := bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)

	assert.Equal(t, time.Minute, mr.TTL("batch:actor-1"))
}

func TestTokenBucket_RedisDown(t *testing.T) {
	ctx := context.Background()
	bucket, mr := newBucket(t, 5, 1)
	mr.Close()

	allowed, _, err := bucket.Allow(ctx, "actor-1")
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestTokenBucket_RetryAfterFollowsRefillRate(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 1, 0.5)

	allowed, _, err := bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, tokens, err := bucket.Allow(ctx, "actor-1")
	require.NoError(t, err)
	require.False(t, allowed)

	assert.Equal(t, 2*time.Second, bucket.RetryAfter(tokens), "0.5 tokens/s")
	assert.Equal(t, time.Second, bucket.RetryAfter(0.5))
	assert.Zero(t, bucket.RetryAfter(1))

	stuck, _ := newBucket(t, 1, 0)
	assert.Equal(t, time.Minute, stuck.RetryAfter(0), "no refill waits for the key to expire")
}

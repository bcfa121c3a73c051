package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ddsvuln/vuln-dataset/types"
)

var verdict = types.Verdict{CWECategory: "CWE-120", Explanation: "Buffer overflow", Vendor: "eProsima", Cause: "bounds", Impact: "crash"}

func TestCacheKey(t *testing.T) {
	k := CacheKey("gemini", "gemini-1.5-flash-latest", "Fast DDS crashes.")
	assert.Len(t, k, 64)
	assert.Equal(t, k, CacheKey("gemini", "gemini-1.5-flash-latest", "  FAST dds\ncrashes. "))
	assert.NotEqual(t, k, CacheKey("chatgpt", "gemini-1.5-flash-latest", "Fast DDS crashes."))
	assert.NotEqual(t, k, CacheKey("gemini", "gemini-1.5-pro", "Fast DDS crashes."))
}

func TestMemoryCache(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour, 2)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Set(ctx, "a", verdict)
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, verdict, got)

	t.Run("expired entries are misses", func(t *testing.T) {
		now = now.Add(2 * time.Hour)
		_, ok := c.Get(ctx, "a")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("oldest entry is evicted when full", func(t *testing.T) {
		c.Set(ctx, "b", verdict)
		c.Set(ctx, "c", verdict)
		c.Set(ctx, "d", verdict)
		assert.Equal(t, 2, c.Len())
		_, ok := c.Get(ctx, "b")
		assert.False(t, ok)
		_, ok = c.Get(ctx, "d")
		assert.True(t, ok)
	})

	t.Run("expired entries are purged before evicting live ones", func(t *testing.T) {
		now = now.Add(2 * time.Hour)
		c.Set(ctx, "e", verdict)
		c.Set(ctx, "f", verdict)
		_, ok := c.Get(ctx, "e")
		assert.True(t, ok)
		_, ok = c.Get(ctx, "f")
		assert.True(t, ok)
	})
}

type fakeRedis struct {
	data   map[string]string
	getErr error
	setErr error
	ttl    time.Duration
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = string(value.([]byte))
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		client := &fakeRedis{data: map[string]string{}}
		c := NewRedisCache(client, 24*time.Hour, zap.NewNop())

		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)

		c.Set(ctx, "k", verdict)
		assert.Equal(t, 24*time.Hour, client.ttl)
		assert.Contains(t, client.data, "vuln-dataset:verdict:k")

		got, ok := c.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, verdict, got)
	})

	t.Run("errors are misses", func(t *testing.T) {
		client := &fakeRedis{data: map[string]string{}, getErr: errors.New("connection refused"), setErr: errors.New("connection refused")}
		c := NewRedisCache(client, time.Hour, zap.NewNop())
		c.Set(ctx, "k", verdict)
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("corrupted entry is a miss", func(t *testing.T) {
		client := &fakeRedis{data: map[string]string{"vuln-dataset:verdict:k": "{not json"}}
		c := NewRedisCache(client, time.Hour, zap.NewNop())
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
	})
}

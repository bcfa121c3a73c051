package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ddsvuln/vuln-dataset/types"
)

// Cache stores successful verdicts. Implementations must be safe for
// concurrent use; a failing cache behaves like a miss.
type Cache interface {
	Get(ctx context.Context, key string) (types.Verdict, bool)
	Set(ctx context.Context, key string, v types.Verdict)
}

// CacheKey identifies a verdict by provider, model and normalized description.
func CacheKey(provider, model, description string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(description), " "))
	sum := sha256.Sum256([]byte(provider + "\x00" + model + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	verdict types.Verdict
	expires time.Time
}

// MemoryCache is a process-local cache with a TTL and a size bound. When
// full, expired entries are purged and then the oldest entry is evicted.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	order      []string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (types.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return types.Verdict{}, false
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		delete(c.entries, key)
		return types.Verdict{}, false
	}
	return e.verdict, true
}

func (c *MemoryCache) Set(_ context.Context, key string, v types.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = memoryEntry{verdict: v, expires: c.now().Add(c.ttl)}
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evict()
	}
}

// evict must be called with mu held.
func (c *MemoryCache) evict() {
	now := c.now()
	live := c.order[:0]
	for _, k := range c.order {
		e, ok := c.entries[k]
		if !ok {
			continue
		}
		if c.ttl > 0 && now.After(e.expires) {
			delete(c.entries, k)
			continue
		}
		live = append(live, k)
	}
	c.order = live

	for len(c.entries) > c.maxEntries && len(c.order) > 0 {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// redisClient is the subset of *redis.Client used by RedisCache.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares verdicts between runs through Redis.
type RedisCache struct {
	client redisClient
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisCache(client redisClient, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: "vuln-dataset:verdict:",
		logger: logger.Named("redis_cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (types.Verdict, bool) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return types.Verdict{}, false
	} else if err != nil {
		c.logger.Warn("Cache read failed", zap.Error(err))
		return types.Verdict{}, false
	}

	var v types.Verdict
	if err := json.Unmarshal(b, &v); err != nil {
		c.logger.Warn("Corrupted cache entry", zap.String("key", key), zap.Error(err))
		return types.Verdict{}, false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key string, v types.Verdict) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, b, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.Error(err))
	}
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"RadioRoyal/model"

	"github.com/go-redis/redis/v8"
)

// MemorySourceCache 进程内的直链缓存
type MemorySourceCache struct {
	mu      sync.RWMutex
	entries map[string]model.ResolvedSource
	now     func() time.Time
}

// NewMemorySourceCache creates an empty in-memory cache.
func NewMemorySourceCache() *MemorySourceCache {
	return &MemorySourceCache{entries: make(map[string]model.ResolvedSource), now: time.Now}
}

// Get returns the entry for key; expired entries are evicted and reported as misses.
func (c *MemorySourceCache) Get(ctx context.Context, key string) (model.ResolvedSource, bool, error) {
	c.mu.RLock()
	src, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return model.ResolvedSource{}, false, nil
	}
	if src.Expired(c.now()) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.ExpiresAt.Equal(src.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return model.ResolvedSource{}, false, nil
	}
	return src, true, nil
}

// Set stores src under src.Key.
func (c *MemorySourceCache) Set(ctx context.Context, src model.ResolvedSource) error {
	c.mu.Lock()
	c.entries[src.Key] = src
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemorySourceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisSourceCache 基于 Redis 的直链缓存，过期由 Redis TTL 负责
type RedisSourceCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisSourceCache creates a cache over an already-connected client.
func NewRedisSourceCache(client *redis.Client) *RedisSourceCache {
	return &RedisSourceCache{client: client, prefix: "resolver:source:", now: time.Now}
}

// GetSourceKey 生成直链缓存的Redis键
func (c *RedisSourceCache) GetSourceKey(key string) string {
	return c.prefix + key
}

// Get 读取直链，redis.Nil 视为未命中
func (c *RedisSourceCache) Get(ctx context.Context, key string) (model.ResolvedSource, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, c.GetSourceKey(key)).Bytes()
	if err == redis.Nil {
		return model.ResolvedSource{}, false, nil
	}
	if err != nil {
		return model.ResolvedSource{}, false, fmt.Errorf("failed to get resolved source: %w", err)
	}

	var src model.ResolvedSource
	if err := json.Unmarshal(data, &src); err != nil {
		return model.ResolvedSource{}, false, fmt.Errorf("failed to unmarshal resolved source: %w", err)
	}
	if src.Expired(c.now()) {
		return model.ResolvedSource{}, false, nil
	}
	return src, true, nil
}

// Set 写入直链，TTL 取 ExpiresAt 与当前时间之差
func (c *RedisSourceCache) Set(ctx context.Context, src model.ResolvedSource) error {
	ttl := src.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal resolved source: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, c.GetSourceKey(src.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set resolved source: %w", err)
	}
	return nil
}

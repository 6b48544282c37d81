// Package cache provides a two-tier cache for assembled context blocks:
// L1 in-memory via Ristretto, optional L2 in Redis shared across
// instances. Context assembly walks every fact and message in a
// session, so repeated translate calls within the same turn window hit
// the cache instead.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultMaxCost = 10000
	defaultTTL     = 5 * time.Minute
)

// Metrics counts hits and misses per tier.
type Metrics struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
}

// ContextCache caches rendered context strings keyed by session id and
// message count. The message count in the key makes entries
// self-invalidating: any appended message changes the key.
type ContextCache struct {
	l1     *ristretto.Cache[string, []byte]
	l2     *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	metrics Metrics
}

// New builds the cache. redisClient may be nil, in which case only the
// in-memory tier is used.
func New(maxCost int64, ttl time.Duration, redisClient *redis.Client, logger *zap.Logger) (*ContextCache, error) {
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	return &ContextCache{
		l1:     l1,
		l2:     redisClient,
		ttl:    ttl,
		logger: logger.Named("ctxcache"),
	}, nil
}

// Key derives the cache key for a session's context at a given message
// count.
func Key(sessionID string, messageCount int) string {
	return fmt.Sprintf("ctx:%s:%d", sessionID, messageCount)
}

// Get checks L1, then L2. An L2 hit is promoted to L1.
func (c *ContextCache) Get(ctx context.Context, key string) (string, bool) {
	if val, found := c.l1.Get(key); found {
		c.count(func(m *Metrics) { m.L1Hits++ })
		return string(val), true
	}
	c.count(func(m *Metrics) { m.L1Misses++ })

	if c.l2 == nil {
		return "", false
	}
	data, err := c.l2.Get(ctx, key).Bytes()
	if err != nil || len(data) == 0 {
		c.count(func(m *Metrics) { m.L2Misses++ })
		return "", false
	}
	c.count(func(m *Metrics) { m.L2Hits++ })
	c.l1.SetWithTTL(key, data, int64(len(data)), c.ttl)
	return string(data), true
}

// Set stores in L1 synchronously and L2 asynchronously. A slow or
// unreachable Redis must not stall the translate path.
func (c *ContextCache) Set(ctx context.Context, key, value string) {
	data := []byte(value)
	c.l1.SetWithTTL(key, data, int64(len(data)), c.ttl)

	if c.l2 == nil {
		return
	}
	go func() {
		if err := c.l2.Set(context.WithoutCancel(ctx), key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("l2 context cache set failed",
				zap.String("key", key), zap.Error(err))
		}
	}()
}

// Invalidate drops every cached entry for a session. Ristretto has no
// prefix scan, so L1 entries are left to age out; only L2 is scanned.
func (c *ContextCache) Invalidate(ctx context.Context, sessionID string) {
	if c.l2 == nil {
		return
	}
	pattern := "ctx:" + sessionID + ":*"
	iter := c.l2.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.l2.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("l2 context cache delete failed",
				zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("l2 context cache scan failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Stats snapshots the per-tier counters for the stats endpoint.
func (c *ContextCache) Stats() map[string]interface{} {
	c.mu.Lock()
	m := c.metrics
	c.mu.Unlock()

	lookups := m.L1Hits + m.L1Misses
	hitRate := 0.0
	if lookups > 0 {
		hitRate = float64(m.L1Hits+m.L2Hits) / float64(lookups)
	}
	return map[string]interface{}{
		"l1_hits":      m.L1Hits,
		"l1_misses":    m.L1Misses,
		"l2_hits":      m.L2Hits,
		"l2_misses":    m.L2Misses,
		"hit_rate":     hitRate,
		"ttl_seconds":  c.ttl.Seconds(),
		"l2_available": c.l2 != nil,
	}
}

func (c *ContextCache) count(fn func(*Metrics)) {
	c.mu.Lock()
	fn(&c.metrics)
	c.mu.Unlock()
}

// Close releases the in-memory tier.
func (c *ContextCache) Close() {
	c.l1.Close()
}

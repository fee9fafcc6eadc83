package fiscal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// MEMOIZATION BY REVISION
// =============================================================================
//
// The engines are recomputed on demand. Callers that refresh often (every
// new sale in the POS) go through a Memo: results are cached under
// kind|from|to|revision, so any append or seal moves the revision and makes
// every older entry unreachable. Entries also expire after the TTL.

// Cache stores encoded results. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoKey builds the cache key of an aggregation over [from, to] at revision.
func MemoKey(kind string, from, to time.Time, revision int64) string {
	return fmt.Sprintf("fiscal:%s|%d|%d|%d", kind, from.UnixNano(), to.UnixNano(), revision)
}

type Memo struct {
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewMemo wraps cache. A nil cache disables memoization.
func NewMemo(cache Cache, ttl time.Duration, log *zap.Logger) *Memo {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memo{cache: cache, ttl: ttl, log: log}
}

// Memoize returns the cached value for key or computes and stores it.
// Cache failures are logged and fall through to compute.
func Memoize[T any](ctx context.Context, m *Memo, key string, compute func(context.Context) (T, error)) (T, bool, error) {
	if m == nil || m.cache == nil {
		v, err := compute(ctx)
		return v, false, err
	}

	if raw, ok, err := m.cache.Get(ctx, key); err != nil {
		m.log.Warn("memo get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			m.log.Debug("memo hit", zap.String("key", key))
			return v, true, nil
		}
		m.log.Warn("memo entry undecodable", zap.String("key", key))
	}

	v, err := compute(ctx)
	if err != nil {
		return v, false, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v, false, nil
	}
	if err := m.cache.Set(ctx, key, raw, m.ttl); err != nil {
		m.log.Warn("memo set failed", zap.String("key", key), zap.Error(err))
	}
	return v, false, nil
}

// =============================================================================
// MEMORY CACHE
// =============================================================================

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process TTL map. Expired entries are dropped on read
// and swept on write.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[key]
	if !ok || (!e.expiresAt.IsZero() && c.now().After(e.expiresAt)) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.data {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.data, k)
		}
	}

	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.data[key] = e
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/store/redis"
)

// unreachable returns a cache whose server never answers.
func unreachable(t *testing.T) *redis.Cache {
	t.Helper()
	c := redis.NewCacheFromClient(goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_PingFailsWhenUnreachable(t *testing.T) {
	err := unreachable(t).Ping(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}

func TestCache_MemoFallsThroughWhenUnreachable(t *testing.T) {
	// GIVEN: a memo over a cache that errors on every call
	memo := fiscal.NewMemo(unreachable(t), time.Minute, zap.NewNop())
	calls := 0

	// WHEN
	for i := 0; i < 2; i++ {
		v, hit, err := fiscal.Memoize(context.Background(), memo, "k", func(context.Context) (int, error) {
			calls++
			return 42, nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, 42, v)
	}

	// THEN: every call computed
	assert.Equal(t, 2, calls)
}

package util

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	sharedRedisAddr string
	redisOnce       sync.Once
	redisErr        error

	// Each test takes its own logical database so fixed key names do not
	// collide across parallel tests. Redis ships 16 by default.
	redisDBCounter atomic.Int64
)

// SetupTestRedis returns a client bound to a logical database unique to this
// test, flushed before use. In CI, CI_REDIS_ADDR names an external Redis;
// locally a shared testcontainer is started once per package.
func SetupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	addr := getOrCreateSharedRedis(t)
	dbIndex := int(redisDBCounter.Add(1) % 16)

	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: dbIndex})
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func getOrCreateSharedRedis(t *testing.T) string {
	if ciAddr := os.Getenv("CI_REDIS_ADDR"); ciAddr != "" {
		t.Log("Using external Redis from CI_REDIS_ADDR")
		return ciAddr
	}

	redisOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared Redis testcontainer")

		container, err := tcredis.Run(ctx, "redis:7-alpine")
		if err != nil {
			redisErr = fmt.Errorf("failed to start redis container: %w", err)
			return
		}

		endpoint, err := container.Endpoint(ctx, "")
		if err != nil {
			redisErr = fmt.Errorf("failed to get redis endpoint: %w", err)
			return
		}
		sharedRedisAddr = endpoint

		// Verify reachability before handing the address out.
		probe := goredis.NewClient(&goredis.Options{Addr: endpoint})
		defer func() { _ = probe.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := probe.Ping(pingCtx).Err(); err != nil {
			redisErr = fmt.Errorf("redis container not reachable: %w", err)
		}
	})

	require.NoError(t, redisErr, "Failed to setup shared Redis container")
	return sharedRedisAddr
}

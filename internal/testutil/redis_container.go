package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisShared struct {
	once sync.Once
	addr string
	err  error
}

// GetRedisAddress returns the host:port of a Redis instance shared by
// every test in the process, starting a container on first use. When no
// container runtime is available the calling test is skipped. Shutdown
// is left to the testcontainers reaper.
func GetRedisAddress(t *testing.T) string {
	t.Helper()

	redisShared.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		c, err := testcontainers.Run(
			ctx, "redis:7-alpine",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			redisShared.err = err
			return
		}

		addr, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background())
			redisShared.err = err
			return
		}
		redisShared.addr = addr
	})

	if redisShared.err != nil {
		t.Skipf("redis container unavailable: %v", redisShared.err)
	}
	return redisShared.addr
}

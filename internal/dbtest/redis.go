package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
)

// RedisImage is the image of the Redis container.
//
// See <https://hub.docker.com/_/redis> for more images.
const RedisImage = "docker.io/redis:7-alpine"

const redisPort = nat.Port("6379/tcp")

// SetupRedis spins up a Redis container and returns a client connected to it.
// The client is closed during cleanup of t.
func SetupRedis(t *testing.T) *redis.Client {
	t.Helper()
	containerTest(t)
	ctx := context.Background()

	opts := containerOptions(t,
		testcontainers.WithExposedPorts(string(redisPort)),
		WithWaitForExposedPort(),
	)
	container, err := testcontainers.Run(ctx, RedisImage, opts...)
	if err != nil {
		t.Fatal("Failed to run redis container:", err)
	}
	terminateOnCleanup(t, "redis", container)

	endpoint, err := container.PortEndpoint(ctx, redisPort, "")
	if err != nil {
		t.Fatal("Failed to get redis endpoint:", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Error("Encountered an error during cleanup while closing the redis client:", err)
		}
	})
	if err := retry(ctx, t, 5, 100*time.Millisecond, func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		t.Fatal("Failed to ping redis:", err)
	}

	inspectOnFailure(t, container, "Redis address = "+endpoint)
	return client
}

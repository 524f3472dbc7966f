package dbtest

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
)

// containerTest prepares t for a container-based test. Such tests are
// long-running, so they are skipped with the '-short' flag and always run in
// parallel.
func containerTest(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping container-based test in short mode...")
	}
	t.Parallel()
}

// containerOptions prepends a logger writing to tb to the given options.
func containerOptions(tb testing.TB, opts ...testcontainers.ContainerCustomizer) []testcontainers.ContainerCustomizer {
	customizers := make([]testcontainers.ContainerCustomizer, 0, len(opts)+1)
	customizers = append(customizers, testcontainers.WithLogger(log.TestLogger(tb)))
	return append(customizers, opts...)
}

// terminateOnCleanup tears the container down gracefully after the test
// completes.
func terminateOnCleanup(t *testing.T, kind string, c testcontainers.Container) {
	t.Cleanup(func() {
		t.Logf("Terminating %s container %q...", kind, c.GetContainerID())
		if err := c.Terminate(context.Background()); err != nil {
			t.Error("Encountered an error during cleanup; terminate container:", err)
		}
	})
}

// inspectOnFailure keeps the container running after a failed test when the
// Inspect flag is set, logging the given connection details.
//
// Register it after every other cleanup of the container's clients: cleanups
// run last-in-first-out, so the clients are still open while the user inspects.
func inspectOnFailure(t *testing.T, c testcontainers.Container, details ...string) {
	t.Cleanup(func() {
		if !t.Failed() || !*Inspect {
			return
		}
		t.Logf("Container %v is still running for inspection (Ctrl+C to terminate)...", c.GetContainerID())
		for _, d := range details {
			t.Log(d)
		}
		waitForInspection()
	})
}

// WithWaitForExposedPort sets the wait strategy for a container to wait for its
// exposed port to be available, in addition to any strategy already set.
//
// Generic containers do not wait for anything by default, and tests using them
// fail spontaneously when they run before the container is ready. Do not use
// this function with containers exposing more than a single port.
func WithWaitForExposedPort() testcontainers.CustomizeRequestOption {
	return func(req *testcontainers.GenericContainerRequest) error {
		strategies := []wait.Strategy{wait.ForExposedPort()}
		if req.WaitingFor != nil {
			strategies = append(strategies, req.WaitingFor)
		}
		return testcontainers.WithWaitStrategy(strategies...).Customize(req)
	}
}

package dbtest

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jtest "github.com/testcontainers/testcontainers-go/modules/neo4j"
)

// Neo4jImage is the image of the Neo4j container. The enterprise variant
// supports multiple databases, which BootstrapDatabase creates.
//
// See <https://hub.docker.com/_/neo4j> for more images.
const Neo4jImage = "docker.io/neo4j:5-enterprise"

// Port of the transactional HTTP endpoint, which also serves the browser:
// <https://neo4j.com/docs/rest-docs/current>
const neo4jHTTP = nat.Port("7474/tcp")

// SetupNeo4j spins up a Neo4j container without authentication and returns a
// driver connected to it. The driver is closed during cleanup of t.
//
// This function may change its definition of a "standard" Neo4j instance over
// time. Tests depending on a specific deployment detail should run their own
// container.
func SetupNeo4j(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	containerTest(t)
	ctx := context.Background()

	opts := containerOptions(t,
		neo4jtest.WithoutAuthentication(),
		neo4jtest.WithAcceptCommercialLicenseAgreement(),
	)
	container, err := neo4jtest.Run(ctx, Neo4jImage, opts...)
	if err != nil {
		t.Fatal("Failed to run neo4j container:", err)
	}
	terminateOnCleanup(t, "neo4j", container)

	boltURL, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatal("Failed to get bolt url:", err)
	}
	httpEndpoint, err := container.PortEndpoint(ctx, neo4jHTTP, "http")
	if err != nil {
		t.Fatal("Failed to get http endpoint:", err)
	}

	driver, err := neo4j.NewDriverWithContext(boltURL, neo4j.NoAuth())
	if err != nil {
		t.Fatal("Failed to open neo4j driver:", err)
	}
	t.Cleanup(func() {
		if err := driver.Close(ctx); err != nil {
			t.Error("Encountered an error during cleanup while closing the neo4j driver:", err)
		}
	})

	// The container may report ready slightly before the server accepts bolt
	// connections.
	if err := retry(ctx, t, 5, 100*time.Millisecond, func() error {
		return driver.VerifyConnectivity(ctx)
	}); err != nil {
		t.Fatalf("Failed to establish a connection with the neo4j server: %v", err)
	}

	// See <https://neo4j.com/docs/browser-manual/current/operations/browser-url-parameters>
	inspectOnFailure(t, container,
		fmt.Sprintf("HTTP URL = %s/browser?preselectAuthMethod=%s&dbms=%s", httpEndpoint, url.QueryEscape("[NO_AUTH]"), url.QueryEscape(boltURL)),
		fmt.Sprintf("Bolt URL = %s", boltURL),
	)
	return driver
}

// retry calls f until it succeeds, at most limit more times after the first
// attempt, pausing between attempts. It returns the last error.
func retry(ctx context.Context, t *testing.T, limit int, pause time.Duration, f func() error) error {
	t.Helper()
	err := f()
	for r := 1; err != nil && r <= limit; r++ {
		t.Logf("Retrying [%d/%d] after: %v", r, limit, err)
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return fmt.Errorf("retry pause interrupted: %w", ctx.Err())
		}
		err = f()
	}
	return err
}

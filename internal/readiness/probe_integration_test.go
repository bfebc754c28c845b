//go:build integration

package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// Integration test requires a running Docker daemon.
// Run with: go test -tags integration ./internal/readiness/

func TestProbeAgainstRealServer(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting container: %v", err)
	}
	defer ctr.Terminate(ctx)

	mapped, err := ctr.MappedPort(ctx, "80/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	p := Probe{
		Type:     "http",
		Path:     "/",
		Port:     mapped.Int(),
		Interval: 250 * time.Millisecond,
		Timeout:  30 * time.Second,
	}

	if err := p.Await(ctx, make(chan struct{})); err != nil {
		t.Fatalf("probe against live server failed: %v", err)
	}
}

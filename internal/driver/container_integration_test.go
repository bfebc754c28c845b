//go:build integration

package driver

import (
	"context"
	"testing"
	"time"
)

// Integration tests require a running Docker daemon.
// Run with: go test -tags integration ./internal/driver/ -run TestContainer

func TestContainerStartStop(t *testing.T) {
	d, err := NewContainer(ContainerConfig{
		Name:        "test-start-stop",
		Image:       "alpine:latest",
		Env:         []string{"HELLO=world"},
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	info := d.Info()
	if info.State != StateRunning {
		t.Errorf("expected running, got %v", info.State)
	}
	if d.ContainerID() == "" {
		t.Error("expected container ID")
	}

	if err := d.Stop(ctx, 5*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	info = d.Info()
	if info.State != StateStopped {
		t.Errorf("expected stopped, got %v", info.State)
	}
}

func TestContainerStopIdempotent(t *testing.T) {
	d, err := NewContainer(ContainerConfig{
		Name:        "test-stop-twice",
		Image:       "alpine:latest",
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := d.Stop(ctx, 5*time.Second); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := d.Stop(ctx, 5*time.Second); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestContainerWait(t *testing.T) {
	d, err := NewContainer(ContainerConfig{
		Name:        "test-wait",
		Image:       "alpine:latest",
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		d.Stop(ctx, 5*time.Second)
	}()

	if _, err := d.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

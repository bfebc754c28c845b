package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/benaskins/outrider/internal/spec"
	"github.com/benaskins/outrider/internal/supervisor"
)

func setupTestServer(t *testing.T) (*supervisor.Supervisor, *http.Client) {
	t.Helper()

	rs := &spec.RunSpec{
		Dependency: spec.Dependency{Name: "dep", Type: "native", Command: "sleep 60"},
		Readiness: spec.Readiness{
			Policy: "fixed",
			Wait:   spec.Duration{Duration: 50 * time.Millisecond},
		},
	}
	sup := supervisor.New(rs)

	srv := NewServer(sup)
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	go srv.ListenUnix(sockPath)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	// Wait for socket to be ready
	for i := 0; i < 20; i++ {
		if _, err := net.Dial("unix", sockPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", sockPath)
			},
		},
	}

	return sup, client
}

func TestStatusEndpoint(t *testing.T) {
	_, client := setupTestServer(t)

	resp, err := client.Get("http://outrider/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var st supervisor.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.Dependency != "dep" {
		t.Errorf("expected dependency 'dep', got %q", st.Dependency)
	}
	if st.Phase != supervisor.PhaseIdle {
		t.Errorf("expected idle phase before Run, got %v", st.Phase)
	}
}

func TestLogsEndpoint(t *testing.T) {
	_, client := setupTestServer(t)

	resp, err := client.Get("http://outrider/v1/logs?n=10")
	if err != nil {
		t.Fatalf("GET /v1/logs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decoding logs: %v", err)
	}
	// No dependency running yet: empty but well-formed
	if _, ok := result["lines"]; !ok {
		t.Error("expected 'lines' key in response")
	}
}

func TestLogsEndpointRejectsBadN(t *testing.T) {
	_, client := setupTestServer(t)

	resp, err := client.Get("http://outrider/v1/logs?n=bogus")
	if err != nil {
		t.Fatalf("GET /v1/logs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

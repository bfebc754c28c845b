package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)

	l.Log(Entry{
		Timestamp:  ts,
		Event:      EventDependencyStarted,
		Dependency: "tika",
		PID:        4242,
	})

	code := 1
	l.Log(Entry{
		Timestamp: ts.Add(time.Minute),
		Event:     EventWorkloadExited,
		ExitCode:  &code,
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var e1 Entry
	json.Unmarshal([]byte(lines[0]), &e1)
	if e1.Event != EventDependencyStarted {
		t.Errorf("expected dependency_started, got %v", e1.Event)
	}
	if e1.Dependency != "tika" || e1.PID != 4242 {
		t.Errorf("unexpected entry: %+v", e1)
	}

	var e2 Entry
	json.Unmarshal([]byte(lines[1]), &e2)
	if e2.Event != EventWorkloadExited {
		t.Errorf("expected workload_exited, got %v", e2.Event)
	}
	if e2.ExitCode == nil || *e2.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %v", e2.ExitCode)
	}
}

func TestLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	l1, _ := NewLogger(path)
	l1.Log(Entry{Event: EventRunStarted})
	l1.Close()

	l2, _ := NewLogger(path)
	l2.Log(Entry{Event: EventRunFailed, Error: "dependency launch failed"})
	l2.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestLoggerDefaultTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)
	defer l.Close()

	before := time.Now().UTC()
	l.Log(Entry{Event: EventDependencyReady})
	after := time.Now().UTC()

	data, _ := os.ReadFile(path)
	var e Entry
	json.Unmarshal(data, &e)

	if e.Timestamp.Before(before) || e.Timestamp.After(after) {
		t.Errorf("timestamp %v not between %v and %v", e.Timestamp, before, after)
	}
}

func TestLoggerFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, _ := NewLogger(path)
	l.Close()

	info, _ := os.Stat(path)
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

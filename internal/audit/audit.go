// Package audit provides append-only structured logging of run lifecycle
// events.
//
// Every supervised run records its milestones (dependency start, readiness,
// workload handoff, teardown) as newline-delimited JSON, so a failed
// workload can be cross-referenced against dependency state after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event describes what happened.
type Event string

const (
	EventRunStarted           Event = "run_started"
	EventRuntimeResolved      Event = "runtime_resolved"
	EventDependencyStarted    Event = "dependency_started"
	EventDependencyReady      Event = "dependency_ready"
	EventWorkloadStarted      Event = "workload_started"
	EventWorkloadExited       Event = "workload_exited"
	EventDependencyTerminated Event = "dependency_terminated"
	EventRunFailed            Event = "run_failed"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp  time.Time `json:"ts"`
	Event      Event     `json:"event"`
	Dependency string    `json:"dependency,omitempty"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.file.Close()
}

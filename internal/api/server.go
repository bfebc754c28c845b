package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/benaskins/outrider/internal/supervisor"
)

// Server exposes run status over a Unix socket while the workload runs.
// It exists for exactly one reason: long workloads, opaque dependencies;
// being able to ask "what is the dependency doing" without waiting for the
// teardown log replay.
type Server struct {
	sup    *supervisor.Supervisor
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a status server backed by the given supervisor.
func NewServer(sup *supervisor.Supervisor) *Server {
	s := &Server{
		sup:    sup,
		logger: slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.status)
	mux.HandleFunc("GET /v1/logs", s.logs)

	s.server = &http.Server{Handler: mux}
	return s
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.logger.Info("status API listening", "socket", path)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the status server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Status())
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if q := r.URL.Query().Get("n"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a positive integer"})
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": s.sup.LogLines(n)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

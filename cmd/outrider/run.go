package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/outrider/internal/api"
	"github.com/benaskins/outrider/internal/audit"
	"github.com/benaskins/outrider/internal/spec"
	"github.com/benaskins/outrider/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <workload> [args...]",
	Short: "Run a workload under dependency supervision",
	Long: "Start the configured dependency, wait for readiness, then run the given\n" +
		"workload with inherited stdio. The workload's argument vector is passed\n" +
		"through untouched. Exits with the workload's exit code; 125 for supervisor\n" +
		"failures, 126/127 when the workload could not be launched.",
	Args: cobra.MinimumNArgs(1),
	Run:  runRun,
}

var (
	specPath     string
	statusSocket string
)

func init() {
	runCmd.Flags().StringVar(&specPath, "spec", "", "Path to the run spec (default ./outrider.yaml)")
	runCmd.Flags().StringVar(&statusSocket, "status-socket", "", "Optional Unix socket serving run status while the workload runs")
	// Workload flags are the workload's business
	runCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	os.Exit(supervise(args))
}

// supervise wires up the supervisor and returns the process exit code.
// Separated from the cobra handler so the exit path stays in one place.
func supervise(workload []string) int {
	path := specPath
	if path == "" {
		path = defaultSpecPath()
	}

	rs, err := spec.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return supervisor.ExitSupervisorFailure
	}

	opts := []supervisor.Option{}

	var auditLog *audit.Logger
	if rs.Audit != nil {
		auditLog, err = audit.NewLogger(rs.Audit.Path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return supervisor.ExitSupervisorFailure
		}
		defer auditLog.Close()
		opts = append(opts, supervisor.WithAudit(auditLog))
	}

	sup := supervisor.New(rs, opts...)

	// Teardown must run even when we are interrupted mid-wait: the signal
	// cancels this context, the supervisor forwards termination to the
	// workload, and the deferred teardown inside Run still executes.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *api.Server
	if statusSocket != "" {
		os.Remove(statusSocket) // stale socket from a previous run
		if err := os.MkdirAll(filepath.Dir(statusSocket), 0755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return supervisor.ExitSupervisorFailure
		}
		srv = api.NewServer(sup)
		go func() {
			if err := srv.ListenUnix(statusSocket); err != nil {
				slog.Error("status API error", "error", err)
			}
		}()
		defer func() {
			srv.Shutdown(context.Background())
			os.Remove(statusSocket)
		}()
	}

	code, err := sup.Run(ctx, workload)
	if err != nil {
		fmt.Fprintln(os.Stderr, styled(failStyle, "outrider: ")+err.Error())
	}
	return code
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benaskins/outrider/internal/readiness"
	"github.com/benaskins/outrider/internal/spec"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags]",
	Short: "Validate the run spec",
	Long: "Parse and validate the run spec. With --probe, also execute one readiness\n" +
		"probe against a presumed-running dependency and report the result.",
	RunE: runCheck,
}

var checkProbe bool

func init() {
	checkCmd.Flags().StringVar(&specPath, "spec", "", "Path to the run spec (default ./outrider.yaml)")
	checkCmd.Flags().BoolVar(&checkProbe, "probe", false, "Execute one readiness probe against a running dependency")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := specPath
	if path == "" {
		path = defaultSpecPath()
	}

	rs, err := spec.Load(path)
	if err != nil {
		fmt.Printf("%s %s\n", styled(failStyle, "FAIL"), path)
		return err
	}

	fmt.Printf("%s %s (%s, %s)\n", styled(okStyle, "OK  "), path, rs.Dependency.Name, rs.Dependency.Type)

	if !checkProbe {
		return nil
	}

	if rs.Readiness.Policy != "probe" {
		fmt.Println(styled(dimStyle, "readiness policy is 'fixed', nothing to probe"))
		return nil
	}

	p := rs.Readiness.Probe
	probePort := p.Port
	if probePort == 0 && rs.Network != nil {
		probePort = rs.Network.Port
	}
	if p.Type != "exec" && probePort == 0 {
		return fmt.Errorf("cannot probe: spec uses a dynamically allocated port")
	}

	probe := readiness.Probe{
		Type:     p.Type,
		Path:     p.Path,
		Port:     probePort,
		Command:  p.Command,
		Interval: p.Interval.Duration,
		Timeout:  p.Timeout.Duration,
	}

	// A never-closed channel: there is no supervised dependency here,
	// only whatever the operator already has running.
	if err := probe.Await(cmd.Context(), make(chan struct{})); err != nil {
		fmt.Printf("%s dependency not ready\n", styled(failStyle, "FAIL"))
		return err
	}

	fmt.Printf("%s dependency ready\n", styled(okStyle, "OK  "))
	return nil
}

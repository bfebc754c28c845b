package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "outrider",
	Short: "Single-shot dependency-readiness supervisor",
	Long: "Start a background dependency, wait for it to become ready, run a\n" +
		"foreground workload to completion, then print the dependency's captured\n" +
		"output and terminate it. Exits with the workload's exit code.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

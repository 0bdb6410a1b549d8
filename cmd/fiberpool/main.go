package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-preview"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "fiberpool",
		Short: "fiberpool - a cooperative fiber scheduler for Go",
		Long: `fiberpool runs cooperatively-scheduled fibers on top of a fixed pool of
OS threads, with work-stealing, blocking-aware spinning, and generic
condition variables, events, wait groups, tickets, and object pools
built on top of it.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newDashboardCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package main provides the entry point for the tracecore CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracecore/tracecore/cmd/tracecore/commands"
	"github.com/tracecore/tracecore/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tracecore",
		Short: "Tracecore binary-instrumentation trace consumer",
		Long: `Tracecore ingests a binary-instrumentation tool's fixed-layout
record stream and persists the derived execution model — calls, memory
accesses, allocations, tagged task regions, and conflicts — into a
SQLite-backed store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewIngestCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(-1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "tracecore %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

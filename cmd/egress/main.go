// Package main provides the CLI entry point for the egress sweep
// orchestrator.
//
// Egress expands evacuation scenarios into parameter sweeps, launches the
// simulation engine under bounded concurrency, serves adaptation decisions
// to running engines over HTTP, and aggregates every run into a dataset.
//
// # Basic Usage
//
// Run a sweep:
//
//	egress run --config sweep.yaml
//
// Check a sweep file without launching anything:
//
//	egress validate --config sweep.yaml
//
// List the builtin adaptation strategies:
//
//	egress strategies
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is the sweep file used when --config is not given.
const defaultConfigPath = "egress.yaml"

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Default to JSON logs on stderr so stdout stays clean for command
	// output and CSV redirection.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "egress",
		Short: "Egress - evacuation simulation sweep orchestrator",
		Long: `Egress runs parameter sweeps of a stochastic evacuation simulation.

It expands scenario templates into a run list, starts the decision
callback server the engines talk to, executes runs under a concurrency
cap with timeouts and retries, and collects every result into a dataset
ready for analysis.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildValidateCmd(),
		buildStrategiesCmd(),
		buildSchemaCmd(),
	)

	return rootCmd
}

package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

// buildRunCmd creates the "run" command that executes a sweep.
// This is the primary command for unattended sweep execution.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured parameter sweep",
		Long: `Run the configured parameter sweep to completion.

The sweep will:
1. Load and validate the sweep file
2. Expand scenarios into the full run list
3. Start the decision callback server for the engines
4. Launch engine runs under the concurrency cap, retrying failures
5. Seal the dataset and export CSV when configured

Graceful shutdown is handled on SIGINT/SIGTERM: in-flight runs are
killed and recorded as failed, unlaunched runs are skipped.`,
		Example: `  # Run with the default sweep file
  egress run

  # Run a specific sweep with debug logging
  egress run --config sweeps/fall-chance.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to the sweep configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// =============================================================================
// Inspection Commands
// =============================================================================

// buildValidateCmd creates the "validate" command that checks a sweep file
// and reports what it would execute, without launching anything.
func buildValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a sweep file and show the expanded run list",
		Example: `  # Check a sweep before queueing it on the cluster
  egress validate --config sweeps/fall-chance.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to the sweep configuration file")

	return cmd
}

// buildStrategiesCmd creates the "strategies" command listing the builtin
// adaptation strategies scenarios can name.
func buildStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the builtin adaptation strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStrategies(cmd)
		},
	}
}

// buildSchemaCmd creates the "schema" command that prints the JSON Schema
// for sweep files, for editor integration and CI checks.
func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the sweep configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd)
		},
	}
}

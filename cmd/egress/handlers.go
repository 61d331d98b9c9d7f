package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evaclab/egress/internal/config"
	"github.com/evaclab/egress/internal/observability"
	"github.com/evaclab/egress/internal/scenario"
	"github.com/evaclab/egress/internal/strategy"
	"github.com/evaclab/egress/internal/sweep"
)

// =============================================================================
// Run Command Handler
// =============================================================================

// runSweep implements the run command logic: configuration loading,
// pipeline assembly and graceful shutdown.
func runSweep(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}).Slog()
	slog.SetDefault(logger)

	logger.Info("starting sweep",
		"version", version,
		"commit", commit,
		"config", configPath,
		"scenarios", len(cfg.Scenarios),
		"store", cfg.Output.Store,
	)

	metrics := observability.NewMetrics()

	var tracer *observability.Tracer
	if cfg.Observability.Tracing.Enabled {
		serviceVersion := cfg.Observability.Tracing.ServiceVersion
		if serviceVersion == "" {
			serviceVersion = version
		}
		t, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: serviceVersion,
			Environment:    cfg.Observability.Tracing.Environment,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
			Attributes:     cfg.Observability.Tracing.Attributes,
			EnableInsecure: cfg.Observability.Tracing.Insecure,
		})
		tracer = t
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	coordinator, err := sweep.NewCoordinator(sweep.CoordinatorConfig{
		Sweep:   cfg,
		Logger:  logger.With("component", "sweep"),
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return err
	}

	// Cancel the sweep on shutdown signals; the scheduler records the
	// in-flight runs as failed on the way out.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := coordinator.Run(ctx)
	if report != nil {
		printReport(os.Stdout, report)
	}
	return err
}

// printReport writes the human-readable sweep summary. The logs carry the
// same numbers in JSON; this is for the operator's terminal.
func printReport(w io.Writer, report *sweep.Report) {
	fmt.Fprintf(w, "sweep %s: %d runs, %d succeeded, %d failed (%s)\n",
		report.SweepID, report.Runs, report.Succeeded, report.Failed,
		report.Duration.Round(time.Millisecond))

	names := make([]string, 0, len(report.Scenarios))
	for name := range report.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tally := report.Scenarios[name]
		fmt.Fprintf(w, "  %-32s %d/%d succeeded\n", name, tally.Total-tally.Failed, tally.Total)
	}
	if report.CSVPath != "" {
		fmt.Fprintf(w, "  exported %d rows to %s\n", report.DatasetRows, report.CSVPath)
	}
}

// =============================================================================
// Inspection Command Handlers
// =============================================================================

// runValidate loads and expands the sweep file, reporting what a run
// would execute.
func runValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	expander := scenario.NewExpander(scenario.ExpanderConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	specs, err := expander.Expand(cfg)
	if err != nil {
		return err
	}

	registry := strategy.DefaultRegistry()
	runsPerVariant := make(map[string]int)
	strategyPerVariant := make(map[string]string)
	var order []string
	for _, spec := range specs {
		if _, ok := runsPerVariant[spec.Scenario]; !ok {
			order = append(order, spec.Scenario)
			strategyPerVariant[spec.Scenario] = spec.Strategy
		}
		runsPerVariant[spec.Scenario]++
		if spec.Strategy != "" && !registry.Has(spec.Strategy) {
			return fmt.Errorf("scenario %q: %w %q", spec.Scenario, strategy.ErrUnknownStrategy, spec.Strategy)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sweep file is valid: %d runs across %d scenario variants\n", len(specs), len(order))
	for _, name := range order {
		label := strategyPerVariant[name]
		if label == "" {
			label = "(none)"
		}
		fmt.Fprintf(out, "  %-32s %3d runs  strategy: %s\n", name, runsPerVariant[name], label)
	}
	return nil
}

// runStrategies lists the registered strategy names.
func runStrategies(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	for _, name := range strategy.DefaultRegistry().Names() {
		fmt.Fprintln(out, name)
	}
	return nil
}

// runSchema prints the sweep file JSON Schema.
func runSchema(cmd *cobra.Command) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(data); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}

// Package sweep assembles one parameter sweep end to end: scenario
// expansion, the decision server, the bounded scheduler and the result
// dataset, finishing with an optional CSV export.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evaclab/egress/internal/config"
	"github.com/evaclab/egress/internal/dataset"
	"github.com/evaclab/egress/internal/decision"
	"github.com/evaclab/egress/internal/engine"
	"github.com/evaclab/egress/internal/observability"
	"github.com/evaclab/egress/internal/scenario"
	"github.com/evaclab/egress/internal/scheduler"
	"github.com/evaclab/egress/internal/strategy"
	"github.com/evaclab/egress/pkg/models"
)

// shutdownTimeout bounds how long a finished sweep waits for in-flight
// decision requests to drain.
const shutdownTimeout = 5 * time.Second

// CoordinatorConfig wires the sweep dependencies.
type CoordinatorConfig struct {
	// Sweep is the sweep configuration. It is validated on construction.
	Sweep *config.Config

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Registry resolves scenario strategy names. Defaults to the builtin
	// registry.
	Registry *strategy.Registry

	// RunnerFactory builds the engine runner once the decision server
	// address is known. Defaults to an ExecRunner over the configured
	// engine binary; tests inject in-process runners here.
	RunnerFactory func(callbackURL string) (engine.Runner, error)

	// Store overrides the dataset backend selected by the output section.
	Store dataset.Store

	// Rand drives random video selection during expansion.
	Rand *rand.Rand
}

// Coordinator runs one sweep from configuration to sealed dataset.
type Coordinator struct {
	config        *config.Config
	logger        *slog.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	registry      *strategy.Registry
	runnerFactory func(callbackURL string) (engine.Runner, error)
	store         dataset.Store
	rng           *rand.Rand
}

// Report summarizes a finished sweep.
type Report struct {
	// SweepID tags every log line of the sweep.
	SweepID string

	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	// Runs counts the runs that reached a terminal state. On a completed
	// sweep this equals the number of expanded run specs; an interrupted
	// sweep leaves never-launched runs out.
	Runs      int
	Succeeded int
	Failed    int

	// Scenarios breaks the counts down per expanded scenario variant.
	Scenarios map[string]scheduler.ScenarioTally

	// DatasetRows is the number of rows the sealed dataset holds.
	DatasetRows int

	// CSVPath is the export destination, empty when no export was
	// configured or the sweep was interrupted before exporting.
	CSVPath string
}

// NewCoordinator validates the configuration and the wiring.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Sweep == nil {
		return nil, fmt.Errorf("sweep configuration is required")
	}
	if err := cfg.Sweep.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "sweep")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = strategy.DefaultRegistry()
	}
	factory := cfg.RunnerFactory
	if factory == nil {
		engineCfg := cfg.Sweep.Engine
		engineLogger := logger.With("component", "engine")
		factory = func(callbackURL string) (engine.Runner, error) {
			return engine.NewExecRunner(engine.ExecConfig{
				Binary:      engineCfg.Binary,
				Args:        engineCfg.Args,
				CallbackURL: callbackURL,
				WorkDir:     engineCfg.WorkDir,
				Logger:      engineLogger,
			})
		}
	}

	return &Coordinator{
		config:        cfg.Sweep,
		logger:        logger,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		registry:      registry,
		runnerFactory: factory,
		store:         cfg.Store,
		rng:           cfg.Rand,
	}, nil
}

// Run executes the sweep. It returns a report alongside any error so
// callers can still show partial results: the error is non-nil when the
// sweep was interrupted, when the pipeline could not be assembled, or
// when at least one scenario produced no successful run at all.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	sweepID := uuid.NewString()
	logger := c.logger.With("sweep_id", sweepID)
	started := time.Now()

	expander := scenario.NewExpander(scenario.ExpanderConfig{Logger: logger, Rand: c.rng})
	specs, err := expander.Expand(c.config)
	if err != nil {
		return nil, fmt.Errorf("expand scenarios: %w", err)
	}
	if err := c.checkStrategies(specs); err != nil {
		return nil, err
	}

	store, err := c.openStore()
	if err != nil {
		return nil, fmt.Errorf("open dataset store: %w", err)
	}
	ds := dataset.New(dataset.Config{
		Store:   store,
		Logger:  logger.With("component", "dataset"),
		Metrics: c.metrics,
	})
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Warn("dataset close failed", "error", err)
		}
	}()

	service := decision.NewService(decision.ServiceConfig{
		Logger:  logger.With("component", "decision"),
		Metrics: c.metrics,
		Tracer:  c.tracer,
	})

	// The progress endpoint outlives scheduler construction, so it reads
	// the scheduler through an atomic slot that starts empty.
	var sched atomic.Pointer[scheduler.Scheduler]
	server, err := decision.NewServer(decision.ServerConfig{
		Host:    c.config.Decision.Host,
		Port:    c.config.Decision.Port,
		Service: service,
		Logger:  logger.With("component", "decision-server"),
		Metrics: c.metrics,
		Progress: func() models.Progress {
			if s := sched.Load(); s != nil {
				return s.Progress()
			}
			return models.Progress{}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build decision server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("start decision server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("decision server shutdown failed", "error", err)
		}
	}()

	runner, err := c.runnerFactory(server.URL())
	if err != nil {
		return nil, fmt.Errorf("build engine runner: %w", err)
	}

	retryLimit := 1
	if c.config.Scheduler.RetryLimit != nil {
		retryLimit = *c.config.Scheduler.RetryLimit
	}
	schedImpl, err := scheduler.New(runner, service, c.registry, ds, scheduler.Config{
		MaxConcurrency: c.config.Scheduler.MaxConcurrency,
		RunTimeout:     time.Duration(c.config.Scheduler.RunTimeout),
		RetryLimit:     retryLimit,
		RetryDelay:     time.Duration(c.config.Scheduler.RetryDelay),
		Logger:         logger.With("component", "scheduler"),
		Metrics:        c.metrics,
		Tracer:         c.tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	sched.Store(schedImpl)

	logger.Info("sweep starting",
		"runs", len(specs),
		"decision_addr", server.Addr(),
		"store", c.config.Output.Store)

	summary, execErr := schedImpl.Execute(ctx, specs)
	ds.Seal()

	report := &Report{
		SweepID:   sweepID,
		StartedAt: started,
		Runs:      summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Scenarios: summary.Scenarios,
	}
	if rows, err := ds.Count(ctx); err == nil {
		report.DatasetRows = rows
	}

	if execErr != nil {
		report.FinishedAt = time.Now()
		report.Duration = report.FinishedAt.Sub(started)
		logger.Warn("sweep interrupted",
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"error", execErr)
		return report, execErr
	}

	if path := c.config.Output.CSVPath; path != "" {
		if err := c.exportCSV(ctx, ds, path); err != nil {
			return report, fmt.Errorf("export csv: %w", err)
		}
		report.CSVPath = path
	}

	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(started)
	logger.Info("sweep finished",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"rows", report.DatasetRows,
		"duration", report.Duration)

	if failed := summary.FailedScenarios(); len(failed) > 0 {
		return report, fmt.Errorf("scenarios produced no successful runs: %s", strings.Join(failed, ", "))
	}
	return report, nil
}

// checkStrategies rejects unknown strategy names before anything
// launches, so a typo fails the sweep instead of failing every run of
// one scenario at execution time.
func (c *Coordinator) checkStrategies(specs []models.RunSpec) error {
	seen := make(map[string]bool)
	for _, spec := range specs {
		if spec.Strategy == "" || seen[spec.Strategy] {
			continue
		}
		seen[spec.Strategy] = true
		if !c.registry.Has(spec.Strategy) {
			return fmt.Errorf("scenario %q: %w %q", spec.Scenario, strategy.ErrUnknownStrategy, spec.Strategy)
		}
	}
	return nil
}

func (c *Coordinator) openStore() (dataset.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	switch c.config.Output.Store {
	case config.StoreSQLite:
		return dataset.NewSQLiteStore(c.config.Output.SQLitePath)
	case config.StorePostgres:
		return dataset.NewPostgresStore(c.config.Output.PostgresDSN, nil)
	default:
		return dataset.NewMemoryStore(), nil
	}
}

func (c *Coordinator) exportCSV(ctx context.Context, ds *dataset.Dataset, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ds.WriteCSV(ctx, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

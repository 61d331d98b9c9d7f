// Package scheduler drives the expanded run list to completion under a
// bounded pool of execution slots. Each run holds its slot across every
// retry attempt, so the concurrency cap bounds live engine processes, not
// logical runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/evaclab/egress/internal/decision"
	"github.com/evaclab/egress/internal/engine"
	"github.com/evaclab/egress/internal/observability"
	"github.com/evaclab/egress/internal/strategy"
	"github.com/evaclab/egress/pkg/models"
)

// Binder owns the per-run strategy bindings the decision service consults
// while a run's engine process is alive.
type Binder interface {
	RegisterRun(runID, strategyName string, impl strategy.Strategy) error
	UnregisterRun(runID string) decision.RunLog
}

// ResultSink receives the terminal record of each run.
type ResultSink interface {
	Append(ctx context.Context, result models.RunResult) error
}

// Config controls scheduling behavior.
type Config struct {
	// MaxConcurrency caps the number of engine processes running at once.
	// Defaults to one per available CPU.
	MaxConcurrency int

	// RunTimeout is the wall-clock budget for a single attempt. An attempt
	// that exceeds it is killed and counted as timed out. Defaults to 2
	// minutes.
	RunTimeout time.Duration

	// RetryLimit is the number of additional launches granted after a
	// failed attempt, so a run makes at most RetryLimit+1 attempts. Zero
	// disables retries.
	RetryLimit int

	// RetryDelay pauses between a failed attempt and its retry.
	RetryDelay time.Duration

	// Logger receives scheduling events. Defaults to slog.Default.
	Logger *slog.Logger

	// Metrics, when set, records run counters and durations.
	Metrics *observability.Metrics

	// Tracer, when set, opens a span per attempt.
	Tracer *observability.Tracer
}

// DefaultConfig returns the scheduling defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: runtime.NumCPU(),
		RunTimeout:     2 * time.Minute,
		RetryLimit:     1,
	}
}

// ScenarioTally tracks terminal outcomes for one scenario variant.
type ScenarioTally struct {
	Total  int
	Failed int
}

// Summary aggregates the terminal outcomes of a sweep. Runs cancelled
// before their first launch appear in no tally.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int

	// Scenarios maps each variant name to its outcome counts.
	Scenarios map[string]ScenarioTally
}

// FailedScenarios returns the variant names whose runs all failed, sorted
// lexically. Variants with no recorded runs are not included.
func (s Summary) FailedScenarios() []string {
	var names []string
	for name, tally := range s.Scenarios {
		if tally.Total > 0 && tally.Failed == tally.Total {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Scheduler executes run specs against an engine runner, keeping the
// decision service's bindings in step with the engine's lifecycle.
type Scheduler struct {
	runner   engine.Runner
	binder   Binder
	registry *strategy.Registry
	sink     ResultSink
	config   Config
	logger   *slog.Logger

	mu        sync.Mutex
	states    map[string]models.RunStatus
	scenarios map[string]ScenarioTally
	succeeded int
	failed    int
	total     int
	started   time.Time
}

// New builds a Scheduler. Zero or negative config fields fall back to the
// defaults from DefaultConfig; a nil logger falls back to slog.Default.
// The binder may be nil when no scenario carries a strategy.
func New(runner engine.Runner, binder Binder, registry *strategy.Registry, sink ResultSink, config Config) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler requires an engine runner")
	}

	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if config.RetryLimit < 0 {
		config.RetryLimit = 0
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "scheduler")
	}

	return &Scheduler{
		runner:   runner,
		binder:   binder,
		registry: registry,
		sink:     sink,
		config:   config,
		logger:   logger,
	}, nil
}

// Execute runs every spec to a terminal state and blocks until the sweep
// finishes or ctx is cancelled. On cancellation the in-flight runs are
// killed and recorded as failed; runs that never acquired a slot are left
// out of the dataset entirely. The returned error is ctx.Err when the
// sweep was cut short, nil otherwise.
func (s *Scheduler) Execute(ctx context.Context, specs []models.RunSpec) (Summary, error) {
	s.mu.Lock()
	s.states = make(map[string]models.RunStatus, len(specs))
	for _, spec := range specs {
		s.states[spec.ID] = models.RunStatusPending
	}
	s.scenarios = make(map[string]ScenarioTally)
	s.succeeded = 0
	s.failed = 0
	s.total = len(specs)
	s.started = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting sweep execution",
		"runs", len(specs),
		"max_concurrency", s.config.MaxConcurrency,
		"run_timeout", s.config.RunTimeout,
		"retry_limit", s.config.RetryLimit)

	sem := make(chan struct{}, s.config.MaxConcurrency)
	var wg sync.WaitGroup

launch:
	for _, spec := range specs {
		select {
		case <-ctx.Done():
			break launch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(spec models.RunSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			s.executeRun(ctx, spec)
		}(spec)
	}

	wg.Wait()

	summary := s.snapshotSummary()
	s.logger.Info("sweep execution finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("sweep interrupted: %w", err)
	}
	return summary, nil
}

// Progress reports a snapshot of the current sweep. Runs holding a slot
// count as running whether the engine process is up yet or not.
func (s *Scheduler) Progress() models.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := models.Progress{Total: s.total}
	for _, status := range s.states {
		switch status {
		case models.RunStatusPending:
			p.Pending++
		case models.RunStatusLaunching, models.RunStatusRunning:
			p.Running++
		case models.RunStatusSucceeded:
			p.Succeeded++
		case models.RunStatusFailed:
			p.Failed++
		}
	}
	if !s.started.IsZero() {
		p.Elapsed = time.Since(s.started)
		if done := p.Completed(); done > 0 && done < p.Total {
			perRun := p.Elapsed / time.Duration(done)
			p.Remaining = perRun * time.Duration(p.Total-done)
		}
	}
	return p
}

// executeRun owns one run from first launch to terminal record, retrying
// failed attempts while the budget allows.
func (s *Scheduler) executeRun(ctx context.Context, spec models.RunSpec) {
	startedAt := time.Now()

	var metrics *models.Metrics
	var log decision.RunLog
	var runErr error
	attempts := 0

	for attempt := 1; attempt <= s.config.RetryLimit+1; attempt++ {
		if attempt > 1 {
			if s.config.Metrics != nil {
				s.config.Metrics.RunRetried(spec.Scenario)
			}
			s.logger.Warn("retrying run",
				"run_id", spec.ID,
				"attempt", attempt,
				"error", runErr)
			if !sleep(ctx, s.config.RetryDelay) {
				break
			}
		}

		attempts = attempt
		metrics, log, runErr = s.attempt(ctx, spec, attempt)
		if runErr == nil {
			break
		}
		if ctx.Err() != nil {
			// The sweep itself is shutting down; the failure is not the
			// run's fault and a retry would meet the same fate.
			break
		}
	}

	finishedAt := time.Now()
	result := models.RunResult{
		RunID:       spec.ID,
		Scenario:    spec.Scenario,
		Strategy:    spec.Strategy,
		SampleIndex: spec.SampleIndex,
		Seed:        spec.Seed,
		Params:      spec.Params,
		Status:      models.RunStatusSucceeded,
		Metrics:     metrics,
		Attempts:    attempts,
		Actions:     log.Actions,
		Responses:   log.Responses,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Duration:    finishedAt.Sub(startedAt),
	}

	statusLabel := "succeeded"
	if runErr != nil {
		result.Status = models.RunStatusFailed
		result.Metrics = nil
		result.FailureReason = runErr.Error()
		statusLabel = "failed"
		if errors.Is(runErr, context.DeadlineExceeded) {
			statusLabel = "timed_out"
		}
	}

	if s.config.Metrics != nil {
		s.config.Metrics.RunFinished(spec.Scenario, statusLabel, result.Duration.Seconds())
	}

	if runErr != nil {
		s.logger.Error("run failed",
			"run_id", spec.ID,
			"scenario", spec.Scenario,
			"attempts", attempts,
			"error", runErr)
	} else {
		s.logger.Info("run succeeded",
			"run_id", spec.ID,
			"scenario", spec.Scenario,
			"attempts", attempts,
			"duration", result.Duration)
	}

	s.record(ctx, result)
}

// attempt performs a single launch: bind a fresh strategy instance,
// execute the engine under the attempt deadline, and always release the
// binding on the way out. The named log return is filled by the deferred
// unregister so the caller sees the decisions of the attempt that just
// ended.
func (s *Scheduler) attempt(ctx context.Context, spec models.RunSpec, attempt int) (metrics *models.Metrics, log decision.RunLog, err error) {
	if s.config.Tracer != nil {
		attemptCtx, span := s.config.Tracer.TraceRunAttempt(ctx, spec.ID, spec.Scenario, attempt)
		ctx = attemptCtx
		defer span.End()
	}

	s.setStatus(spec.ID, models.RunStatusLaunching)

	if spec.Strategy != "" {
		if s.registry == nil || s.binder == nil {
			return nil, log, fmt.Errorf("run %s names strategy %q but no decision binding is configured", spec.ID, spec.Strategy)
		}
		// Retries must not inherit run-local state, so every attempt binds
		// a freshly constructed instance.
		impl, buildErr := s.registry.New(spec.Strategy, strategy.Config{
			Persuasion: spec.Params.RobotPersuasion,
			Rand:       rand.New(rand.NewSource(strategySeed(spec.Seed, attempt))),
		})
		if buildErr != nil {
			return nil, log, fmt.Errorf("bind strategy: %w", buildErr)
		}
		if regErr := s.binder.RegisterRun(spec.ID, spec.Strategy, impl); regErr != nil {
			return nil, log, fmt.Errorf("register run: %w", regErr)
		}
		defer func() {
			log = s.binder.UnregisterRun(spec.ID)
		}()
	}

	if s.config.Metrics != nil {
		s.config.Metrics.RunStarted()
		defer s.config.Metrics.RunEnded()
	}

	s.setStatus(spec.ID, models.RunStatusRunning)

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	metrics, err = s.runner.Run(runCtx, spec)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, log, fmt.Errorf("run timed out after %s: %w", s.config.RunTimeout, context.DeadlineExceeded)
		}
		return nil, log, err
	}
	return metrics, log, nil
}

// record tallies a terminal result and hands it to the sink. The append
// survives sweep cancellation so that killed runs still leave a row.
func (s *Scheduler) record(ctx context.Context, result models.RunResult) {
	s.mu.Lock()
	s.states[result.RunID] = result.Status
	tally := s.scenarios[result.Scenario]
	tally.Total++
	if result.Status == models.RunStatusFailed {
		tally.Failed++
		s.failed++
	} else {
		s.succeeded++
	}
	s.scenarios[result.Scenario] = tally
	s.mu.Unlock()

	if s.sink == nil {
		return
	}
	if err := s.sink.Append(context.WithoutCancel(ctx), result); err != nil {
		s.logger.Error("failed to record run result",
			"run_id", result.RunID,
			"error", err)
	}
}

func (s *Scheduler) setStatus(runID string, status models.RunStatus) {
	s.mu.Lock()
	s.states[runID] = status
	s.mu.Unlock()
}

func (s *Scheduler) snapshotSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{
		Total:     s.succeeded + s.failed,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Scenarios: make(map[string]ScenarioTally, len(s.scenarios)),
	}
	for name, tally := range s.scenarios {
		summary.Scenarios[name] = tally
	}
	return summary
}

// strategySeed derives the seed for a run's decision randomness. Attempts
// get distinct streams so a retry does not replay the previous attempt's
// coin flips; an unseeded run falls back to wall-clock entropy.
func strategySeed(seed int64, attempt int) int64 {
	if seed == 0 {
		return time.Now().UnixNano()
	}
	return seed ^ int64(attempt)
}

// sleep waits for d or until ctx is cancelled, reporting whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evaclab/egress/internal/decision"
	"github.com/evaclab/egress/internal/engine"
	"github.com/evaclab/egress/internal/strategy"
	"github.com/evaclab/egress/pkg/models"
)

// fakeRunner implements engine.Runner for testing, tracking launch counts
// and the concurrency high-water mark.
type fakeRunner struct {
	mu        sync.Mutex
	calls     int
	inFlight  int
	highWater int
	run       func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error)
}

func (f *fakeRunner) Run(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.highWater {
		f.highWater = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.run != nil {
		return f.run(ctx, spec)
	}
	return &models.Metrics{Success: true, EvacuationTicks: 100}, nil
}

func (f *fakeRunner) launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memorySink implements ResultSink for testing.
type memorySink struct {
	mu      sync.Mutex
	err     error
	results []models.RunResult
}

func (m *memorySink) Append(ctx context.Context, result models.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.results = append(m.results, result)
	return nil
}

func (m *memorySink) rows() []models.RunResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RunResult(nil), m.results...)
}

func (m *memorySink) byID(id string) (models.RunResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.RunID == id {
			return r, true
		}
	}
	return models.RunResult{}, false
}

// recordingBinder implements Binder for testing, remembering every bind
// and release in order.
type recordingBinder struct {
	mu         sync.Mutex
	registered []string
	released   []string
	instances  []strategy.Strategy
	active     map[string]strategy.Strategy
	log        decision.RunLog
}

func (b *recordingBinder) RegisterRun(runID, strategyName string, impl strategy.Strategy) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		b.active = make(map[string]strategy.Strategy)
	}
	if _, ok := b.active[runID]; ok {
		return fmt.Errorf("run %q already registered", runID)
	}
	b.active[runID] = impl
	b.registered = append(b.registered, runID)
	b.instances = append(b.instances, impl)
	return nil
}

func (b *recordingBinder) UnregisterRun(runID string) decision.RunLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, runID)
	b.released = append(b.released, runID)
	return b.log
}

func newTestScheduler(t *testing.T, runner engine.Runner, binder Binder, sink ResultSink, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := New(runner, binder, strategy.DefaultRegistry(), sink, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func sampleSpecs(scenario, strategyName string, n int) []models.RunSpec {
	specs := make([]models.RunSpec, n)
	for i := range specs {
		specs[i] = models.RunSpec{
			ID:          fmt.Sprintf("%s_%d", scenario, i),
			Scenario:    scenario,
			Strategy:    strategyName,
			SampleIndex: i,
			Seed:        int64(1000 + i),
			Params:      models.DefaultParams(),
		}
	}
	return specs
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxConcurrency != runtime.NumCPU() {
		t.Errorf("MaxConcurrency = %d, want %d", cfg.MaxConcurrency, runtime.NumCPU())
	}
	if cfg.RunTimeout != 2*time.Minute {
		t.Errorf("RunTimeout = %v, want %v", cfg.RunTimeout, 2*time.Minute)
	}
	if cfg.RetryLimit != 1 {
		t.Errorf("RetryLimit = %d, want 1", cfg.RetryLimit)
	}
}

func TestNew(t *testing.T) {
	t.Run("requires a runner", func(t *testing.T) {
		if _, err := New(nil, nil, nil, nil, Config{}); err == nil {
			t.Fatal("expected error for nil runner")
		}
	})

	t.Run("applies defaults for zero values", func(t *testing.T) {
		s, err := New(&fakeRunner{}, nil, nil, nil, Config{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if s.config.MaxConcurrency != runtime.NumCPU() {
			t.Errorf("MaxConcurrency = %d, want %d", s.config.MaxConcurrency, runtime.NumCPU())
		}
		if s.config.RunTimeout != 2*time.Minute {
			t.Errorf("RunTimeout = %v, want %v", s.config.RunTimeout, 2*time.Minute)
		}
	})

	t.Run("clamps negative retry settings", func(t *testing.T) {
		s, err := New(&fakeRunner{}, nil, nil, nil, Config{RetryLimit: -3, RetryDelay: -time.Second})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if s.config.RetryLimit != 0 {
			t.Errorf("RetryLimit = %d, want 0", s.config.RetryLimit)
		}
		if s.config.RetryDelay != 0 {
			t.Errorf("RetryDelay = %v, want 0", s.config.RetryDelay)
		}
	})

	t.Run("keeps provided values", func(t *testing.T) {
		s, err := New(&fakeRunner{}, nil, nil, nil, Config{MaxConcurrency: 3, RunTimeout: time.Second, RetryLimit: 5})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if s.config.MaxConcurrency != 3 || s.config.RunTimeout != time.Second || s.config.RetryLimit != 5 {
			t.Errorf("config = %+v, want provided values kept", s.config)
		}
	})
}

func TestScheduler_SweepDataset(t *testing.T) {
	runner := &fakeRunner{}
	binder := &recordingBinder{}
	sink := &memorySink{}

	specs := append(sampleSpecs("no-support", "", 3), sampleSpecs("adaptive-support", strategy.Random, 3)...)
	s := newTestScheduler(t, runner, binder, sink, Config{MaxConcurrency: 4})

	summary, err := s.Execute(context.Background(), specs)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.Total != 6 || summary.Succeeded != 6 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 6 succeeded runs", summary)
	}
	if got := summary.Scenarios["no-support"]; got.Total != 3 || got.Failed != 0 {
		t.Errorf("no-support tally = %+v, want {3 0}", got)
	}
	if got := summary.Scenarios["adaptive-support"]; got.Total != 3 || got.Failed != 0 {
		t.Errorf("adaptive-support tally = %+v, want {3 0}", got)
	}

	rows := sink.rows()
	if len(rows) != 6 {
		t.Fatalf("dataset rows = %d, want 6", len(rows))
	}
	for _, spec := range specs {
		row, ok := sink.byID(spec.ID)
		if !ok {
			t.Fatalf("missing dataset row for %s", spec.ID)
		}
		if row.Scenario != spec.Scenario || row.SampleIndex != spec.SampleIndex || row.Seed != spec.Seed {
			t.Errorf("row %s = %+v, want tags from its spec", spec.ID, row)
		}
		if row.Status != models.RunStatusSucceeded || row.Attempts != 1 || row.Metrics == nil {
			t.Errorf("row %s status=%s attempts=%d metrics=%v, want first-try success", spec.ID, row.Status, row.Attempts, row.Metrics)
		}
		if row.FinishedAt.Before(row.StartedAt) {
			t.Errorf("row %s finished before it started", spec.ID)
		}
	}
}

func TestScheduler_RetryBudget(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
			return nil, errors.New("engine exited: exit status 1")
		},
	}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, nil, sink, Config{MaxConcurrency: 1, RetryLimit: 2})

	summary, err := s.Execute(context.Background(), sampleSpecs("no-support", "", 1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := runner.launches(); got != 3 {
		t.Errorf("launches = %d, want 3 (one initial, two retries)", got)
	}
	if summary.Failed != 1 {
		t.Errorf("summary.Failed = %d, want 1", summary.Failed)
	}

	row, ok := sink.byID("no-support_0")
	if !ok {
		t.Fatal("missing dataset row")
	}
	if row.Status != models.RunStatusFailed || row.Attempts != 3 {
		t.Errorf("status=%s attempts=%d, want failed after 3 attempts", row.Status, row.Attempts)
	}
	if row.Metrics != nil {
		t.Error("failed run should carry no metrics")
	}
	if !strings.Contains(row.FailureReason, "engine exited") {
		t.Errorf("FailureReason = %q, want engine error preserved", row.FailureReason)
	}
}

func TestScheduler_NoRetriesWhenLimitZero(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
			return nil, errors.New("boom")
		},
	}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, nil, sink, Config{MaxConcurrency: 1, RetryLimit: 0})

	if _, err := s.Execute(context.Background(), sampleSpecs("no-support", "", 1)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := runner.launches(); got != 1 {
		t.Errorf("launches = %d, want 1", got)
	}
}

func TestScheduler_SuccessAfterRetry(t *testing.T) {
	var mu sync.Mutex
	failFirst := true
	runner := &fakeRunner{
		run: func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
			mu.Lock()
			defer mu.Unlock()
			if failFirst {
				failFirst = false
				return nil, errors.New("transient crash")
			}
			return &models.Metrics{Success: true, EvacuationTicks: 240}, nil
		},
	}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, nil, sink, Config{MaxConcurrency: 1, RetryLimit: 1})

	summary, err := s.Execute(context.Background(), sampleSpecs("staff-support", "", 1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want one success", summary)
	}
	row, _ := sink.byID("staff-support_0")
	if row.Status != models.RunStatusSucceeded || row.Attempts != 2 {
		t.Errorf("status=%s attempts=%d, want success on second attempt", row.Status, row.Attempts)
	}
	if row.Metrics == nil || row.Metrics.EvacuationTicks != 240 {
		t.Errorf("Metrics = %+v, want ticks from the successful attempt", row.Metrics)
	}
	if row.FailureReason != "" {
		t.Errorf("FailureReason = %q, want empty after recovery", row.FailureReason)
	}
}

func TestScheduler_TimeoutRetriesThenFails(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, nil, sink, Config{
		MaxConcurrency: 1,
		RunTimeout:     30 * time.Millisecond,
		RetryLimit:     1,
	})

	summary, err := s.Execute(context.Background(), sampleSpecs("no-support", "", 1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := runner.launches(); got != 2 {
		t.Errorf("launches = %d, want 2", got)
	}
	if summary.Failed != 1 {
		t.Errorf("summary.Failed = %d, want 1", summary.Failed)
	}
	row, _ := sink.byID("no-support_0")
	if row.Attempts != 2 || row.Status != models.RunStatusFailed {
		t.Errorf("status=%s attempts=%d, want terminal failure after retried timeout", row.Status, row.Attempts)
	}
	if !strings.Contains(row.FailureReason, "timed out after") {
		t.Errorf("FailureReason = %q, want timeout wording", row.FailureReason)
	}
}

func TestScheduler_ConcurrencyCap(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
			time.Sleep(50 * time.Millisecond)
			return &models.Metrics{Success: true}, nil
		},
	}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, nil, sink, Config{MaxConcurrency: 2})

	if _, err := s.Execute(context.Background(), sampleSpecs("no-support", "", 8)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	runner.mu.Lock()
	high := runner.highWater
	runner.mu.Unlock()
	if high > 2 {
		t.Errorf("concurrency high-water = %d, want at most 2", high)
	}
	if got := runner.launches(); got != 8 {
		t.Errorf("launches = %d, want 8", got)
	}
}

func TestScheduler_BindingLifecycle(t *testing.T) {
	var mu sync.Mutex
	failFirst := true
	runner := &fakeRunner{
		run: func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
			mu.Lock()
			defer mu.Unlock()
			if failFirst {
				failFirst = false
				return nil, errors.New("crash before evacuation")
			}
			return &models.Metrics{Success: true}, nil
		},
	}
	binder := &recordingBinder{
		log: decision.RunLog{
			Actions:   []models.Action{models.ActionAskHelp, models.ActionCallStaff},
			Responses: []string{"accepted"},
		},
	}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, binder, sink, Config{MaxConcurrency: 1, RetryLimit: 1})

	if _, err := s.Execute(context.Background(), sampleSpecs("adaptive-support", strategy.Random, 1)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(binder.registered) != 2 || len(binder.released) != 2 {
		t.Fatalf("registered=%v released=%v, want one bind/release pair per attempt", binder.registered, binder.released)
	}
	if len(binder.active) != 0 {
		t.Errorf("active bindings = %d after sweep, want none", len(binder.active))
	}
	if binder.instances[0] == binder.instances[1] {
		t.Error("retry reused the previous strategy instance, want a fresh one per attempt")
	}

	row, _ := sink.byID("adaptive-support_0")
	if len(row.Actions) != 2 || row.Actions[0] != models.ActionAskHelp {
		t.Errorf("Actions = %v, want the run's decision trace", row.Actions)
	}
	if len(row.Responses) != 1 || row.Responses[0] != "accepted" {
		t.Errorf("Responses = %v, want the run's response trace", row.Responses)
	}
}

func TestScheduler_NoStrategySkipsBinder(t *testing.T) {
	runner := &fakeRunner{}
	binder := &recordingBinder{}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, binder, sink, Config{MaxConcurrency: 1})

	if _, err := s.Execute(context.Background(), sampleSpecs("no-support", "", 2)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(binder.registered) != 0 {
		t.Errorf("registered = %v, want no bindings for strategy-less runs", binder.registered)
	}
}

func TestScheduler_UnknownStrategyFailsRun(t *testing.T) {
	runner := &fakeRunner{}
	binder := &recordingBinder{}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, binder, sink, Config{MaxConcurrency: 1, RetryLimit: 0})

	summary, err := s.Execute(context.Background(), sampleSpecs("adaptive-support", "warp", 1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.Failed != 1 {
		t.Errorf("summary.Failed = %d, want 1", summary.Failed)
	}
	if got := runner.launches(); got != 0 {
		t.Errorf("launches = %d, want 0 when the strategy cannot be built", got)
	}
	row, _ := sink.byID("adaptive-support_0")
	if !strings.Contains(row.FailureReason, "unknown strategy") {
		t.Errorf("FailureReason = %q, want unknown strategy error", row.FailureReason)
	}
}

func TestScheduler_StrategyWithoutBinderFails(t *testing.T) {
	runner := &fakeRunner{}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, nil, sink, Config{MaxConcurrency: 1, RetryLimit: 0})

	summary, err := s.Execute(context.Background(), sampleSpecs("adaptive-support", strategy.Random, 1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary.Failed = %d, want 1", summary.Failed)
	}
	row, _ := sink.byID("adaptive-support_0")
	if !strings.Contains(row.FailureReason, "no decision binding") {
		t.Errorf("FailureReason = %q, want missing binding error", row.FailureReason)
	}
}

func TestScheduler_CancelSkipsUnlaunchedRuns(t *testing.T) {
	started := make(chan struct{}, 1)
	runner := &fakeRunner{
		run: func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			// Hold the slot briefly so the launch loop observes the
			// cancellation before the slot frees up again.
			time.Sleep(10 * time.Millisecond)
			return nil, ctx.Err()
		},
	}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, nil, sink, Config{MaxConcurrency: 1, RetryLimit: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type executeResult struct {
		summary Summary
		err     error
	}
	done := make(chan executeResult, 1)
	go func() {
		summary, err := s.Execute(ctx, sampleSpecs("no-support", "", 4))
		done <- executeResult{summary, err}
	}()

	<-started
	cancel()
	res := <-done

	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("Execute error = %v, want context.Canceled", res.err)
	}
	if got := runner.launches(); got != 1 {
		t.Errorf("launches = %d, want 1 (no retry once the sweep is cancelled)", got)
	}
	rows := sink.rows()
	if len(rows) != 1 {
		t.Fatalf("dataset rows = %d, want only the interrupted run recorded", len(rows))
	}
	if rows[0].Status != models.RunStatusFailed {
		t.Errorf("status = %s, want failed", rows[0].Status)
	}
	if res.summary.Total != 1 {
		t.Errorf("summary.Total = %d, want 1", res.summary.Total)
	}
}

func TestScheduler_Progress(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	runner := &fakeRunner{
		run: func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return &models.Metrics{Success: true}, nil
		},
	}
	sink := &memorySink{}
	s := newTestScheduler(t, runner, nil, sink, Config{MaxConcurrency: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.Execute(context.Background(), sampleSpecs("no-support", "", 3)); err != nil {
			t.Errorf("Execute: %v", err)
		}
	}()

	<-started
	p := s.Progress()
	if p.Total != 3 || p.Running != 1 || p.Pending != 2 {
		t.Errorf("progress = %+v, want one running and two pending of three", p)
	}

	close(release)
	<-done

	p = s.Progress()
	if p.Succeeded != 3 || p.Completed() != 3 {
		t.Errorf("final progress = %+v, want all runs succeeded", p)
	}
	if p.Remaining != 0 {
		t.Errorf("Remaining = %v after completion, want 0", p.Remaining)
	}
}

func TestScheduler_SinkErrorDoesNotAbortSweep(t *testing.T) {
	runner := &fakeRunner{}
	sink := &memorySink{err: errors.New("disk full")}
	s := newTestScheduler(t, runner, nil, sink, Config{MaxConcurrency: 1})

	summary, err := s.Execute(context.Background(), sampleSpecs("no-support", "", 2))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Errorf("summary.Succeeded = %d, want 2 despite sink failures", summary.Succeeded)
	}
}

func TestSummary_FailedScenarios(t *testing.T) {
	summary := Summary{
		Scenarios: map[string]ScenarioTally{
			"fall-sweep-fall-chance=0.05": {Total: 3, Failed: 3},
			"staff-support":               {Total: 3, Failed: 1},
			"no-support":                  {Total: 2, Failed: 2},
			"untouched":                   {},
		},
	}

	got := summary.FailedScenarios()
	want := []string{"fall-sweep-fall-chance=0.05", "no-support"}
	if len(got) != len(want) {
		t.Fatalf("FailedScenarios = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FailedScenarios[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStrategySeed(t *testing.T) {
	if strategySeed(42, 1) == strategySeed(42, 2) {
		t.Error("attempts should draw from distinct streams")
	}
	if strategySeed(42, 1) != strategySeed(42, 1) {
		t.Error("same seed and attempt should be stable")
	}
	if strategySeed(0, 1) == 0 {
		t.Error("unseeded runs should still get entropy")
	}
}

// Package decision serves the mid-run callback protocol: a running
// simulation instance asks which action its robot should take, and the
// strategy instance bound to that run answers. Bindings are owned here;
// the scheduler creates one before a run launches and destroys it when
// the run exits.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/evaclab/egress/internal/observability"
	"github.com/evaclab/egress/internal/strategy"
	"github.com/evaclab/egress/pkg/models"
)

// ErrNoActiveStrategy is returned when a decision request references a
// run id with no live binding: never registered, or already unregistered.
// The caller gets the error, never a default action.
var ErrNoActiveStrategy = errors.New("no active strategy for run")

// RunLog is the decision trace accumulated for one run, handed back when
// the run's binding is destroyed.
type RunLog struct {
	Actions   []models.Action
	Responses []string
}

// binding ties a run id to its strategy instance and decision trace.
// Calls for one run id arrive sequentially, but the trace is appended
// under its own lock so unregistration from another goroutine is safe.
type binding struct {
	strategyName string
	impl         strategy.Strategy

	mu        sync.Mutex
	actions   []models.Action
	responses []string
}

func (b *binding) log() RunLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	return RunLog{
		Actions:   append([]models.Action(nil), b.actions...),
		Responses: append([]string(nil), b.responses...),
	}
}

// Service resolves decision requests to their run's strategy instance.
// Safe for concurrent use across run ids.
type Service struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	mu       sync.RWMutex
	bindings map[string]*binding
}

// ServiceConfig holds the service dependencies. All fields are optional.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// NewService creates an empty decision service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "decision")
	}
	return &Service{
		logger:   logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		bindings: make(map[string]*binding),
	}
}

// RegisterRun binds a fresh strategy instance to a run id. A duplicate id
// means the scheduler double-launched or skipped cleanup, so it is
// rejected rather than silently replaced.
func (s *Service) RegisterRun(runID, strategyName string, impl strategy.Strategy) error {
	if runID == "" {
		return fmt.Errorf("run id is empty")
	}
	if impl == nil {
		return fmt.Errorf("run %q has a nil strategy", runID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bindings[runID]; exists {
		return fmt.Errorf("run %q already registered", runID)
	}
	s.bindings[runID] = &binding{strategyName: strategyName, impl: impl}

	s.logger.Debug("registered strategy binding", "run_id", runID, "strategy", strategyName)
	return nil
}

// Decide resolves the run's bound strategy and returns its chosen action.
// The strategy call happens outside the registry lock so a slow decision
// never blocks registrations or other runs.
func (s *Service) Decide(ctx context.Context, runID string, contact models.SurvivorContact) (models.Action, error) {
	s.mu.RLock()
	b, ok := s.bindings[runID]
	s.mu.RUnlock()
	if !ok {
		if s.metrics != nil {
			s.metrics.DecisionFailed("no_active_strategy")
		}
		s.logger.Warn("decision request for unbound run", "run_id", runID)
		return "", fmt.Errorf("%w %q", ErrNoActiveStrategy, runID)
	}

	if s.tracer != nil {
		_, span := s.tracer.TraceDecision(ctx, runID, b.strategyName)
		defer span.End()
	}

	start := time.Now()
	action := b.impl.Decide(contact)

	b.mu.Lock()
	b.actions = append(b.actions, action)
	b.mu.Unlock()

	if s.metrics != nil {
		s.metrics.DecisionServed(b.strategyName, string(action), time.Since(start).Seconds())
	}
	s.logger.Debug("decision served",
		"run_id", runID,
		"strategy", b.strategyName,
		"action", string(action),
	)
	return action, nil
}

// RecordResponse appends a passenger's reply to the run's trace.
func (s *Service) RecordResponse(runID, response string) error {
	s.mu.RLock()
	b, ok := s.bindings[runID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrNoActiveStrategy, runID)
	}

	b.mu.Lock()
	b.responses = append(b.responses, response)
	b.mu.Unlock()
	return nil
}

// UnregisterRun destroys the run's binding and returns its accumulated
// trace. Unregistering an unknown id returns an empty log; cleanup must
// be callable unconditionally on every run exit.
func (s *Service) UnregisterRun(runID string) RunLog {
	s.mu.Lock()
	b, ok := s.bindings[runID]
	delete(s.bindings, runID)
	s.mu.Unlock()

	if !ok {
		return RunLog{}
	}
	s.logger.Debug("unregistered strategy binding", "run_id", runID)
	return b.log()
}

// Active lists the run ids with live bindings, sorted.
func (s *Service) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.bindings))
	for id := range s.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

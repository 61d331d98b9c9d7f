// Package strategy holds the adaptation strategies a robot can follow
// when it finds a fallen passenger, and the registry that constructs a
// fresh instance per run. Instances may carry run-local state, so one
// instance must never serve two runs.
package strategy

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/evaclab/egress/pkg/models"
)

// ErrUnknownStrategy is returned when a scenario names a strategy the
// registry has never heard of. Surfaced before any run is scheduled.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy picks one action for a robot standing at a contact. Decisions
// are pure compute and may be stochastic; the same inputs can yield
// different answers.
type Strategy interface {
	Decide(contact models.SurvivorContact) models.Action
}

// Config carries the per-run inputs a strategy instance is built with.
type Config struct {
	// Persuasion scales matrix-based helping chances. The engine default
	// is 1.0; a sweep may push it above or below.
	Persuasion float64

	// Rand drives stochastic strategies. Nil seeds from the current
	// time. Each run gets its own generator, never shared.
	Rand *rand.Rand
}

// Factory builds an independent strategy instance for one run.
type Factory func(cfg Config) Strategy

// Registry maps strategy names to factories. Lookup is by exact name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every builtin strategy
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, factory := range builtins {
		// Registering a fixed map of distinct names cannot fail.
		if err := r.Register(name, factory); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a named factory. Registering a duplicate or empty name is
// an error.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("strategy name is empty")
	}
	if factory == nil {
		return fmt.Errorf("strategy %q has a nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New constructs a fresh instance of the named strategy. A nil Rand in
// cfg is replaced with a time-seeded generator.
func (r *Registry) New(name string, cfg Config) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, name)
	}

	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return factory(cfg), nil
}

// Has reports whether the named strategy is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names lists the registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

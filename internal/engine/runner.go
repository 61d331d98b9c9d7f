// Package engine launches simulation-engine instances and collects their
// terminal outcome. Instances are single-use: one process per run
// attempt, killed on timeout.
package engine

import (
	"context"

	"github.com/evaclab/egress/pkg/models"
)

// Runner executes one engine instance for a run and returns the metrics
// payload it produced. The ctx deadline is the attempt's wall-clock
// budget; implementations must terminate the instance when it expires.
type Runner interface {
	Run(ctx context.Context, spec models.RunSpec) (*models.Metrics, error)
}

// RunnerFunc adapts a plain function to the Runner interface. Tests and
// the sweep coordinator use it to substitute in-process engines.
type RunnerFunc func(ctx context.Context, spec models.RunSpec) (*models.Metrics, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
	return f(ctx, spec)
}

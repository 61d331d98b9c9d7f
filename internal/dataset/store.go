// Package dataset persists the sweep's append-only result set: one row
// per run, written when the run reaches a terminal state. Stores share a
// single ordering contract so exports read the same whichever backend
// holds the rows.
package dataset

import (
	"context"
	"errors"

	"github.com/evaclab/egress/pkg/models"
)

var (
	// ErrAlreadyExists is returned when a run id is appended twice.
	ErrAlreadyExists = errors.New("run result already exists")
	// ErrSealed is returned when a row arrives after the dataset sealed.
	ErrSealed = errors.New("dataset is sealed")
	// ErrNotSealed is returned when the full result set is requested
	// while the sweep can still append rows.
	ErrNotSealed = errors.New("dataset is not sealed")
)

// Store persists terminal run results. List returns rows ordered by
// scenario, sample index and run id, so exports are deterministic no
// matter in which order a concurrent sweep finished its runs.
type Store interface {
	Append(ctx context.Context, result models.RunResult) error
	List(ctx context.Context) ([]models.RunResult, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

package dataset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/evaclab/egress/pkg/models"
)

// MemoryStore keeps the dataset in process memory. It is the default
// backend for sweeps that only need the CSV export at the end.
type MemoryStore struct {
	mu   sync.RWMutex
	ids  map[string]struct{}
	rows []models.RunResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (s *MemoryStore) Append(ctx context.Context, result models.RunResult) error {
	if result.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[result.RunID]; exists {
		return fmt.Errorf("append %s: %w", result.RunID, ErrAlreadyExists)
	}
	s.ids[result.RunID] = struct{}{}
	s.rows = append(s.rows, result.Clone())
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]models.RunResult, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row.Clone())
	}
	sortResults(rows)
	return rows, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// sortResults orders rows by scenario, sample index and run id, the
// ordering contract every Store implements.
func sortResults(rows []models.RunResult) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Scenario != rows[j].Scenario {
			return rows[i].Scenario < rows[j].Scenario
		}
		if rows[i].SampleIndex != rows[j].SampleIndex {
			return rows[i].SampleIndex < rows[j].SampleIndex
		}
		return rows[i].RunID < rows[j].RunID
	})
}

package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evaclab/egress/pkg/models"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

// SQLiteStore persists the dataset in a single SQLite file, which keeps
// sweep results around without a database server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path. An empty path
// keeps the rows in memory.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Terminal runs append from scheduler goroutines; one connection
	// serializes the writes instead of tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_results (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			sample_index INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			params TEXT NOT NULL,
			status TEXT NOT NULL,
			metrics TEXT,
			failure_reason TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL,
			actions TEXT,
			responses TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			duration_ns INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create run_results table: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_run_results_scenario ON run_results(scenario)`); err != nil {
		return fmt.Errorf("create scenario index: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, result models.RunResult) error {
	if result.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	paramsJSON, err := json.Marshal(result.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	var metricsJSON any
	if result.Metrics != nil {
		b, err := json.Marshal(result.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = b
	}
	var actionsJSON any
	if len(result.Actions) > 0 {
		b, err := json.Marshal(result.Actions)
		if err != nil {
			return fmt.Errorf("marshal actions: %w", err)
		}
		actionsJSON = b
	}
	var responsesJSON any
	if len(result.Responses) > 0 {
		b, err := json.Marshal(result.Responses)
		if err != nil {
			return fmt.Errorf("marshal responses: %w", err)
		}
		responsesJSON = b
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_results (run_id, scenario, strategy, sample_index, seed, params, status, metrics, failure_reason, attempts, actions, responses, started_at, finished_at, duration_ns)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		result.RunID,
		result.Scenario,
		result.Strategy,
		result.SampleIndex,
		result.Seed,
		paramsJSON,
		string(result.Status),
		metricsJSON,
		result.FailureReason,
		result.Attempts,
		actionsJSON,
		responsesJSON,
		result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.FinishedAt.UTC().Format(time.RFC3339Nano),
		result.Duration.Nanoseconds(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("append %s: %w", result.RunID, ErrAlreadyExists)
		}
		return fmt.Errorf("append run result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.RunResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, scenario, strategy, sample_index, seed, params, status, metrics, failure_reason, attempts, actions, responses, started_at, finished_at, duration_ns
		 FROM run_results ORDER BY scenario, sample_index, run_id`)
	if err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	defer rows.Close()

	results := []models.RunResult{}
	for rows.Next() {
		var result models.RunResult
		var status, startedAt, finishedAt string
		var paramsJSON, metricsJSON, actionsJSON, responsesJSON []byte
		var durationNS int64
		if err := rows.Scan(
			&result.RunID,
			&result.Scenario,
			&result.Strategy,
			&result.SampleIndex,
			&result.Seed,
			&paramsJSON,
			&status,
			&metricsJSON,
			&result.FailureReason,
			&result.Attempts,
			&actionsJSON,
			&responsesJSON,
			&startedAt,
			&finishedAt,
			&durationNS,
		); err != nil {
			return nil, fmt.Errorf("scan run result: %w", err)
		}

		result.Status = models.RunStatus(status)
		if err := json.Unmarshal(paramsJSON, &result.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params for %s: %w", result.RunID, err)
		}
		if len(metricsJSON) > 0 {
			var m models.Metrics
			if err := json.Unmarshal(metricsJSON, &m); err != nil {
				return nil, fmt.Errorf("unmarshal metrics for %s: %w", result.RunID, err)
			}
			result.Metrics = &m
		}
		if len(actionsJSON) > 0 {
			if err := json.Unmarshal(actionsJSON, &result.Actions); err != nil {
				return nil, fmt.Errorf("unmarshal actions for %s: %w", result.RunID, err)
			}
		}
		if len(responsesJSON) > 0 {
			if err := json.Unmarshal(responsesJSON, &result.Responses); err != nil {
				return nil, fmt.Errorf("unmarshal responses for %s: %w", result.RunID, err)
			}
		}
		if result.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for %s: %w", result.RunID, err)
		}
		if result.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at for %s: %w", result.RunID, err)
		}
		result.Duration = time.Duration(durationNS)

		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	return results, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM run_results`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count run results: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

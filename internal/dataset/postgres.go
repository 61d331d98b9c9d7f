package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/evaclab/egress/pkg/models"
)

// PostgresConfig tunes the Postgres connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns the pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// PostgresStore persists the dataset in Postgres, so sweeps running on
// different hosts can collect into one results database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects with the given DSN and ensures the schema
// exists.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_results (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			sample_index INT NOT NULL,
			seed BIGINT NOT NULL,
			params JSONB NOT NULL,
			status TEXT NOT NULL,
			metrics JSONB,
			failure_reason TEXT NOT NULL DEFAULT '',
			attempts INT NOT NULL,
			actions TEXT[],
			responses TEXT[],
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			duration_ns BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create run_results table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_run_results_scenario ON run_results(scenario)`); err != nil {
		return fmt.Errorf("create scenario index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, result models.RunResult) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_results (run_id, scenario, strategy, sample_index, seed, params, status, metrics, failure_reason, attempts, actions, responses, started_at, finished_at, duration_ns)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
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
		pq.Array(actionStrings(result.Actions)),
		pq.Array(result.Responses),
		result.StartedAt.UTC(),
		result.FinishedAt.UTC(),
		result.Duration.Nanoseconds(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return fmt.Errorf("append %s: %w", result.RunID, ErrAlreadyExists)
		}
		return fmt.Errorf("append run result: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.RunResult, error) {
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
		var status string
		var paramsJSON, metricsJSON []byte
		var actions, responses []string
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
			pq.Array(&actions),
			pq.Array(&responses),
			&result.StartedAt,
			&result.FinishedAt,
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
		for _, a := range actions {
			result.Actions = append(result.Actions, models.Action(a))
		}
		if len(responses) > 0 {
			result.Responses = responses
		}
		result.Duration = time.Duration(durationNS)

		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM run_results`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count run results: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func actionStrings(actions []models.Action) []string {
	if len(actions) == 0 {
		return nil
	}
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

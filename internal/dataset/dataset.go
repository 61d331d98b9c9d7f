package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/evaclab/egress/internal/observability"
	"github.com/evaclab/egress/pkg/models"
)

// Dataset wraps a Store with the sweep lifecycle. Rows stream in while
// runs finish; Seal closes the set once the sweep drains, after which the
// complete result set feeds exports.
type Dataset struct {
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	sealed bool
}

// Config wires a Dataset.
type Config struct {
	// Store holds the rows. Defaults to an in-memory store.
	Store Store
	// Logger receives append events. Defaults to slog.Default.
	Logger *slog.Logger
	// Metrics, when set, counts appended rows.
	Metrics *observability.Metrics
}

// New builds a Dataset around the configured store.
func New(cfg Config) *Dataset {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "dataset")
	}
	return &Dataset{store: store, logger: logger, metrics: cfg.Metrics}
}

// Append records one terminal run result. It fails once the dataset is
// sealed.
func (d *Dataset) Append(ctx context.Context, result models.RunResult) error {
	d.mu.RLock()
	sealed := d.sealed
	d.mu.RUnlock()
	if sealed {
		return fmt.Errorf("append %s: %w", result.RunID, ErrSealed)
	}
	if err := d.store.Append(ctx, result); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.RowAppended()
	}
	d.logger.Debug("dataset row appended",
		"run_id", result.RunID,
		"status", string(result.Status))
	return nil
}

// Seal marks the dataset complete. Sealing twice is a no-op.
func (d *Dataset) Seal() {
	d.mu.Lock()
	d.sealed = true
	d.mu.Unlock()
}

// Sealed reports whether the dataset stopped accepting rows.
func (d *Dataset) Sealed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sealed
}

// Results returns every row of the sealed dataset in the store's stable
// order. Before Seal it fails with ErrNotSealed, since the sweep could
// still append.
func (d *Dataset) Results(ctx context.Context) ([]models.RunResult, error) {
	if !d.Sealed() {
		return nil, ErrNotSealed
	}
	return d.store.List(ctx)
}

// Count reports the rows stored so far. Unlike Results it works during
// the sweep, for progress display.
func (d *Dataset) Count(ctx context.Context) (int, error) {
	return d.store.Count(ctx)
}

// Close releases the underlying store.
func (d *Dataset) Close() error {
	return d.store.Close()
}

// WriteCSV exports the sealed dataset: a fixed header, then one flattened
// row per run.
func (d *Dataset) WriteCSV(ctx context.Context, w io.Writer) error {
	results, err := d.Results(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, result := range results {
		if err := cw.Write(csvRow(result)); err != nil {
			return fmt.Errorf("write csv row %s: %w", result.RunID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	d.logger.Info("dataset exported", "rows", len(results))
	return nil
}

// csvHeader lays out the export columns: run identity, the flattened
// parameter set, then the outcome fields.
func csvHeader() []string {
	header := []string{"run_id", "scenario", "strategy", "sample_index", "seed"}
	for _, f := range (models.Params{}).Fields() {
		header = append(header, f.Key)
	}
	return append(header,
		"status",
		"success",
		"evacuation_ticks",
		"evacuation_time",
		"engine_seed",
		"failure_reason",
		"attempts",
		"ask_help_actions",
		"call_staff_actions",
		"started_at",
		"finished_at",
		"duration_seconds",
	)
}

func csvRow(result models.RunResult) []string {
	row := []string{
		result.RunID,
		result.Scenario,
		result.Strategy,
		strconv.Itoa(result.SampleIndex),
		strconv.FormatInt(result.Seed, 10),
	}
	for _, f := range result.Params.Fields() {
		row = append(row, f.Value)
	}

	// Metrics columns stay empty on failed runs rather than faking zeros.
	var success, ticks, evacTime, engineSeed string
	if result.Metrics != nil {
		success = strconv.FormatBool(result.Metrics.Success)
		ticks = strconv.Itoa(result.Metrics.EvacuationTicks)
		evacTime = strconv.FormatFloat(result.Metrics.EvacuationTime, 'g', -1, 64)
		engineSeed = strconv.FormatInt(result.Metrics.EngineSeed, 10)
	}

	askHelp, callStaff := 0, 0
	for _, a := range result.Actions {
		switch a {
		case models.ActionAskHelp:
			askHelp++
		case models.ActionCallStaff:
			callStaff++
		}
	}

	return append(row,
		string(result.Status),
		success,
		ticks,
		evacTime,
		engineSeed,
		result.FailureReason,
		strconv.Itoa(result.Attempts),
		strconv.Itoa(askHelp),
		strconv.Itoa(callStaff),
		result.StartedAt.UTC().Format(time.RFC3339),
		result.FinishedAt.UTC().Format(time.RFC3339),
		strconv.FormatFloat(result.Duration.Seconds(), 'g', -1, 64),
	)
}

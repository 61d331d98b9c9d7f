package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/evaclab/egress/pkg/models"
)

func newTestDataset() *Dataset {
	return New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestDataset_SealLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset()

	if err := d.Append(ctx, testResult("run-1", "no-support", 0)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := d.Results(ctx); !errors.Is(err, ErrNotSealed) {
		t.Errorf("Results before seal = %v, want ErrNotSealed", err)
	}

	// Count stays available for progress display during the sweep.
	if count, err := d.Count(ctx); err != nil || count != 1 {
		t.Errorf("Count = %d, %v, want 1, nil", count, err)
	}

	d.Seal()
	if !d.Sealed() {
		t.Error("Sealed() = false after Seal")
	}

	if err := d.Append(ctx, testResult("run-2", "no-support", 1)); !errors.Is(err, ErrSealed) {
		t.Errorf("Append after seal = %v, want ErrSealed", err)
	}

	rows, err := d.Results(ctx)
	if err != nil {
		t.Fatalf("Results after seal: %v", err)
	}
	if len(rows) != 1 || rows[0].RunID != "run-1" {
		t.Errorf("rows = %v, want the single pre-seal row", rows)
	}
}

func TestDataset_WriteCSV(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset()

	ok := testResult("no-support_0", "no-support", 0)
	if err := d.Append(ctx, ok); err != nil {
		t.Fatalf("Append: %v", err)
	}

	failed := testResult("staff-support_0", "staff-support", 0)
	failed.Status = models.RunStatusFailed
	failed.Metrics = nil
	failed.Actions = nil
	failed.FailureReason = "run timed out after 2m0s: context deadline exceeded"
	failed.Attempts = 2
	if err := d.Append(ctx, failed); err != nil {
		t.Fatalf("Append failed row: %v", err)
	}

	d.Seal()

	var buf bytes.Buffer
	if err := d.WriteCSV(ctx, &buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse exported csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want header plus two rows", len(records))
	}

	header := records[0]
	if len(header) != 27 {
		t.Fatalf("header has %d columns, want 27", len(header))
	}
	for i, want := range []string{"run_id", "scenario", "strategy", "sample_index", "seed", "num_of_robots"} {
		if header[i] != want {
			t.Errorf("header[%d] = %q, want %q", i, header[i], want)
		}
	}
	if header[14] != "robot_persuasion" || header[15] != "status" || header[26] != "duration_seconds" {
		t.Errorf("header tail = %v, want stable outcome columns", header[14:])
	}

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %q", name)
		return -1
	}

	okRow := records[1]
	if okRow[col("run_id")] != "no-support_0" {
		t.Errorf("first row = %q, want the no-support run (scenario order)", okRow[col("run_id")])
	}
	if okRow[col("success")] != "true" || okRow[col("evacuation_ticks")] != "381" {
		t.Errorf("metrics columns = %q/%q, want true/381", okRow[col("success")], okRow[col("evacuation_ticks")])
	}
	if okRow[col("ask_help_actions")] != "2" || okRow[col("call_staff_actions")] != "1" {
		t.Errorf("action counts = %q/%q, want 2/1", okRow[col("ask_help_actions")], okRow[col("call_staff_actions")])
	}
	if okRow[col("num_of_passengers")] != "800" {
		t.Errorf("num_of_passengers = %q, want 800", okRow[col("num_of_passengers")])
	}

	failedRow := records[2]
	if failedRow[col("status")] != "failed" || failedRow[col("attempts")] != "2" {
		t.Errorf("failed row status/attempts = %q/%q", failedRow[col("status")], failedRow[col("attempts")])
	}
	if failedRow[col("success")] != "" || failedRow[col("evacuation_ticks")] != "" {
		t.Error("failed row should leave metrics columns empty")
	}
	if failedRow[col("failure_reason")] != failed.FailureReason {
		t.Errorf("failure_reason = %q, want %q", failedRow[col("failure_reason")], failed.FailureReason)
	}
}

func TestDataset_WriteCSVBeforeSealFails(t *testing.T) {
	d := newTestDataset()
	var buf bytes.Buffer
	if err := d.WriteCSV(context.Background(), &buf); !errors.Is(err, ErrNotSealed) {
		t.Errorf("WriteCSV before seal = %v, want ErrNotSealed", err)
	}
}

func TestDataset_TimesExportedAsUTC(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset()

	loc := time.FixedZone("UTC+2", 2*60*60)
	r := testResult("no-support_0", "no-support", 0)
	r.StartedAt = time.Date(2026, 3, 14, 12, 0, 0, 0, loc)
	r.FinishedAt = r.StartedAt.Add(10 * time.Second)
	if err := d.Append(ctx, r); err != nil {
		t.Fatalf("Append: %v", err)
	}
	d.Seal()

	var buf bytes.Buffer
	if err := d.WriteCSV(ctx, &buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse exported csv: %v", err)
	}
	if got := records[1][25]; got != "2026-03-14T10:00:10Z" {
		t.Errorf("finished_at = %q, want normalized UTC stamp", got)
	}
}

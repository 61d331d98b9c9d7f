package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/evaclab/egress/pkg/models"
)

// ErrIncompleteEvacuation marks a run whose engine exited cleanly but
// whose evacuation never finished within the tick limit. Treated as an
// ordinary, retryable run failure.
var ErrIncompleteEvacuation = errors.New("evacuation did not complete")

// ExecConfig configures the subprocess launcher.
type ExecConfig struct {
	// Binary is the engine launcher executable.
	Binary string

	// Args are fixed arguments placed before the per-run flags, for
	// example the model path.
	Args []string

	// CallbackURL is the decision server base URL handed to the engine.
	CallbackURL string

	// WorkDir, when set, is the working directory for engine processes.
	WorkDir string

	Logger *slog.Logger
}

// ExecRunner launches one engine process per run attempt and parses the
// metrics payload the process prints on stdout. Engine logs belong on
// stderr; stdout carries only the payload.
type ExecRunner struct {
	config ExecConfig
	logger *slog.Logger
}

// NewExecRunner creates a subprocess-backed runner.
func NewExecRunner(cfg ExecConfig) (*ExecRunner, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("engine binary is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "engine")
	}
	return &ExecRunner{config: cfg, logger: logger}, nil
}

// Run launches the engine for one attempt. The process is killed when
// ctx expires; a cleanly-exited process that reports an unfinished
// evacuation fails with ErrIncompleteEvacuation so the scheduler retries
// it like any other run failure.
func (r *ExecRunner) Run(ctx context.Context, spec models.RunSpec) (*models.Metrics, error) {
	args := r.buildArgs(spec)

	cmd := exec.CommandContext(ctx, r.config.Binary, args...)
	cmd.Dir = r.config.WorkDir
	// A killed launcher can leave children holding the output pipes;
	// don't let them stall the slot past the deadline.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("launching engine",
		"run_id", spec.ID,
		"binary", r.config.Binary,
		"seed", spec.Seed,
	)

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		// The kill raced the exit; the deadline is the real outcome.
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("engine exited: %w%s", err, stderrTail(stderr.Bytes()))
	}

	metrics, err := parseMetrics(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("engine metrics for %s: %w", spec.ID, err)
	}
	if !metrics.Success {
		return nil, ErrIncompleteEvacuation
	}
	return metrics, nil
}

// buildArgs assembles the engine command line for one run.
func (r *ExecRunner) buildArgs(spec models.RunSpec) []string {
	args := append([]string(nil), r.config.Args...)
	args = append(args,
		"--run-id", spec.ID,
		"--seed", strconv.FormatInt(spec.Seed, 10),
	)
	if r.config.CallbackURL != "" {
		args = append(args, "--callback", r.config.CallbackURL)
	}
	for _, field := range spec.Params.Fields() {
		args = append(args, "--param", field.Key+"="+field.Value)
	}
	if spec.CaptureVideo {
		args = append(args, "--video")
	}
	return args
}

// parseMetrics decodes the payload the engine printed. A malformed
// payload from a zero-exit process is an aggregation failure, recorded
// against the run rather than the sweep.
func parseMetrics(stdout []byte) (*models.Metrics, error) {
	payload := bytes.TrimSpace(stdout)
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty metrics payload")
	}

	var metrics models.Metrics
	if err := json.Unmarshal(payload, &metrics); err != nil {
		return nil, fmt.Errorf("malformed metrics payload: %w", err)
	}
	return &metrics, nil
}

// stderrTail formats the last lines of engine stderr for an error
// message, trimmed so a chatty engine cannot flood the logs.
func stderrTail(stderr []byte) string {
	text := strings.TrimSpace(string(stderr))
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return " (stderr: " + strings.Join(lines, " / ") + ")"
}

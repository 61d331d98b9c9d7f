// Package scenario expands a sweep configuration into the concrete list of
// runs to execute. Expansion is deterministic for a given configuration
// and base seed, so a sweep can be re-run bit-for-bit.
package scenario

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/evaclab/egress/internal/config"
	"github.com/evaclab/egress/pkg/models"
)

// DefaultNumOfSamples is the repetition count per variant when a sweep
// does not set num_of_samples.
const DefaultNumOfSamples = 30

// Expander turns scenario definitions into RunSpecs.
type Expander struct {
	logger *slog.Logger
	rng    *rand.Rand
}

// ExpanderConfig holds the expander dependencies.
type ExpanderConfig struct {
	// Logger for expansion decisions. Defaults to slog.Default.
	Logger *slog.Logger

	// Rand drives random video selection. Nil seeds from the current
	// time; tests inject a fixed source.
	Rand *rand.Rand
}

// NewExpander creates an expander, applying defaults for unset
// dependencies.
func NewExpander(cfg ExpanderConfig) *Expander {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "expander")
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Expander{logger: logger, rng: rng}
}

// Expand produces one RunSpec per sample of every variant of every enabled
// scenario, then applies the sweep's video selection across the full list.
// Any configuration problem fails the whole expansion before a single run
// is scheduled.
func (e *Expander) Expand(cfg *config.Config) ([]models.RunSpec, error) {
	seen := make(map[string]bool)
	var specs []models.RunSpec
	enabled := 0

	for _, sc := range cfg.Scenarios {
		if !sc.IsEnabled() {
			e.logger.Debug("skipping disabled scenario", "scenario", sc.Name)
			continue
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("duplicate scenario name %q", sc.Name)
		}
		seen[sc.Name] = true
		enabled++

		scenarioSpecs, err := e.expandScenario(cfg.Defaults, sc)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		specs = append(specs, scenarioSpecs...)
	}

	if enabled == 0 {
		return nil, fmt.Errorf("no enabled scenarios")
	}

	if err := e.markVideo(cfg.Video, specs); err != nil {
		return nil, err
	}

	e.logger.Info("expanded sweep",
		"scenarios", enabled,
		"runs", len(specs),
	)
	return specs, nil
}

// expandScenario merges defaults with the scenario's overrides, takes the
// cartesian product of every multi-valued parameter, and emits the
// per-sample RunSpecs of each resulting variant.
func (e *Expander) expandScenario(defaults config.ParamSet, sc config.ScenarioConfig) ([]models.RunSpec, error) {
	merged := defaults.Merge(sc.Params)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	samples := DefaultNumOfSamples
	if value, ok := metaValue(merged, config.KeyNumOfSamples); ok {
		n, err := asInt(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.KeyNumOfSamples, err)
		}
		samples = n
	}
	if samples <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", config.KeyNumOfSamples, samples)
	}

	var baseSeed int64
	if value, ok := metaValue(merged, config.KeySeed); ok {
		seed, err := asInt64(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.KeySeed, err)
		}
		baseSeed = seed
	}

	captureAll := false
	if value, ok := metaValue(merged, config.KeyEnableVideo); ok {
		enable, err := asBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.KeyEnableVideo, err)
		}
		captureAll = enable
	}

	base := models.DefaultParams()
	var multiKeys []string
	for key, value := range merged {
		if key == config.KeySeed || key == config.KeyNumOfSamples || key == config.KeyEnableVideo {
			continue
		}
		if value.Multi() {
			multiKeys = append(multiKeys, key)
			continue
		}
		scalar, _ := value.Single()
		if err := applyParam(&base, key, scalar); err != nil {
			return nil, err
		}
	}
	// Sorted so variant order does not depend on map iteration.
	sort.Strings(multiKeys)

	valueSets := make([][]any, len(multiKeys))
	for i, key := range multiKeys {
		values, err := merged[key].Values()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		valueSets[i] = values
	}

	var specs []models.RunSpec
	for _, combo := range cartesian(valueSets) {
		params := base
		for i, key := range multiKeys {
			if err := applyParam(&params, key, combo[i]); err != nil {
				return nil, err
			}
		}

		variant := variantName(sc.Name, multiKeys, combo)
		for i := 0; i < samples; i++ {
			specs = append(specs, models.RunSpec{
				ID:           fmt.Sprintf("%s_%d", variant, i),
				Scenario:     variant,
				Strategy:     sc.Strategy,
				SampleIndex:  i,
				Seed:         DeriveSeed(baseSeed, i),
				Params:       params,
				CaptureVideo: captureAll,
			})
		}
	}
	return specs, nil
}

// markVideo applies the sweep-level video selection across the expanded
// list. Per-scenario enable_video marks are already set and stay set.
func (e *Expander) markVideo(video config.VideoConfig, specs []models.RunSpec) error {
	switch video.Mode {
	case "", config.VideoModeNone:
		return nil

	case config.VideoModeAll:
		for i := range specs {
			specs[i].CaptureVideo = true
		}
		return nil

	case config.VideoModeRandom:
		n := video.Count
		if n <= 0 {
			return nil
		}
		if n >= len(specs) {
			for i := range specs {
				specs[i].CaptureVideo = true
			}
			return nil
		}
		for _, idx := range e.rng.Perm(len(specs))[:n] {
			specs[idx].CaptureVideo = true
		}
		return nil

	case config.VideoModeIndices:
		for _, idx := range video.Indices {
			if idx < 0 || idx >= len(specs) {
				return fmt.Errorf("video index %d out of range (%d runs)", idx, len(specs))
			}
			specs[idx].CaptureVideo = true
		}
		return nil

	default:
		return fmt.Errorf("unknown video mode %q", video.Mode)
	}
}

// metaValue fetches a scalar meta parameter from the merged set.
func metaValue(set config.ParamSet, key string) (any, bool) {
	value, ok := set[key]
	if !ok {
		return nil, false
	}
	scalar, ok := value.Single()
	return scalar, ok
}

// cartesian returns every combination of one value per set, with the last
// set varying fastest.
func cartesian(valueSets [][]any) [][]any {
	combos := [][]any{{}}
	for _, values := range valueSets {
		next := make([][]any, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, value := range values {
				extended := make([]any, len(combo)+1)
				copy(extended, combo)
				extended[len(combo)] = value
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}

// variantName derives the expanded scenario name for one parameter
// combination, e.g. "staff-support-fall-chance=0.65". Underscores become
// hyphens so run ids keep "_" as the sample separator.
func variantName(base string, keys []string, values []any) string {
	if len(keys) == 0 {
		return base
	}
	parts := make([]string, 0, len(keys))
	for i, key := range keys {
		part := strings.ReplaceAll(key, "_", "-") + "=" + formatValue(values[i])
		parts = append(parts, part)
	}
	return base + "-" + strings.Join(parts, "-")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.ReplaceAll(fmt.Sprintf("%v", v), "_", "-")
	}
}

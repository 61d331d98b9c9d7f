package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root sweep configuration: how to launch the engine, how to
// schedule runs, where the decision gateway listens, where results land,
// and the scenario grid to expand.
type Config struct {
	// Version is the configuration file format version.
	Version int `yaml:"version"`

	Engine        EngineConfig        `yaml:"engine"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Decision      DecisionConfig      `yaml:"decision"`
	Output        OutputConfig        `yaml:"output"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Defaults are the engine parameters applied to every scenario unless
	// overridden.
	Defaults ParamSet `yaml:"defaults"`

	// Video selects which expanded runs capture a recording.
	Video VideoConfig `yaml:"video"`

	// Scenarios is the list of named scenarios to expand and execute.
	Scenarios []ScenarioConfig `yaml:"scenarios"`
}

// EngineConfig describes how to launch the simulation engine.
type EngineConfig struct {
	// Binary is the path to the engine launcher executable.
	Binary string `yaml:"binary"`

	// Args are extra arguments placed before the generated ones.
	Args []string `yaml:"args"`

	// WorkDir is the working directory for engine processes.
	WorkDir string `yaml:"workdir"`
}

// Duration is a time.Duration that unmarshals from the usual Go duration
// syntax, so sweep files can say "2m" instead of an integer nanosecond
// count.
type Duration time.Duration

// UnmarshalYAML accepts a duration string such as "90s", or an integer
// nanosecond count.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var value any
	if err := node.Decode(&value); err != nil {
		return err
	}
	switch v := value.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration %v (%T)", value, value)
	}
	return nil
}

// String formats the duration in Go's duration syntax.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// SchedulerConfig bounds run execution.
type SchedulerConfig struct {
	// MaxConcurrency caps simultaneously running engines. Zero means one
	// per available CPU.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RunTimeout is the wall-clock limit for a single engine attempt.
	RunTimeout Duration `yaml:"run_timeout"`

	// RetryLimit is the number of relaunches after a failed attempt, so a
	// run is attempted at most RetryLimit+1 times. Explicit zero disables
	// retries.
	RetryLimit *int `yaml:"retry_limit"`

	// RetryDelay is the pause before relaunching a failed run.
	RetryDelay Duration `yaml:"retry_delay"`
}

// DecisionConfig configures the decision gateway the engines call back to.
type DecisionConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// OutputConfig selects where the sweep dataset is stored and exported.
type OutputConfig struct {
	// Store selects the dataset backend: "memory", "sqlite" or "postgres".
	Store string `yaml:"store"`

	// SQLitePath is the database file used when Store is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string used when Store is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`

	// CSVPath is where the flattened dataset is written after the sweep.
	// Empty disables the CSV export.
	CSVPath string `yaml:"csv_path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing and other observability features.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Video selection modes.
const (
	VideoModeNone    = "none"
	VideoModeAll     = "all"
	VideoModeRandom  = "random"
	VideoModeIndices = "indices"
)

// VideoConfig selects which runs of the expanded sweep capture video.
type VideoConfig struct {
	// Mode is one of "none", "all", "random" or "indices". When empty it
	// is inferred from Count and Indices.
	Mode string `yaml:"mode"`

	// Count is the number of runs to pick uniformly at random when Mode
	// is "random".
	Count int `yaml:"count"`

	// Indices are the positions in the expanded run list to mark when
	// Mode is "indices".
	Indices []int `yaml:"indices"`
}

// normalize infers the mode from the populated fields.
func (v *VideoConfig) normalize() {
	if v.Mode != "" {
		return
	}
	switch {
	case len(v.Indices) > 0:
		v.Mode = VideoModeIndices
	case v.Count > 0:
		v.Mode = VideoModeRandom
	default:
		v.Mode = VideoModeNone
	}
}

// Validate checks the video selection for contradictions.
func (v VideoConfig) Validate() error {
	switch v.Mode {
	case VideoModeNone, VideoModeAll:
	case VideoModeRandom:
		if v.Count < 0 {
			return fmt.Errorf("video count must not be negative, got %d", v.Count)
		}
	case VideoModeIndices:
		for _, idx := range v.Indices {
			if idx < 0 {
				return fmt.Errorf("video index must not be negative, got %d", idx)
			}
		}
	default:
		return fmt.Errorf("unknown video mode %q", v.Mode)
	}
	return nil
}

// ScenarioConfig is one named scenario of the sweep.
type ScenarioConfig struct {
	// Name identifies the scenario. Expanded variants derive their names
	// from it.
	Name string `yaml:"name"`

	// Description is free-form documentation carried into logs.
	Description string `yaml:"description"`

	// Enabled defaults to true; disabled scenarios are skipped entirely.
	Enabled *bool `yaml:"enabled"`

	// Strategy names the adaptation strategy for the scenario's robots.
	// Empty means the scenario deploys no decision-making robots.
	Strategy string `yaml:"strategy"`

	// Params override the sweep defaults for this scenario.
	Params ParamSet `yaml:"params"`
}

// IsEnabled reports whether the scenario should be expanded.
func (s ScenarioConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// applyDefaults fills unset fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Scheduler.RunTimeout == 0 {
		cfg.Scheduler.RunTimeout = Duration(2 * time.Minute)
	}
	if cfg.Scheduler.RetryLimit == nil {
		limit := 1
		cfg.Scheduler.RetryLimit = &limit
	}
	if cfg.Decision.Host == "" {
		cfg.Decision.Host = "127.0.0.1"
	}
	if cfg.Decision.Port == 0 {
		cfg.Decision.Port = 5000
	}
	if cfg.Output.Store == "" {
		cfg.Output.Store = StoreMemory
	}
	if cfg.Output.Store == StoreSQLite && cfg.Output.SQLitePath == "" {
		cfg.Output.SQLitePath = "results.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "egress"
	}
	cfg.Video.normalize()
}

// Dataset store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Validate checks the configuration for errors that should stop a sweep
// before anything is scheduled.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrency < 0 {
		return fmt.Errorf("scheduler max_concurrency must not be negative, got %d", c.Scheduler.MaxConcurrency)
	}
	if c.Scheduler.RunTimeout < 0 {
		return fmt.Errorf("scheduler run_timeout must not be negative, got %s", c.Scheduler.RunTimeout)
	}
	if c.Scheduler.RetryLimit != nil && *c.Scheduler.RetryLimit < 0 {
		return fmt.Errorf("scheduler retry_limit must not be negative, got %d", *c.Scheduler.RetryLimit)
	}
	if c.Scheduler.RetryDelay < 0 {
		return fmt.Errorf("scheduler retry_delay must not be negative, got %s", c.Scheduler.RetryDelay)
	}

	switch c.Output.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Output.PostgresDSN == "" {
			return fmt.Errorf("output postgres_dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown output store %q", c.Output.Store)
	}

	if err := c.Video.Validate(); err != nil {
		return err
	}

	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}

	if len(c.Scenarios) == 0 {
		return fmt.Errorf("no scenarios defined")
	}
	for i, scenario := range c.Scenarios {
		if scenario.Name == "" {
			return fmt.Errorf("scenario %d has no name", i)
		}
		if err := scenario.Params.Validate(); err != nil {
			return fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}
	}

	return nil
}

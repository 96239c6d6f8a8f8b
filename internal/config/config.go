// Package config loads the engine's runtime configuration from environment
// variables, an optional YAML file, and explicit overrides, tracking where
// each value came from. It mirrors the teacher's internal/config package:
// layered precedence (override > env > file > default) plus a provenance
// map for diagnostics.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ValueSource records where a configuration value was ultimately set from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

const (
	DefaultCycleInterval   = 15 * time.Minute
	DefaultMaxCyclesPerRun = 0 // unbounded
	DefaultDailyCostCapUSD = 5.0
	DefaultSonnetCostCapUSD = 2.0
	DefaultQuietHoursStart = 22
	DefaultQuietHoursEnd   = 8
	DefaultMaxConcurrentEffects = 4
	DefaultToolLoopRounds  = 5
	DefaultStateDir        = "~/.agentloop"
)

// EngineConfig is the engine-wide runtime configuration, the spec's
// supervisor/router/session tuning knobs collected in one place (the
// analogue of the teacher's RuntimeConfig).
type EngineConfig struct {
	StateDir   string `yaml:"state_dir"`
	CycleCron  string `yaml:"cycle_cron"` // empty means fixed-interval self-reschedule
	CycleInterval time.Duration `yaml:"cycle_interval"`
	MaxCyclesPerRun int `yaml:"max_cycles_per_run"`

	DailyCostCapUSD   float64 `yaml:"daily_cost_cap_usd"`
	SonnetCostCapUSD  float64 `yaml:"sonnet_cost_cap_usd"`

	QuietHoursStart int `yaml:"quiet_hours_start"`
	QuietHoursEnd   int `yaml:"quiet_hours_end"`

	MaxConcurrentEffects int `yaml:"max_concurrent_effects"`
	ToolLoopMaxRounds    int `yaml:"tool_loop_max_rounds"`

	Backends []BackendConfig `yaml:"backends"`

	Verbose bool `yaml:"verbose"`
}

// BackendConfig describes one LLM backend discovered via the LLM_<NAME>_*
// environment convention or a file's backends: list.
type BackendConfig struct {
	Name    string `yaml:"name"`
	Tier    string `yaml:"tier"` // paid | free | local
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// Metadata carries provenance for every field actually set, so diagnostics
// (and tests) can assert where a value came from.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

func (m Metadata) Sources() map[string]ValueSource {
	out := make(map[string]ValueSource, len(m.sources))
	for k, v := range m.sources {
		out[k] = v
	}
	return out
}

func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// EnvLookup abstracts os.LookupEnv so tests can inject a fake environment.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup reads from the real process environment.
func DefaultEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

// FileReader abstracts os.ReadFile for tests.
type FileReader func(path string) ([]byte, error)

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup EnvLookup
	readFile  FileReader
	filePath  string
	overrides Overrides
}

// WithEnvLookup injects a fake environment (used by tests).
func WithEnvLookup(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader injects a fake file reader (used by tests).
func WithFileReader(reader FileReader) Option {
	return func(o *loadOptions) { o.readFile = reader }
}

// WithFilePath points Load at a YAML config file. Missing files are not an
// error; the layer is simply skipped.
func WithFilePath(path string) Option {
	return func(o *loadOptions) { o.filePath = path }
}

// WithOverrides applies caller-supplied values with the highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) { o.overrides = overrides }
}

// Overrides conveys caller-specified values that win over env/file sources,
// mirroring the teacher's pointer-field Overrides struct so "unset" is
// distinguishable from "set to the zero value".
type Overrides struct {
	StateDir        *string
	CycleCron       *string
	CycleInterval   *time.Duration
	DailyCostCapUSD *float64
}

// Load builds an EngineConfig from defaults, an optional YAML file, the
// process environment (AGENTLOOP_* and LLM_<NAME>_* prefixes), and explicit
// overrides, in that ascending precedence order.
func Load(opts ...Option) (EngineConfig, Metadata, error) {
	options := loadOptions{envLookup: DefaultEnvLookup, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := EngineConfig{
		StateDir:             DefaultStateDir,
		CycleInterval:        DefaultCycleInterval,
		MaxCyclesPerRun:      DefaultMaxCyclesPerRun,
		DailyCostCapUSD:      DefaultDailyCostCapUSD,
		SonnetCostCapUSD:     DefaultSonnetCostCapUSD,
		QuietHoursStart:      DefaultQuietHoursStart,
		QuietHoursEnd:        DefaultQuietHoursEnd,
		MaxConcurrentEffects: DefaultMaxConcurrentEffects,
		ToolLoopMaxRounds:    DefaultToolLoopRounds,
	}
	for _, field := range []string{"state_dir", "cycle_interval", "max_cycles_per_run", "daily_cost_cap_usd",
		"sonnet_cost_cap_usd", "quiet_hours_start", "quiet_hours_end", "max_concurrent_effects", "tool_loop_max_rounds"} {
		meta.sources[field] = SourceDefault
	}

	if options.filePath != "" {
		if err := applyFile(&cfg, &meta, options); err != nil {
			return EngineConfig{}, Metadata{}, err
		}
	}

	applyEnv(&cfg, &meta, options.envLookup)
	cfg.Backends = discoverBackends(options.envLookup, cfg.Backends)
	applyOverrides(&cfg, &meta, options.overrides)

	if err := Validate(cfg); err != nil {
		return EngineConfig{}, Metadata{}, err
	}
	return cfg, meta, nil
}

func applyEnv(cfg *EngineConfig, meta *Metadata, lookup EnvLookup) {
	str := func(field, env string, dst *string) {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
			meta.sources[field] = SourceEnv
		}
	}
	dur := func(field, env string, dst *time.Duration) {
		if v, ok := lookup(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
				meta.sources[field] = SourceEnv
			}
		}
	}
	integer := func(field, env string, dst *int) {
		if v, ok := lookup(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				meta.sources[field] = SourceEnv
			}
		}
	}
	fl := func(field, env string, dst *float64) {
		if v, ok := lookup(env); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
				meta.sources[field] = SourceEnv
			}
		}
	}
	boolean := func(field, env string, dst *bool) {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v == "1" || strings.EqualFold(v, "true")
			meta.sources[field] = SourceEnv
		}
	}

	str("state_dir", "AGENTLOOP_STATE_DIR", &cfg.StateDir)
	str("cycle_cron", "AGENTLOOP_CYCLE_CRON", &cfg.CycleCron)
	dur("cycle_interval", "AGENTLOOP_CYCLE_INTERVAL", &cfg.CycleInterval)
	integer("max_cycles_per_run", "AGENTLOOP_MAX_CYCLES_PER_RUN", &cfg.MaxCyclesPerRun)
	fl("daily_cost_cap_usd", "AGENTLOOP_DAILY_COST_CAP_USD", &cfg.DailyCostCapUSD)
	fl("sonnet_cost_cap_usd", "AGENTLOOP_SONNET_COST_CAP_USD", &cfg.SonnetCostCapUSD)
	integer("quiet_hours_start", "AGENTLOOP_QUIET_HOURS_START", &cfg.QuietHoursStart)
	integer("quiet_hours_end", "AGENTLOOP_QUIET_HOURS_END", &cfg.QuietHoursEnd)
	integer("max_concurrent_effects", "AGENTLOOP_MAX_CONCURRENT_EFFECTS", &cfg.MaxConcurrentEffects)
	integer("tool_loop_max_rounds", "AGENTLOOP_TOOL_LOOP_MAX_ROUNDS", &cfg.ToolLoopMaxRounds)
	boolean("verbose", "AGENTLOOP_VERBOSE", &cfg.Verbose)
}

func applyOverrides(cfg *EngineConfig, meta *Metadata, o Overrides) {
	if o.StateDir != nil {
		cfg.StateDir = *o.StateDir
		meta.sources["state_dir"] = SourceOverride
	}
	if o.CycleCron != nil {
		cfg.CycleCron = *o.CycleCron
		meta.sources["cycle_cron"] = SourceOverride
	}
	if o.CycleInterval != nil {
		cfg.CycleInterval = *o.CycleInterval
		meta.sources["cycle_interval"] = SourceOverride
	}
	if o.DailyCostCapUSD != nil {
		cfg.DailyCostCapUSD = *o.DailyCostCapUSD
		meta.sources["daily_cost_cap_usd"] = SourceOverride
	}
}

// Validate rejects configurations the supervisor cannot run with.
func Validate(cfg EngineConfig) error {
	if cfg.CycleInterval <= 0 && cfg.CycleCron == "" {
		return fmt.Errorf("config: either cycle_interval or cycle_cron must be set")
	}
	if cfg.QuietHoursStart < 0 || cfg.QuietHoursStart > 23 || cfg.QuietHoursEnd < 0 || cfg.QuietHoursEnd > 23 {
		return fmt.Errorf("config: quiet hours must be in [0,23]")
	}
	if cfg.MaxConcurrentEffects <= 0 {
		return fmt.Errorf("config: max_concurrent_effects must be positive")
	}
	return nil
}

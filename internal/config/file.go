package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// applyFile merges a YAML config file into cfg, the way the teacher's file
// layer merges on top of defaults before env/overrides run. A missing file
// is not an error; it is simply skipped. Parsed directly with yaml.v3 rather
// than routed through viper: there is exactly one file shape and no need for
// viper's multi-format/remote-provider machinery here (cmd/agentloop still
// uses viper for config-*path* discovery, a different concern).
func applyFile(cfg *EngineConfig, meta *Metadata, options loadOptions) error {
	data, err := options.readFile(options.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read file %s: %w", options.filePath, err)
	}

	type fileShape struct {
		StateDir             string          `yaml:"state_dir"`
		CycleCron            string          `yaml:"cycle_cron"`
		CycleInterval        string          `yaml:"cycle_interval"`
		MaxCyclesPerRun      int             `yaml:"max_cycles_per_run"`
		DailyCostCapUSD      float64         `yaml:"daily_cost_cap_usd"`
		SonnetCostCapUSD     float64         `yaml:"sonnet_cost_cap_usd"`
		QuietHoursStart      int             `yaml:"quiet_hours_start"`
		QuietHoursEnd        int             `yaml:"quiet_hours_end"`
		MaxConcurrentEffects int             `yaml:"max_concurrent_effects"`
		ToolLoopMaxRounds    int             `yaml:"tool_loop_max_rounds"`
		Verbose              bool            `yaml:"verbose"`
		Backends             []BackendConfig `yaml:"backends"`
	}
	var parsed fileShape
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse file %s: %w", options.filePath, err)
	}

	setIfPresent := func(field string, present bool) {
		if present {
			meta.sources[field] = SourceFile
		}
	}
	if parsed.StateDir != "" {
		cfg.StateDir = parsed.StateDir
		setIfPresent("state_dir", true)
	}
	if parsed.CycleCron != "" {
		cfg.CycleCron = parsed.CycleCron
		setIfPresent("cycle_cron", true)
	}
	if parsed.CycleInterval != "" {
		if d, perr := time.ParseDuration(parsed.CycleInterval); perr == nil {
			cfg.CycleInterval = d
			setIfPresent("cycle_interval", true)
		}
	}
	if parsed.MaxCyclesPerRun != 0 {
		cfg.MaxCyclesPerRun = parsed.MaxCyclesPerRun
		setIfPresent("max_cycles_per_run", true)
	}
	if parsed.DailyCostCapUSD != 0 {
		cfg.DailyCostCapUSD = parsed.DailyCostCapUSD
		setIfPresent("daily_cost_cap_usd", true)
	}
	if parsed.SonnetCostCapUSD != 0 {
		cfg.SonnetCostCapUSD = parsed.SonnetCostCapUSD
		setIfPresent("sonnet_cost_cap_usd", true)
	}
	if parsed.QuietHoursStart != 0 {
		cfg.QuietHoursStart = parsed.QuietHoursStart
		setIfPresent("quiet_hours_start", true)
	}
	if parsed.QuietHoursEnd != 0 {
		cfg.QuietHoursEnd = parsed.QuietHoursEnd
		setIfPresent("quiet_hours_end", true)
	}
	if parsed.MaxConcurrentEffects != 0 {
		cfg.MaxConcurrentEffects = parsed.MaxConcurrentEffects
		setIfPresent("max_concurrent_effects", true)
	}
	if parsed.ToolLoopMaxRounds != 0 {
		cfg.ToolLoopMaxRounds = parsed.ToolLoopMaxRounds
		setIfPresent("tool_loop_max_rounds", true)
	}
	cfg.Verbose = parsed.Verbose
	if len(parsed.Backends) > 0 {
		cfg.Backends = append(cfg.Backends, parsed.Backends...)
		setIfPresent("backends", true)
	}
	return nil
}

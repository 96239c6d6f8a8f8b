package config

import (
	"os"
	"strings"
)

// discoverBackends scans the process environment for the LLM_<NAME>_ENABLED
// / _BASE_URL / _MODEL / _API_KEY / _TIER convention (spec.md §6 external
// interfaces) and merges discovered backends on top of any file-configured
// ones; on a name collision the environment values overwrite the matching
// fields of the file entry.
func discoverBackends(lookup EnvLookup, fromFile []BackendConfig) []BackendConfig {
	byName := make(map[string]*BackendConfig, len(fromFile))
	order := make([]string, 0, len(fromFile))
	for i := range fromFile {
		name := fromFile[i].Name
		byName[name] = &fromFile[i]
		order = append(order, name)
	}

	for _, entry := range os.Environ() {
		key, _, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, "LLM_") {
			continue
		}
		name, field, ok := splitBackendEnvKey(key)
		if !ok {
			continue
		}
		if _, exists := byName[name]; !exists {
			byName[name] = &BackendConfig{Name: name, Tier: "free"}
			order = append(order, name)
		}
		val, _ := lookup(key)
		b := byName[name]
		switch field {
		case "ENABLED":
			b.Enabled = val == "1" || strings.EqualFold(val, "true")
		case "BASE_URL":
			b.BaseURL = val
		case "MODEL":
			b.Model = val
		case "API_KEY":
			b.APIKey = val
		case "TIER":
			b.Tier = strings.ToLower(val)
		}
	}

	out := make([]BackendConfig, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

// splitBackendEnvKey splits "LLM_CLAUDE_BASE_URL" into ("CLAUDE", "BASE_URL").
// It recognizes the fixed suffix set the spec defines; any other LLM_*
// variable (e.g. a bare LLM_PROVIDER alias) is not a backend declaration.
func splitBackendEnvKey(key string) (name string, field string, ok bool) {
	rest := strings.TrimPrefix(key, "LLM_")
	for _, suffix := range []string{"_ENABLED", "_BASE_URL", "_MODEL", "_API_KEY", "_TIER"} {
		if strings.HasSuffix(rest, suffix) {
			name = strings.TrimSuffix(rest, suffix)
			if name == "" {
				return "", "", false
			}
			return name, strings.TrimPrefix(suffix, "_"), true
		}
	}
	return "", "", false
}

package config

import "slices"

// Resolve returns the module IDs from the configuration, sorted so modules
// always load in the same order.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

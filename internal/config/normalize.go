package config

import "strings"

// normalizeConfig normalizes configuration values.
func normalizeConfig(c *Config) {
	// Normalize log level to lowercase
	c.Log.Level = strings.ToLower(c.Log.Level)

	// Normalize kvstore backend to lowercase
	c.KVStore.Backend = strings.ToLower(strings.TrimSpace(c.KVStore.Backend))

	// Keep the trim chunk above the floor so quota loops make progress
	if c.Logs.TrimChunkLines < 1000 {
		c.Logs.TrimChunkLines = 1000
	}
}

package config

import "github.com/spf13/viper"

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":9093")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")

	// Storage defaults
	v.SetDefault("storage.path", "watchpost.db")
	v.SetDefault("storage.max_open_conns", 32)
	v.SetDefault("storage.max_idle_conns", 8)
	v.SetDefault("storage.conn_max_lifetime", "1h")

	// Log retention defaults; zero means unlimited at that scope
	v.SetDefault("logs.default_max_lines", 0)
	v.SetDefault("logs.default_max_bytes", 0)
	v.SetDefault("logs.default_quota_bytes", 0)
	v.SetDefault("logs.trim_chunk_lines", 10000)
	v.SetDefault("logs.query_rate_per_second", 5)

	// Stats defaults
	v.SetDefault("stats.cache_ttl_seconds", 60)

	// Alert defaults
	v.SetDefault("alert.smtp.port", 587)
	v.SetDefault("alert.smtp.starttls", true)
	v.SetDefault("alert.webhook_timeout", "5s")

	// KV store defaults
	v.SetDefault("kvstore.backend", "memory")
	v.SetDefault("kvstore.redis.addr", "localhost:6379")
	v.SetDefault("kvstore.redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

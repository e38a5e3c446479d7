package config

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	validLogLevels = []string{"debug", "info", "warn", "error", "fatal", "panic"}
	validBackends  = []string{"memory", "redis"}
)

// validateConfig validates the configuration and returns an error if invalid.
func validateConfig(c *Config) error {
	for _, validate := range []func() error{
		func() error { return validateServerConfig(c.Server) },
		func() error { return validateStorageConfig(c.Storage) },
		func() error { return validateLogsConfig(c.Logs) },
		func() error { return validateStatsConfig(c.Stats) },
		func() error { return validateAlertConfig(c.Alert) },
		func() error { return validateKVStoreConfig(c.KVStore) },
		func() error { return validateLogConfig(c.Log) },
	} {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateServerConfig validates server configuration.
func validateServerConfig(s ServerConfig) error {
	if s.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	// Validate address format
	host, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("server.addr invalid format: %w", err)
	}

	// Validate port range
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("server.addr invalid port: %w", err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("server.addr port out of range (1-65535)")
		}
	}

	// Validate host if specified
	if host != "" && host != "0.0.0.0" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil {
			if _, err := net.LookupHost(host); err != nil {
				return fmt.Errorf("server.addr invalid host: %s", host)
			}
		}
	}

	// Validate timeouts
	if s.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be greater than 0")
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be greater than 0")
	}
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("server.idle_timeout must be greater than 0")
	}

	if s.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("server.read_timeout too large (max 5m)")
	}
	if s.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("server.write_timeout too large (max 5m)")
	}
	if s.IdleTimeout > 30*time.Minute {
		return fmt.Errorf("server.idle_timeout too large (max 30m)")
	}

	if s.ReadTimeout < time.Second {
		return fmt.Errorf("server.read_timeout too small (min 1s)")
	}
	if s.WriteTimeout < time.Second {
		return fmt.Errorf("server.write_timeout too small (min 1s)")
	}

	return nil
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(s StorageConfig) error {
	if s.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}

	if strings.Contains(s.Path, "..") {
		return fmt.Errorf("storage.path cannot contain '..' for security")
	}

	if s.MaxOpenConns <= 0 {
		return fmt.Errorf("storage.max_open_conns must be greater than 0")
	}
	if s.MaxIdleConns < 0 {
		return fmt.Errorf("storage.max_idle_conns cannot be negative")
	}
	if s.MaxIdleConns > s.MaxOpenConns {
		return fmt.Errorf("storage.max_idle_conns cannot be greater than max_open_conns")
	}
	if s.ConnMaxLifetime <= 0 {
		return fmt.Errorf("storage.conn_max_lifetime must be greater than 0")
	}

	if s.MaxOpenConns > 1000 {
		return fmt.Errorf("storage.max_open_conns too large (max 1000)")
	}
	if s.ConnMaxLifetime > 24*time.Hour {
		return fmt.Errorf("storage.conn_max_lifetime too large (max 24h)")
	}
	if s.ConnMaxLifetime < time.Minute {
		return fmt.Errorf("storage.conn_max_lifetime too small (min 1m)")
	}

	return nil
}

// validateLogsConfig validates crawler log retention configuration.
func validateLogsConfig(l LogsConfig) error {
	if l.DefaultMaxLines < 0 {
		return fmt.Errorf("logs.default_max_lines cannot be negative")
	}
	if l.DefaultMaxBytes < 0 {
		return fmt.Errorf("logs.default_max_bytes cannot be negative")
	}
	if l.DefaultQuotaBytes < 0 {
		return fmt.Errorf("logs.default_quota_bytes cannot be negative")
	}
	if l.TrimChunkLines < 1000 {
		return fmt.Errorf("logs.trim_chunk_lines too small (min 1000)")
	}
	if l.QueryRatePerSecond <= 0 {
		return fmt.Errorf("logs.query_rate_per_second must be greater than 0")
	}
	if l.QueryRatePerSecond > 1000 {
		return fmt.Errorf("logs.query_rate_per_second too large (max 1000)")
	}
	return nil
}

// validateStatsConfig validates stats configuration.
func validateStatsConfig(s StatsConfig) error {
	if s.CacheTTLSeconds < 0 {
		return fmt.Errorf("stats.cache_ttl_seconds cannot be negative")
	}
	if s.CacheTTLSeconds > 3600 {
		return fmt.Errorf("stats.cache_ttl_seconds too large (max 3600)")
	}
	return nil
}

// validateAlertConfig validates alert delivery configuration.
//
// SMTP is optional: when no host is configured the email channel reports
// skipped instead of failing. When a host is set the remaining fields must
// be coherent.
func validateAlertConfig(a AlertConfig) error {
	if a.SMTP.Host != "" {
		if a.SMTP.Port < 1 || a.SMTP.Port > 65535 {
			return fmt.Errorf("alert.smtp.port out of range (1-65535)")
		}
		if a.EmailSender == "" {
			return fmt.Errorf("alert.email_sender is required when smtp is configured")
		}
	}

	if a.WebhookTimeout <= 0 {
		return fmt.Errorf("alert.webhook_timeout must be greater than 0")
	}
	if a.WebhookTimeout > 2*time.Minute {
		return fmt.Errorf("alert.webhook_timeout too large (max 2m)")
	}

	return nil
}

// validateKVStoreConfig validates the shared key-value store configuration.
func validateKVStoreConfig(k KVStoreConfig) error {
	if !slices.Contains(validBackends, k.Backend) {
		return fmt.Errorf("kvstore.backend must be one of: memory, redis")
	}
	if k.Backend == "redis" {
		if k.Redis.Addr == "" {
			return fmt.Errorf("kvstore.redis.addr is required when backend is redis")
		}
		if k.Redis.DB < 0 {
			return fmt.Errorf("kvstore.redis.db cannot be negative")
		}
	}
	return nil
}

// validateLogConfig validates log configuration.
func validateLogConfig(l LogConfig) error {
	if !slices.Contains(validLogLevels, strings.ToLower(l.Level)) {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error, fatal, panic")
	}
	return nil
}

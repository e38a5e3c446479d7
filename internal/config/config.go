package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete configuration schema for the Watchpost
// crawler monitoring service.
//
// Configuration sources (in order of precedence):
//  1. Defaults
//  2. Configuration file (optional)
//  3. Environment variables
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logs    LogsConfig    `mapstructure:"logs" yaml:"logs"`
	Stats   StatsConfig   `mapstructure:"stats" yaml:"stats"`
	Alert   AlertConfig   `mapstructure:"alert" yaml:"alert"`
	KVStore KVStoreConfig `mapstructure:"kvstore" yaml:"kvstore"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type StorageConfig struct {
	Path            string        `mapstructure:"path" yaml:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// LogsConfig holds the retention and query-rate settings for crawler logs.
// Zero or negative limits mean "unlimited" at the corresponding scope.
type LogsConfig struct {
	DefaultMaxLines    int `mapstructure:"default_max_lines" yaml:"default_max_lines"`
	DefaultMaxBytes    int `mapstructure:"default_max_bytes" yaml:"default_max_bytes"`
	DefaultQuotaBytes  int `mapstructure:"default_quota_bytes" yaml:"default_quota_bytes"`
	TrimChunkLines     int `mapstructure:"trim_chunk_lines" yaml:"trim_chunk_lines"`
	QueryRatePerSecond int `mapstructure:"query_rate_per_second" yaml:"query_rate_per_second"`
}

type StatsConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
}

type AlertConfig struct {
	SMTP           SMTPConfig    `mapstructure:"smtp" yaml:"smtp"`
	EmailSender    string        `mapstructure:"email_sender" yaml:"email_sender"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	StartTLS bool   `mapstructure:"starttls" yaml:"starttls"`
}

// KVStoreConfig selects the shared key-value backend used for the stats
// cache, the log-query rate counters, and session resolution.
type KVStoreConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"` // memory, redis
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error, fatal, panic
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"` // human-readable console output
}

// Load loads configuration from defaults, configuration file,
// and environment variables, then validates the result.
//
// The function fails fast on:
//   - Invalid configuration file
//   - Invalid or missing required configuration values
func Load() (*Config, error) {
	v := viper.New()

	// Register default values
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("WATCHPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()

	// Optional configuration file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Cross-platform config directory
	if configDir := getConfigDir(); configDir != "" {
		v.AddConfigPath(configDir)
	}

	// Read configuration file if present
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	// Explicitly bind environment variables for nested structures that have
	// mapping issues. Only bind if the variable is actually set so file
	// config keeps precedence otherwise.
	for key, env := range map[string]string{
		"alert.smtp.host":        "WATCHPOST_ALERT_SMTP_HOST",
		"alert.smtp.username":    "WATCHPOST_ALERT_SMTP_USERNAME",
		"alert.smtp.password":    "WATCHPOST_ALERT_SMTP_PASSWORD",
		"alert.email_sender":     "WATCHPOST_ALERT_EMAIL_SENDER",
		"kvstore.redis.addr":     "WATCHPOST_KVSTORE_REDIS_ADDR",
		"kvstore.redis.password": "WATCHPOST_KVSTORE_REDIS_PASSWORD",
	} {
		if _, exists := os.LookupEnv(env); exists {
			v.BindEnv(key, env)
		}
	}

	// Unmarshal configuration into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Normalize configuration
	normalizeConfig(&cfg)

	// Validate final configuration
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getConfigDir returns the appropriate config directory for the current OS
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "watchpost")
		}
		return ""
	}

	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".watchpost")
	}
	return ""
}

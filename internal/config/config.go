package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	activeMu sync.Mutex
	active   *viper.Viper
)

// envBindings are the keys that can be overridden from the environment
// (SENTINEL_PRIVACY_BACKEND, SENTINEL_ANALYZER_URL, ...).
var envBindings = []string{
	"server.port",
	"privacy.enabled",
	"privacy.rules_file",
	"privacy.backend",
	"analyzer.url",
	"analyzer.language",
	"cache.enabled",
	"cache.redis_url",
	"logging.level",
	"logging.format",
	"websocket.username",
	"websocket.password",
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("sentinel")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-sentinel/")
	v.AddConfigPath("$HOME/.pii-sentinel/")

	// Environment variable overrides
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envBindings {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// Use specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Config file not found is not an error - we'll use defaults
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	activeMu.Lock()
	active = v
	activeMu.Unlock()

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.Server.RateLimit.RequestsPerMin)
	}

	if config.Privacy.Backend != "pattern" && config.Privacy.Backend != "augmented" {
		return fmt.Errorf("invalid privacy backend: %s (must be pattern or augmented)", config.Privacy.Backend)
	}

	if utf8.RuneCountInString(config.Privacy.MaskChar) != 1 {
		return fmt.Errorf("invalid mask char: %q (must be a single character)", config.Privacy.MaskChar)
	}

	if config.Privacy.Backend == "augmented" && config.Analyzer.URL == "" {
		return fmt.Errorf("analyzer url is required for the augmented backend")
	}

	if config.Analyzer.ScoreThreshold < 0 || config.Analyzer.ScoreThreshold > 1 {
		return fmt.Errorf("invalid analyzer score threshold: %v (must be between 0 and 1)", config.Analyzer.ScoreThreshold)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache redis_url is required when the cache is enabled")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Batch.BatchSize <= 0 || config.Batch.WorkerCount <= 0 {
		return fmt.Errorf("invalid batch settings: batch_size %d, worker_count %d", config.Batch.BatchSize, config.Batch.WorkerCount)
	}

	return nil
}

// Watch starts watching the configuration file for changes. Only settings
// that are safe to change at runtime should be applied by callback; the PII
// rules are loaded once per process and are not affected.
func Watch(callback func(*Config), onError func(error)) error {
	activeMu.Lock()
	v := active
	activeMu.Unlock()

	if v == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal changed config: %w", err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("changed config rejected: %w", err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}

package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Privacy   PrivacyConfig   `yaml:"privacy" mapstructure:"privacy"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer" mapstructure:"analyzer"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Upstream  UpstreamConfig  `yaml:"upstream" mapstructure:"upstream"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int             `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration   `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxBodyBytes int64           `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig contains per-client request limits
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// HeaderScrubbingConfig lists headers that never reach logs or upstreams
type HeaderScrubbingConfig struct {
	Enabled              bool     `yaml:"enabled" mapstructure:"enabled"`
	Headers              []string `yaml:"headers" mapstructure:"headers"`
	PreserveUpstreamAuth bool     `yaml:"preserve_upstream_auth" mapstructure:"preserve_upstream_auth"`
}

// PrivacyConfig contains PII detection and masking configuration
type PrivacyConfig struct {
	Enabled         bool                  `yaml:"enabled" mapstructure:"enabled"`
	RulesFile       string                `yaml:"rules_file" mapstructure:"rules_file"`
	Backend         string                `yaml:"backend" mapstructure:"backend"` // pattern or augmented
	MaskChar        string                `yaml:"mask_char" mapstructure:"mask_char"`
	HeaderScrubbing HeaderScrubbingConfig `yaml:"header_scrubbing" mapstructure:"header_scrubbing"`
}

// AnalyzerConfig contains the remote entity recognizer used by the augmented backend
type AnalyzerConfig struct {
	URL               string        `yaml:"url" mapstructure:"url"`
	Language          string        `yaml:"language" mapstructure:"language"`
	ScoreThreshold    float64       `yaml:"score_threshold" mapstructure:"score_threshold"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Retries           int           `yaml:"retries" mapstructure:"retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// CacheConfig contains Redis result cache configuration
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// FileLoggingConfig contains file logging configuration
type FileLoggingConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Path     string `yaml:"path" mapstructure:"path"`
	MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
	Compress bool   `yaml:"compress" mapstructure:"compress"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string            `yaml:"level" mapstructure:"level"`
	Format string            `yaml:"format" mapstructure:"format"` // json or console
	File   FileLoggingConfig `yaml:"file" mapstructure:"file"`
}

// UpstreamConfig contains upstream service configuration
type UpstreamConfig struct {
	OpenAI    string        `yaml:"openai" mapstructure:"openai"`
	Anthropic string        `yaml:"anthropic" mapstructure:"anthropic"`
	Ollama    string        `yaml:"ollama" mapstructure:"ollama"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// WebSocketEventsConfig selects which events are broadcast
type WebSocketEventsConfig struct {
	BroadcastRequests    bool `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
	BroadcastDetections  bool `yaml:"broadcast_detections" mapstructure:"broadcast_detections"`
	BroadcastSystem      bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
	BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool                  `yaml:"enabled" mapstructure:"enabled"`
	Path            string                `yaml:"path" mapstructure:"path"`
	MaxConnections  int                   `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int                   `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int                   `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration         `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration         `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration         `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64                 `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string              `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Username        string                `yaml:"username" mapstructure:"username"`
	Password        string                `yaml:"password" mapstructure:"password"`
	Events          WebSocketEventsConfig `yaml:"events" mapstructure:"events"`
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// BatchConfig contains defaults for the dataset masking pipeline
type BatchConfig struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount    int  `yaml:"worker_count" mapstructure:"worker_count"`
	ValidateData   bool `yaml:"validate_data" mapstructure:"validate_data"`
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 10 << 20,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 600,
				Burst:          50,
			},
		},
		Privacy: PrivacyConfig{
			Enabled:   true,
			RulesFile: "config.yaml",
			Backend:   "pattern",
			MaskChar:  "*",
			HeaderScrubbing: HeaderScrubbingConfig{
				Enabled:              true,
				Headers:              []string{"authorization", "x-api-key", "cookie"},
				PreserveUpstreamAuth: true,
			},
		},
		Analyzer: AnalyzerConfig{
			URL:               "http://localhost:5002",
			Language:          "en",
			ScoreThreshold:    0.5,
			Timeout:           10 * time.Second,
			Retries:           2,
			RequestsPerSecond: 20,
			Burst:             5,
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     time.Hour,
			KeyPrefix:      "pii-sentinel",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File: FileLoggingConfig{
				Enabled:  false,
				Path:     "logs/sentinel.log",
				MaxSize:  100, // MB
				MaxAge:   30,  // days
				Compress: true,
			},
		},
		Upstream: UpstreamConfig{
			OpenAI:    "https://api.openai.com",
			Anthropic: "https://api.anthropic.com",
			Ollama:    "http://localhost:11434",
			Timeout:   30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
			Events: WebSocketEventsConfig{
				BroadcastRequests:    true,
				BroadcastDetections:  true,
				BroadcastSystem:      true,
				BroadcastConnections: true,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Batch: BatchConfig{
			BatchSize:      1000,
			WorkerCount:    4,
			ValidateData:   true,
			ProgressReport: 1000,
		},
	}
}

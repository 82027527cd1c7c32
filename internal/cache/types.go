package cache

import (
	"context"
	"time"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// CachedResults is what gets stored per analyzed text. Only entity types and
// offsets are kept, never the matched values.
type CachedResults struct {
	Results  []privacy.RecognizerResult `json:"results"`
	CachedAt time.Time                  `json:"cached_at"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	RedisURL       string
	MaxConnections int
	MinIdleConns   int
	DefaultTTL     time.Duration
	KeyPrefix      string
}

// ConfigFrom converts the cache section of the service configuration.
func ConfigFrom(c config.CacheConfig) *Config {
	return &Config{
		RedisURL:       c.RedisURL,
		MaxConnections: c.MaxConnections,
		MinIdleConns:   c.MinIdleConns,
		DefaultTTL:     c.DefaultTTL,
		KeyPrefix:      c.KeyPrefix,
	}
}

// Store persists recognizer results by key.
type Store interface {
	Lookup(ctx context.Context, key string) ([]privacy.RecognizerResult, bool)
	Save(ctx context.Context, key string, results []privacy.RecognizerResult) error
}

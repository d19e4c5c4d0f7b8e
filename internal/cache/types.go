package cache

import (
	"time"

	"github.com/raaihank/contract-sentinel/internal/sensitive"
)

// CachedReport is a scan result stored under the hash of the scanned text.
// Stored items carry only their type and span; Get rebuilds values and
// context from the text being looked up, so neither the text nor the
// detected values are written to Redis.
type CachedReport struct {
	Report   sensitive.Report `json:"report"`
	CachedAt time.Time        `json:"cached_at"`
	TTL      int64            `json:"ttl"`
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
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

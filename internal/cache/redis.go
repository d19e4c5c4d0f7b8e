package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"go.uber.org/zap"
)

// Connect opens a pooled Redis client and checks it answers
func Connect(ctx context.Context, config *Config, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connected",
		zap.String("redis_url", MaskURL(config.RedisURL)),
		zap.Int("pool_size", opts.PoolSize))

	return client, nil
}

// ReportCache caches scan results in Redis, keyed by a hash of the text
type ReportCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewReportCache wraps an open Redis client
func NewReportCache(client *redis.Client, config *Config, logger *zap.Logger) *ReportCache {
	return &ReportCache{
		client: client,
		config: config,
		logger: logger,
	}
}

// Get looks up the result of scanning text with the detector set named by
// variant. Lookup failures count as misses.
func (rc *ReportCache) Get(ctx context.Context, variant, text string) (*CachedReport, bool) {
	key := rc.Key(variant, text)

	data, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		rc.misses.Add(1)
		rc.logger.Debug("Cache miss", zap.String("key", key))
		return nil, false
	} else if err != nil {
		rc.misses.Add(1)
		rc.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	cached, err := decodeReport(data, text)
	if err != nil {
		rc.misses.Add(1)
		rc.logger.Error("Failed to unmarshal cached report", zap.Error(err))
		// Delete corrupted cache entry
		rc.client.Del(ctx, key)
		return nil, false
	}

	rc.hits.Add(1)
	rc.logger.Debug("Cache hit", zap.String("key", key), zap.Int("items", len(cached.Report.Items)))
	return cached, true
}

// Store caches the items found in text
func (rc *ReportCache) Store(ctx context.Context, variant, text string, items []sensitive.Item) error {
	data, err := rc.encode(items)
	if err != nil {
		return err
	}

	if err := rc.client.Set(ctx, rc.Key(variant, text), data, rc.config.DefaultTTL).Err(); err != nil {
		rc.logger.Error("Failed to cache report", zap.Error(err))
		return fmt.Errorf("failed to cache report: %w", err)
	}
	return nil
}

// StoreBatch caches several results in one pipeline
func (rc *ReportCache) StoreBatch(ctx context.Context, variant string, texts []string, items [][]sensitive.Item) error {
	if len(texts) != len(items) {
		return fmt.Errorf("texts and items length mismatch")
	}
	if len(texts) == 0 {
		return nil
	}

	pipe := rc.client.Pipeline()
	for i, text := range texts {
		data, err := rc.encode(items[i])
		if err != nil {
			rc.logger.Error("Failed to marshal report for batch caching", zap.Error(err))
			continue
		}
		pipe.Set(ctx, rc.Key(variant, text), data, rc.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		rc.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	rc.logger.Debug("Batch cache operation completed", zap.Int("cached_reports", len(texts)))
	return nil
}

func (rc *ReportCache) encode(items []sensitive.Item) ([]byte, error) {
	return encodeReport(items, rc.config.DefaultTTL, time.Now())
}

// encodeReport serializes the report of items with values and context
// stripped
func encodeReport(items []sensitive.Item, ttl time.Duration, now time.Time) ([]byte, error) {
	report := sensitive.BuildReport(items)
	report.Items = sensitive.Strip(report.Items)

	data, err := json.Marshal(CachedReport{
		Report:   report,
		CachedAt: now,
		TTL:      int64(ttl.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report for caching: %w", err)
	}
	return data, nil
}

// decodeReport reverses encodeReport for the text the entry was stored under
func decodeReport(data []byte, text string) (*CachedReport, error) {
	var cached CachedReport
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	cached.Report.Items = sensitive.Restore(text, cached.Report.Items)
	if len(cached.Report.Items) != cached.Report.Total {
		return nil, fmt.Errorf("cached report has %d items out of %d inside the text", len(cached.Report.Items), cached.Report.Total)
	}
	return &cached, nil
}

// GetStats returns cache performance statistics
func (rc *ReportCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := rc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   rc.hits.Load(),
		Misses: rc.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := rc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes every cached report
func (rc *ReportCache) Clear(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, rc.config.KeyPrefix+":report:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := rc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	rc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Key returns the Redis key of text scanned with variant
func (rc *ReportCache) Key(variant, text string) string {
	return ReportKey(rc.config.KeyPrefix, variant, text)
}

// ReportKey hashes variant and text into a cache key
func ReportKey(prefix, variant, text string) string {
	hasher := sha256.New()
	hasher.Write([]byte(variant))
	hasher.Write([]byte{0})
	hasher.Write([]byte(text))
	return fmt.Sprintf("%s:report:%s", prefix, hex.EncodeToString(hasher.Sum(nil))[:32])
}

// Variant names a detector set, e.g. for the enabled types of a detector
func Variant(types []sensitive.Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// MaskURL masks the password of a connection URL for logging
func MaskURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], "//") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}

// Package security guards the HTTP API against request floods
package security

import (
	"context"
	"sync"
	"time"

	"github.com/raaihank/contract-sentinel/internal/config"
	"golang.org/x/time/rate"
)

const idleBucketTTL = time.Hour

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	enabled bool

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows RequestsPerMinute per client with bursts of Burst
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:   burst,
		enabled: cfg.Enabled && cfg.RequestsPerMinute > 0,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow checks if a request from the given client is allowed
func (r *RateLimiter) Allow(clientID string) bool {
	if !r.enabled {
		return true
	}
	now := r.now()
	return r.getBucket(clientID, now).limiter.AllowN(now, 1)
}

// RetryAfter estimates how long clientID must wait for its next token
func (r *RateLimiter) RetryAfter(clientID string) time.Duration {
	if !r.enabled {
		return 0
	}
	now := r.now()
	res := r.getBucket(clientID, now).limiter.ReserveN(now, 1)
	defer res.CancelAt(now)
	return res.DelayFrom(now)
}

func (r *RateLimiter) getBucket(clientID string, now time.Time) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[clientID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[clientID] = b
	}
	b.lastSeen = now
	return b
}

// Len returns the number of tracked clients
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// CleanupOldBuckets removes buckets of clients idle for an hour
func (r *RateLimiter) CleanupOldBuckets() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleBucketTTL)
	for id, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, id)
		}
	}
}

// StartCleanupRoutine runs CleanupOldBuckets periodically until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.CleanupOldBuckets()
			case <-ctx.Done():
				return
			}
		}
	}()
}

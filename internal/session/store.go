// Package session keeps platform sessions server-side so that browser and
// CLI clients only hold an opaque session ID.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/raaihank/contract-sentinel/internal/contracts"
)

// ErrNotFound is returned for unknown or expired session IDs
var ErrNotFound = errors.New("session not found")

// Store persists sessions by ID
type Store interface {
	Save(ctx context.Context, id string, s *contracts.Session) error
	Get(ctx context.Context, id string) (*contracts.Session, error)
	Delete(ctx context.Context, id string) error
}

// NewID returns a fresh session ID
func NewID() string {
	return uuid.NewString()
}

// RedisStore keeps sessions as JSON values with a TTL
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore stores sessions under prefix:session:<id>
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (rs *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:session:%s", rs.prefix, id)
}

// Save stores s and restarts its TTL
func (rs *RedisStore) Save(ctx context.Context, id string, s *contracts.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := rs.client.Set(ctx, rs.key(id), data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get loads the session stored under id
func (rs *RedisStore) Get(ctx context.Context, id string) (*contracts.Session, error) {
	data, err := rs.client.Get(ctx, rs.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s contracts.Session
	if err := json.Unmarshal(data, &s); err != nil {
		rs.client.Del(ctx, rs.key(id))
		return nil, ErrNotFound
	}
	return &s, nil
}

// Delete removes the session. Deleting an unknown ID is not an error.
func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	if err := rs.client.Del(ctx, rs.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type memoryEntry struct {
	session   contracts.Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Used when Redis is disabled.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store whose entries expire after ttl; zero
// means never
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (ms *MemoryStore) Save(_ context.Context, id string, s *contracts.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry := memoryEntry{session: *s}
	if ms.ttl > 0 {
		entry.expiresAt = ms.now().Add(ms.ttl)
	}
	ms.entries[id] = entry
	ms.sweep()
	return nil
}

func (ms *MemoryStore) Get(_ context.Context, id string) (*contracts.Session, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.entries[id]
	if !ok || ms.expired(entry) {
		delete(ms.entries, id)
		return nil, ErrNotFound
	}
	s := entry.session
	return &s, nil
}

func (ms *MemoryStore) Delete(_ context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.entries, id)
	return nil
}

// Len returns the number of live sessions
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sweep()
	return len(ms.entries)
}

func (ms *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !ms.now().Before(e.expiresAt)
}

// caller holds mu
func (ms *MemoryStore) sweep() {
	for id, e := range ms.entries {
		if ms.expired(e) {
			delete(ms.entries, id)
		}
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no entry exists for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultStaleRetention is how long an expired entry with a validator is kept
// so it can still be revalidated with a conditional request.
const DefaultStaleRetention = 30 * time.Minute

// Manager reads and writes page entries in Redis.
type Manager struct {
	redis          *redis.Client
	staleRetention time.Duration
}

// NewManager creates a manager. It panics on a nil client.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("cache: redis client cannot be nil")
	}
	return &Manager{
		redis:          redisClient,
		staleRetention: DefaultStaleRetention,
	}
}

// Get returns the stored entry, fresh or not. Callers decide with
// Entry.IsFresh whether a revalidation is needed.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			Misses.Inc()
			return nil, ErrCacheMiss
		}
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if !entry.IsFresh() && !entry.CanRevalidate() {
		_ = m.Delete(ctx, key)
		Misses.Inc()
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set stores an entry. Entries that are already expired and carry no
// validator are not stored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if entry.CanRevalidate() {
		ttl += m.staleRetention
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	StoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes an entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		Errors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Refresh extends an entry after a 304 Not Modified.
func (m *Manager) Refresh(ctx context.Context, key Key, entry *Entry, expires time.Time) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	refreshed := *entry
	refreshed.Expires = expires
	refreshed.CachedAt = time.Now()
	return m.Set(ctx, key, &refreshed)
}

// Package idempotency records which inbound event identifiers have already
// been processed so redelivered webhooks become no-ops.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "settlement:webhook:event:"

// Store performs an atomic check-and-insert of an event identifier. Exactly
// one concurrent caller for the same ID observes isNew=true.
type Store interface {
	RecordIfNew(ctx context.Context, eventID string) (bool, error)
	// Forget releases an ID recorded by RecordIfNew. The dispatcher calls it
	// when applying the event failed transiently, so the provider's retry is
	// not mistaken for a duplicate.
	Forget(ctx context.Context, eventID string) error
}

// RedisStore keeps processed event IDs in redis with a retention TTL. The
// TTL only has to exceed realistic provider redelivery windows; it is a
// housekeeping concern, not a correctness one.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) RecordIfNew(ctx context.Context, eventID string) (bool, error) {
	return s.client.SetNX(ctx, keyPrefix+eventID, 1, s.retention).Result()
}

func (s *RedisStore) Forget(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, keyPrefix+eventID).Err()
}

// MemoryStore is the in-process fallback used when no redis address is
// configured, and by tests. Entries are pruned lazily on access.
type MemoryStore struct {
	mu        sync.Mutex
	retention time.Duration
	seen      map[string]time.Time
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &MemoryStore{
		retention: retention,
		seen:      map[string]time.Time{},
	}
}

func (s *MemoryStore) RecordIfNew(_ context.Context, eventID string) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.seen[eventID]; ok && now.Sub(at) < s.retention {
		return false, nil
	}
	s.seen[eventID] = now

	if len(s.seen) > 4096 {
		for id, at := range s.seen {
			if now.Sub(at) >= s.retention {
				delete(s.seen, id)
			}
		}
	}

	return true, nil
}

func (s *MemoryStore) Forget(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
	return nil
}

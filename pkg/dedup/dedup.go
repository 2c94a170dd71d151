// Package dedup remembers which logical operations a consumer has already
// applied, keyed by eventbus.Envelope.DedupKey.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type redisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore keeps marks as "<prefix><key>" for ttl. A zero ttl keeps them
// forever.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) Store {
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *redisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *redisStore) Mark(ctx context.Context, key string) error {
	if err := s.client.SetNX(ctx, s.prefix+key, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark %s: %w", key, err)
	}
	return nil
}

type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, keys: make(map[string]time.Time)}
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	markedAt, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	if s.ttl > 0 && s.now().Sub(markedAt) >= s.ttl {
		delete(s.keys, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; !ok {
		s.keys[key] = s.now()
	}
	return nil
}

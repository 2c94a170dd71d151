package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type DeadLetterEntry struct {
	At       time.Time `json:"at"`
	Queue    string    `json:"queue"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	Envelope *Envelope `json:"envelope,omitempty"`
	// Raw holds the undecodable message body when Envelope is nil.
	Raw string `json:"raw,omitempty"`
}

type DeadLetterSink interface {
	Put(ctx context.Context, entry DeadLetterEntry) error
}

type redisDeadLetters struct {
	client redis.Cmdable
	prefix string
}

// NewRedisDeadLetters pushes entries onto the list "<prefix><queue>".
func NewRedisDeadLetters(client redis.Cmdable, prefix string) DeadLetterSink {
	if prefix == "" {
		prefix = "saga:dlq:"
	}
	return &redisDeadLetters{client: client, prefix: prefix}
}

func (s *redisDeadLetters) Put(ctx context.Context, entry DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := s.client.LPush(ctx, s.prefix+entry.Queue, data).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

type MemoryDeadLetters struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
}

func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{}
}

func (s *MemoryDeadLetters) Put(_ context.Context, entry DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryDeadLetters) Entries() []DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetterEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Package trial keeps the one-shot "free conversion used" flag per subject.
package trial

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// StorageKey is the fixed key the flag lives under. Per-subject entries are
// stored as StorageKey + ":" + subject.
const StorageKey = "trial_used"

const usedValue = "true"

// ErrNoSubject is returned when no user or visitor id is available.
var ErrNoSubject = errors.New("trial: subject is required")

// Store persists whether a subject has consumed its free trial.
type Store interface {
	IsUsed(ctx context.Context, subject string) (bool, error)
	MarkUsed(ctx context.Context, subject string) error
	Reset(ctx context.Context, subject string) error
}

// Key returns the storage key for a subject.
func Key(subject string) string {
	return StorageKey + ":" + subject
}

func normalizeSubject(subject string) (string, error) {
	s := strings.TrimSpace(subject)
	if s == "" {
		return "", ErrNoSubject
	}
	return s, nil
}

// NewStore returns a Redis-backed store when the client is usable and an
// in-memory store otherwise.
func NewStore(client *redis.Client, reachable bool) Store {
	if client != nil && reachable {
		return NewRedisStore(client)
	}
	log.Warn("[Trial] Cache unavailable, trial flags are kept in memory only")
	return NewMemoryStore()
}

// RedisStore keeps flags in Redis without expiry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IsUsed(ctx context.Context, subject string) (bool, error) {
	sub, err := normalizeSubject(subject)
	if err != nil {
		return false, err
	}
	val, err := s.client.Get(ctx, Key(sub)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == usedValue, nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, subject string) error {
	sub, err := normalizeSubject(subject)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, Key(sub), usedValue, 0).Err()
}

func (s *RedisStore) Reset(ctx context.Context, subject string) error {
	sub, err := normalizeSubject(subject)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, Key(sub)).Err()
}

// MemoryStore is the process-local fallback.
type MemoryStore struct {
	mu   sync.RWMutex
	used map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{used: make(map[string]bool)}
}

func (s *MemoryStore) IsUsed(_ context.Context, subject string) (bool, error) {
	sub, err := normalizeSubject(subject)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used[Key(sub)], nil
}

func (s *MemoryStore) MarkUsed(_ context.Context, subject string) error {
	sub, err := normalizeSubject(subject)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[Key(sub)] = true
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, subject string) error {
	sub, err := normalizeSubject(subject)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.used, Key(sub))
	return nil
}

package converter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key formats for async jobs
const (
	JobStatusKeyFormat = "convert:job:%s"    // Format: convert:job:<id>
	JobResultKeyFormat = "convert:result:%s" // Format: convert:result:<id>
)

// Status constants for conversion jobs
const (
	STATUS_PENDING    = "pending"    // Job is queued
	STATUS_PROCESSING = "processing" // Job is being converted
	STATUS_COMPLETED  = "completed"  // Result is available
	STATUS_FAILED     = "failed"     // Conversion failed
)

var ErrJobNotFound = errors.New("conversion job not found")

// JobStatus is the externally visible state of an async conversion.
type JobStatus struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	State       string    `json:"state"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobStore persists job status.
type JobStore interface {
	Save(ctx context.Context, status *JobStatus) error
	Get(ctx context.Context, id string) (*JobStatus, error)
}

// ResultStore persists finished conversion bytes.
type ResultStore interface {
	Put(ctx context.Context, id string, data []byte, contentType string) error
	Get(ctx context.Context, id string) ([]byte, error)
}

// RedisJobStore keeps status and results in Redis with a TTL.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{client: client, ttl: ttl}
}

func (s *RedisJobStore) Save(ctx context.Context, status *JobStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, fmt.Sprintf(JobStatusKeyFormat, status.ID), raw, s.ttl).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*JobStatus, error) {
	raw, err := s.client.Get(ctx, fmt.Sprintf(JobStatusKeyFormat, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var st JobStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisJobStore) Put(ctx context.Context, id string, data []byte, _ string) error {
	return s.client.Set(ctx, fmt.Sprintf(JobResultKeyFormat, id), data, s.ttl).Err()
}

func (s *RedisJobStore) GetResult(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(JobResultKeyFormat, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	return data, err
}

// Results adapts the store to ResultStore.
func (s *RedisJobStore) Results() ResultStore {
	return redisResults{s}
}

type redisResults struct{ s *RedisJobStore }

func (r redisResults) Put(ctx context.Context, id string, data []byte, contentType string) error {
	return r.s.Put(ctx, id, data, contentType)
}

func (r redisResults) Get(ctx context.Context, id string) ([]byte, error) {
	return r.s.GetResult(ctx, id)
}

type memoryEntry struct {
	status    *JobStatus
	result    []byte
	expiresAt time.Time
}

// MemoryJobStore is the single-process fallback for both stores.
type MemoryJobStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	return &MemoryJobStore{ttl: ttl, entries: make(map[string]*memoryEntry), now: time.Now}
}

// lookup returns a live entry without touching its expiry, matching Redis
// where reads never extend a key's TTL.
func (s *MemoryJobStore) lookup(id string) *memoryEntry {
	e, ok := s.entries[id]
	if !ok || s.now().After(e.expiresAt) {
		return nil
	}
	return e
}

// write sweeps expired entries and returns the entry for id with a fresh TTL.
func (s *MemoryJobStore) write(id string) *memoryEntry {
	now := s.now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
	e, ok := s.entries[id]
	if !ok {
		e = &memoryEntry{}
		s.entries[id] = e
	}
	e.expiresAt = now.Add(s.ttl)
	return e
}

func (s *MemoryJobStore) Save(_ context.Context, status *JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *status
	s.write(status.ID).status = &cp
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(id)
	if e == nil || e.status == nil {
		return nil, ErrJobNotFound
	}
	cp := *e.status
	return &cp, nil
}

// Results adapts the store to ResultStore.
func (s *MemoryJobStore) Results() ResultStore {
	return memoryResults{s}
}

type memoryResults struct{ s *MemoryJobStore }

func (r memoryResults) Put(_ context.Context, id string, data []byte, _ string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.write(id).result = append([]byte(nil), data...)
	return nil
}

func (r memoryResults) Get(_ context.Context, id string) ([]byte, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e := r.s.lookup(id)
	if e == nil || e.result == nil {
		return nil, ErrJobNotFound
	}
	return e.result, nil
}

// Package progress tracks per-batch pipeline progress. Records live behind a
// Store abstraction so the retention policy is testable in isolation and the
// backend is swappable; the service uses Redis, tests use memory.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mealsmith/api/internal/model"
)

// ErrNotFound is returned when no progress record exists for a batch.
var ErrNotFound = errors.New("batch not found")

// Store persists batch progress records.
type Store interface {
	Get(ctx context.Context, batchID string) (*model.BatchProgress, error)
	Put(ctx context.Context, p *model.BatchProgress) error
	Delete(ctx context.Context, batchID string) error
	List(ctx context.Context) ([]*model.BatchProgress, error)
}

const (
	batchKeyPrefix = "batch:"
	batchIndexKey  = "batches"
)

// RedisStore keeps progress records as JSON blobs under batch:<id> with a
// TTL, plus a set index for listing. The TTL is a safety net behind the
// monitor's explicit cleanup.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed progress store.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, batchID string) (*model.BatchProgress, error) {
	data, err := s.redis.Get(ctx, batchKeyPrefix+batchID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read batch %s: %w", batchID, err)
	}

	var p model.BatchProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch %s: %w", batchID, err)
	}
	return &p, nil
}

func (s *RedisStore) Put(ctx context.Context, p *model.BatchProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal batch %s: %w", p.BatchID, err)
	}
	if err := s.redis.Set(ctx, batchKeyPrefix+p.BatchID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save batch %s: %w", p.BatchID, err)
	}
	return s.redis.SAdd(ctx, batchIndexKey, p.BatchID).Err()
}

func (s *RedisStore) Delete(ctx context.Context, batchID string) error {
	if err := s.redis.Del(ctx, batchKeyPrefix+batchID).Err(); err != nil {
		return err
	}
	return s.redis.SRem(ctx, batchIndexKey, batchID).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]*model.BatchProgress, error) {
	ids, err := s.redis.SMembers(ctx, batchIndexKey).Result()
	if err != nil {
		return nil, err
	}

	var out []*model.BatchProgress
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Record expired via TTL; drop the stale index entry.
				s.redis.SRem(ctx, batchIndexKey, id)
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// MemoryStore is an in-process Store for tests and single-node setups.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string]*model.BatchProgress
}

// NewMemoryStore creates an empty in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[string]*model.BatchProgress)}
}

func (s *MemoryStore) Get(ctx context.Context, batchID string) (*model.BatchProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, p *model.BatchProgress) error {
	s.mu.Lock()
	s.batches[p.BatchID] = p.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, batchID string) error {
	s.mu.Lock()
	delete(s.batches, batchID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*model.BatchProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.BatchProgress, 0, len(s.batches))
	for _, p := range s.batches {
		out = append(out, p.Clone())
	}
	return out, nil
}

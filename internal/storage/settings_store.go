package storage

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisSettingsStore persists user settings as plain Redis strings without expiry
type RedisSettingsStore struct {
	redis *RedisCache
}

// NewRedisSettingsStore creates a settings store
func NewRedisSettingsStore(redis *RedisCache) *RedisSettingsStore {
	return &RedisSettingsStore{redis: redis}
}

// Get returns the value under key and whether it exists
func (s *RedisSettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.redis.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key
func (s *RedisSettingsStore) Set(ctx context.Context, key, value string) error {
	return s.redis.Set(ctx, key, value, 0)
}

// Delete removes key
func (s *RedisSettingsStore) Delete(ctx context.Context, key string) error {
	return s.redis.Del(ctx, key)
}

// MemorySettingsStore keeps settings in process memory
type MemorySettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemorySettingsStore creates an empty in-memory settings store
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{values: make(map[string]string)}
}

func (s *MemorySettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemorySettingsStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemorySettingsStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

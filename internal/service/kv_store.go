package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVStore es el almacenamiento clave-valor para caches de conveniencia
// (contexto de sesión, preferencias). ttl <= 0 significa sin expiración.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

type memoryKVEntry struct {
	value     string
	expiresAt time.Time
}

type memoryKVStore struct {
	mu    sync.Mutex
	items map[string]memoryKVEntry
}

func NewMemoryKVStore() KVStore {
	return &memoryKVStore{items: make(map[string]memoryKVEntry)}
}

func (s *memoryKVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().UTC().After(entry.expiresAt) {
		delete(s.items, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *memoryKVStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memoryKVEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().UTC().Add(ttl)
	}
	s.items[key] = entry
	return nil
}

func (s *memoryKVStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

type redisKVClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisKVStore struct {
	client redisKVClient
	prefix string
}

// NewRedisKVStore devuelve nil si client es nil para que el llamador use memoria.
func NewRedisKVStore(client *redis.Client) KVStore {
	if client == nil {
		return nil
	}
	return &redisKVStore{client: client, prefix: "apoyo:"}
}

func (s *redisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *redisKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if ttl < 0 {
		ttl = 0
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *redisKVStore) Remove(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return s.client.Del(ctx, s.prefix+key).Err()
}

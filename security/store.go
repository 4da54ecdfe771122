package security

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the counter backend behind rate limiting and failure tracking.
// A counter starts at zero, increments atomically and expires once its
// window has elapsed.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// NewStoreFromEnv returns a Redis-backed store when REDIS_ADDR is set,
// otherwise an in-process one. Counters shared across replicas need Redis;
// a single instance is fine with memory.
func NewStoreFromEnv() Store {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	log.Printf("callback security counters backed by redis at %s", addr)
	return &RedisStore{Client: client}
}

// RedisStore keeps counters in Redis so limits hold across restarts and
// multiple instances.
type RedisStore struct {
	Client *redis.Client
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := s.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		s.Client.Expire(ctx, key, window)
	}
	return n, nil
}

// MemoryStore is the in-process fallback.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryCounter
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryCounter)}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		e = &memoryCounter{expiresAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return e.count, nil
}

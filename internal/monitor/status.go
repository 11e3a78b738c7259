package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/jmerrifield20/DocumentChain/internal/integrity"
)

// StatusStore holds the single last-known integrity status.
type StatusStore interface {
	// Load returns the last-known status.
	Load(ctx context.Context) (integrity.Status, error)
	// Swap stores s and returns the status it replaced.
	Swap(ctx context.Context, s integrity.Status) (integrity.Status, error)
}

// MemoryStatusStore keeps the status in process memory. A new store starts
// out valid.
type MemoryStatusStore struct {
	v atomic.Int32
}

// NewMemoryStatusStore creates a store holding StatusValid.
func NewMemoryStatusStore() *MemoryStatusStore {
	s := &MemoryStatusStore{}
	s.v.Store(int32(integrity.StatusValid))
	return s
}

// Load implements StatusStore.
func (s *MemoryStatusStore) Load(context.Context) (integrity.Status, error) {
	return integrity.Status(s.v.Load()), nil
}

// Swap implements StatusStore.
func (s *MemoryStatusStore) Swap(_ context.Context, st integrity.Status) (integrity.Status, error) {
	return integrity.Status(s.v.Swap(int32(st))), nil
}

// DefaultStatusKey is the Redis key used when none is given.
const DefaultStatusKey = "chain:integrity:status"

// RedisStatusStore keeps the status in Redis so it survives restarts and is
// shared between instances. A missing key reads as valid.
type RedisStatusStore struct {
	client *redis.Client
	key    string
}

// NewRedisStatusStore creates a store backed by the Redis server at addr.
func NewRedisStatusStore(addr, password string, db int) *RedisStatusStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStatusStore{client: rdb, key: DefaultStatusKey}
}

// Load implements StatusStore.
func (s *RedisStatusStore) Load(ctx context.Context) (integrity.Status, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return integrity.StatusValid, nil
	}
	if err != nil {
		return integrity.StatusUnknown, fmt.Errorf("redis get status: %w", err)
	}
	return integrity.ParseStatus(v)
}

// Swap implements StatusStore.
func (s *RedisStatusStore) Swap(ctx context.Context, st integrity.Status) (integrity.Status, error) {
	prev, err := s.client.SetArgs(ctx, s.key, st.String(), redis.SetArgs{Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return integrity.StatusValid, nil
	}
	if err != nil {
		return integrity.StatusUnknown, fmt.Errorf("redis swap status: %w", err)
	}
	return integrity.ParseStatus(prev)
}

// Ping checks that the Redis server is reachable.
func (s *RedisStatusStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (s *RedisStatusStore) Close() error {
	return s.client.Close()
}

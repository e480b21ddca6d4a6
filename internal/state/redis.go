package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, e.g. "lazoosplash:"
	Timeout  time.Duration // Per-operation deadline
}

// RedisStore implements Store with one Redis hash per bucket.
// The set of bucket names is kept under <prefix>buckets.
type RedisStore struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := &RedisStore{rdb: rdb, prefix: opts.Prefix, timeout: opts.Timeout}

	ctx, cancel := s.ctx()
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return s, nil
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) bucketsKey() string        { return s.prefix + "buckets" }
func (s *RedisStore) bucketKey(b string) string { return s.prefix + "bucket:" + b }

func (s *RedisStore) check() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateBucket creates a new bucket.
func (s *RedisStore) CreateBucket(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	added, err := s.rdb.SAdd(ctx, s.bucketsKey(), name).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return ErrBucketExists
	}
	return nil
}

// DeleteBucket removes a bucket and all its entries.
func (s *RedisStore) DeleteBucket(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	removed, err := s.rdb.SRem(ctx, s.bucketsKey(), name).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrBucketMissing
	}
	return s.rdb.Del(ctx, s.bucketKey(name)).Err()
}

// ListBuckets returns all bucket names.
func (s *RedisStore) ListBuckets() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	return s.rdb.SMembers(ctx, s.bucketsKey()).Result()
}

// Get retrieves a value by bucket and key.
func (s *RedisStore) Get(bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	val, err := s.rdb.HGet(ctx, s.bucketKey(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

// Set stores a value. The bucket must exist.
func (s *RedisStore) Set(bucket, key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	ok, err := s.rdb.SIsMember(ctx, s.bucketsKey(), bucket).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrBucketMissing
	}
	return s.rdb.HSet(ctx, s.bucketKey(bucket), key, value).Err()
}

// Delete removes a key.
func (s *RedisStore) Delete(bucket, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.rdb.HDel(ctx, s.bucketKey(bucket), key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all key-value pairs in a bucket.
func (s *RedisStore) List(bucket string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	raw, err := s.rdb.HGetAll(ctx, s.bucketKey(bucket)).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(raw))
	for k, v := range raw {
		result[k] = []byte(v)
	}
	return result, nil
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rdb.Close()
}

package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares catalogues between dashboard replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to url, falling back to treating it as host:port.
func NewRedisStore(url string, db int, prefix string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url, DB: db}
	}
	if db != 0 {
		opts.DB = db
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, prefix, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "pvdash"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(bucket string) string {
	return s.prefix + ":catalogue:" + bucket
}

// Get returns the cached catalogue or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, bucket string) (*Catalogue, error) {
	data, err := s.client.Get(ctx, s.key(bucket)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var cat Catalogue
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode catalogue %s: %w", bucket, err)
	}
	return &cat, nil
}

// Put stores cat with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, cat *Catalogue) error {
	data, err := json.Marshal(cat)
	if err != nil {
		return fmt.Errorf("encode catalogue %s: %w", cat.Bucket, err)
	}
	return s.client.Set(ctx, s.key(cat.Bucket), data, s.ttl).Err()
}

// Invalidate drops one bucket; an empty bucket drops every catalogue key.
func (s *RedisStore) Invalidate(ctx context.Context, bucket string) error {
	if bucket != "" {
		return s.client.Del(ctx, s.key(bucket)).Err()
	}
	iter := s.client.Scan(ctx, 0, s.prefix+":catalogue:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

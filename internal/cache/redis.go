package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tvl:"

// Redis is a Store backed by Redis.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to redisURL and verifies the connection with PING.
func NewRedis(redisURL, password string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Redis{rdb: rdb}, nil
}

// Close shuts down the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, keyPrefix+key, raw, ttl).Err()
}

func (r *Redis) AlreadySent(ctx context.Context, key string) bool {
	exists, err := r.rdb.Exists(ctx, keyPrefix+key).Result()
	return err == nil && exists > 0
}

func (r *Redis) Record(ctx context.Context, key string, ttl time.Duration) {
	r.rdb.Set(ctx, keyPrefix+key, "1", ttl) //nolint:errcheck
}

func (r *Redis) Clear(ctx context.Context, key string) {
	r.rdb.Del(ctx, keyPrefix+key) //nolint:errcheck
}

package internal

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the durable cache tier (§4.3). It satisfies durableStore and
// additionally fans prefix deletes out over SCAN since Redis has no native
// prefix-delete primitive.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr eagerly via a PING so misconfiguration
// surfaces at startup rather than on the first cache read.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, Wrap(KindInternal, "INTERNAL", "connecting to redis", err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Wrap(KindInternal, "INTERNAL", "redis get", err)
	}
	return raw, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return Wrap(KindInternal, "INTERNAL", "redis set", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return Wrap(KindInternal, "INTERNAL", "redis del", err)
	}
	return nil
}

// DeletePrefix scans keys under prefix+"*" in batches and unlinks them. Used
// by the admin purge command and cache-bust tooling only; never on a
// request path (§4.3).
func (r *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := prefix + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return Wrap(KindInternal, "INTERNAL", "redis scan", err)
		}
		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				return Wrap(KindInternal, "INTERNAL", "redis unlink", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Client exposes the underlying go-redis client for callers (the queue
// consumer) that need list operations DeletePrefix/Get/Set don't cover.
func (r *RedisStore) Client() *redis.Client { return r.client }

var _ durableStore = (*RedisStore)(nil)

package counter

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"formgate/internal/platform/redis"
)

// Redis is the hosted counter provider. Wrap it in a Breaker before handing
// it to services so a backend outage never reaches the request path.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Incr(ctx context.Context, key string, ttlOnFirstWrite time.Duration) (int64, error) {
	// Pipelined INCR + EXPIRE NX: one round trip, and the TTL is applied
	// only when the key has none yet, i.e. the absent->1 transition.
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	if ttlOnFirstWrite > 0 {
		pipe.ExpireNX(ctx, key, ttlOnFirstWrite)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (r *Redis) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *Redis) Del(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Enabled() bool { return r.client != nil }

func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

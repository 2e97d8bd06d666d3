package abuse

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// activeSlotTTL bounds how long a leaked active-conversion slot can
// outlive a crashed process.
const activeSlotTTL = 15 * time.Minute

// RedisBackend shares counters between instances through Redis.
type RedisBackend struct {
	redis  *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{redis: client, prefix: "abuse:"}
}

func (r *RedisBackend) Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	key = r.prefix + "rate:" + key

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "incr rate bucket")
	}

	// Set expiration on first request
	if count == 1 {
		if err := r.redis.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, errors.Wrap(err, "expire rate bucket")
		}
		return 1, window, nil
	}

	ttl, err := r.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "ttl rate bucket")
	}
	if ttl < 0 {
		// the expiry was lost; restart the window rather than block forever
		_ = r.redis.PExpire(ctx, key, window).Err()
		ttl = window
	}
	return int(count), ttl, nil
}

func (r *RedisBackend) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.redis.SetNX(ctx, r.prefix+"print:"+key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "remember fingerprint")
	}
	return ok, nil
}

func (r *RedisBackend) Acquire(ctx context.Context, key string, max int) (bool, error) {
	key = r.prefix + "active:" + key

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, errors.Wrap(err, "incr active count")
	}
	_ = r.redis.Expire(ctx, key, activeSlotTTL).Err()
	if count > int64(max) {
		_ = r.redis.Decr(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (r *RedisBackend) Release(ctx context.Context, key string) error {
	key = r.prefix + "active:" + key

	count, err := r.redis.Decr(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "decr active count")
	}
	if count <= 0 {
		return r.redis.Del(ctx, key).Err()
	}
	return nil
}

// Sweep is a no-op; Redis expires keys on its own.
func (r *RedisBackend) Sweep(context.Context, time.Time) error {
	return nil
}

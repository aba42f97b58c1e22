package action

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "workset:action:"

// Redis scripts keep decrement and complete atomic across scaled-out
// instances, which is what makes the exactly-once completion signal hold
// when parallel consumers on different nodes drain the same action.
var (
	decrementScript = redis.NewScript(`
		local v = redis.call('GET', KEYS[1])
		if not v then return -1 end
		if tonumber(v) <= 0 then return -1 end
		return redis.call('DECR', KEYS[1])`)

	completeScript = redis.NewScript(`
		local v = redis.call('GET', KEYS[1])
		if v and tonumber(v) == 0 then
			redis.call('DEL', KEYS[1])
			return 1
		end
		return 0`)
)

// RedisTracker is a Tracker whose counters live in Redis, shared by every
// horizontally-scaled instance. Counters carry the configured TTL.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker connects to Redis at addr and verifies the connection.
func NewRedisTracker(ctx context.Context, addr string, ttl time.Duration) (*RedisTracker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisTracker{client: client, ttl: ttl}, nil
}

func (t *RedisTracker) key(actionID string) string {
	return keyPrefix + actionID
}

func (t *RedisTracker) BeginWork(ctx context.Context, actionID string, initial int64) error {
	pipe := t.client.TxPipeline()
	pipe.IncrBy(ctx, t.key(actionID), initial)
	pipe.Expire(ctx, t.key(actionID), t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("begin work for %s: %w", actionID, err)
	}
	return nil
}

func (t *RedisTracker) IncrementWork(ctx context.Context, actionID string) (int64, error) {
	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, t.key(actionID))
	pipe.Expire(ctx, t.key(actionID), t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment work for %s: %w", actionID, err)
	}
	return incr.Val(), nil
}

func (t *RedisTracker) DecrementWork(ctx context.Context, actionID string) (int64, error) {
	n, err := decrementScript.Run(ctx, t.client, []string{t.key(actionID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decrement work for %s: %w", actionID, err)
	}
	if n < 0 {
		return 0, ErrNotTracked
	}
	return n, nil
}

func (t *RedisTracker) MaybeCompleteWork(ctx context.Context, actionID string) (bool, error) {
	n, err := completeScript.Run(ctx, t.client, []string{t.key(actionID)}).Int64()
	if err != nil {
		return false, fmt.Errorf("complete work for %s: %w", actionID, err)
	}
	return n == 1, nil
}

// Close releases the Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

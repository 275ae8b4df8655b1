package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces guard keys.
const DefaultRedisPrefix = "aag:guard:"

// Each record is a hash {state, owner, started_at, completed_at} with times
// in unix milliseconds.
var acquireScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
local now = tonumber(ARGV[1])
if state == 'running' then
  local started = tonumber(redis.call('HGET', KEYS[1], 'started_at') or '0')
  if now - started < tonumber(ARGV[2]) then return 'already_running' end
elseif state == 'completed' then
  local done = tonumber(redis.call('HGET', KEYS[1], 'completed_at') or '0')
  if now - done < tonumber(ARGV[3]) then return 'already_completed' end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'state', 'running', 'owner', ARGV[5], 'started_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 'ok'
`)

var completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'running' or redis.call('HGET', KEYS[1], 'owner') ~= ARGV[3] then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'completed', 'completed_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') == 'running' and redis.call('HGET', KEYS[1], 'owner') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore shares execution records between processes. Records expire on
// their own after the configured TTL, so Sweep has nothing to do.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. An empty prefix uses DefaultRedisPrefix
// and a non-positive ttl uses SweepAge.
func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = SweepAge
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) Acquire(ctx context.Context, key, owner string, now time.Time, lease Lease) (Reason, error) {
	res, err := acquireScript.Run(ctx, r.rdb, []string{r.prefix + key},
		now.UnixMilli(), lease.StaleAfter.Milliseconds(), lease.CompletedTTL.Milliseconds(), r.ttl.Milliseconds(), owner,
	).Text()
	if err != nil {
		return ReasonNone, fmt.Errorf("redis acquire: %w", err)
	}
	switch Reason(res) {
	case ReasonAlreadyRunning, ReasonAlreadyCompleted:
		return Reason(res), nil
	}
	return ReasonNone, nil
}

func (r *RedisStore) Complete(ctx context.Context, key, owner string, at time.Time) error {
	n, err := completeScript.Run(ctx, r.rdb, []string{r.prefix + key},
		at.UnixMilli(), r.ttl.Milliseconds(), owner).Int()
	if err != nil {
		return fmt.Errorf("redis complete: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *RedisStore) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{r.prefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

func (r *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// State returns the stored state for key, or "" when absent.
func (r *RedisStore) State(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.HGet(ctx, r.prefix+key, "state").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis state: %w", err)
	}
	return v, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/constants"
	apperrors "github.com/docufort/admitd/pkg/errors"
	"github.com/docufort/admitd/pkg/logger"
)

const redisKeyPrefix = "admitd:rl:"

// Lua scripts keep the read-modify-write cycle of each algorithm atomic on
// the Redis side, which gives the same per-key linearizability the local
// engine gets from its shard locks. Every script returns
// {allowed, remaining, retry_ms, reset_ms}.

// Epoch-aligned counter stored under a per-window key. Deny touches nothing.
const fixedWindowScript = `
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local window_start = now_ms - (now_ms % window_ms)
local reset_ms = window_start + window_ms - now_ms
local bucket = KEYS[1] .. ':' .. window_start

local used = tonumber(redis.call('GET', bucket) or '0')
if used < limit then
    redis.call('INCR', bucket)
    redis.call('PEXPIRE', bucket, window_ms + 1000)
    return {1, limit - used - 1, 0, reset_ms}
end
return {0, 0, reset_ms, reset_ms}
`

// Trailing log in a sorted set; expired members pruned on each check.
const slidingWindowScript = `
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local nonce = ARGV[4]

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now_ms - window_ms)
local count = redis.call('ZCARD', KEYS[1])
if count < limit then
    redis.call('ZADD', KEYS[1], now_ms, nonce)
    redis.call('PEXPIRE', KEYS[1], window_ms + 1000)
    return {1, limit - count - 1, 0, window_ms}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local retry = math.max(0, tonumber(oldest[2]) + window_ms - now_ms)
return {0, 0, retry, retry}
`

// Continuous refill. The level accounting is committed even on deny; the
// token itself is only consumed on admit.
const tokenBucketScript = `
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local rate = capacity / window_ms

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
    tokens = capacity
    ts = now_ms
end
tokens = math.min(capacity, tokens + (now_ms - ts) * rate)

local allowed = 0
local retry = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
else
    retry = math.ceil((1 - tokens) / rate)
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'ts', now_ms)
redis.call('PEXPIRE', KEYS[1], window_ms * 2)
local reset = math.ceil((capacity - tokens) / rate)
return {allowed, math.floor(tokens), retry, reset}
`

// Queue level draining at a constant rate.
const leakyBucketScript = `
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local rate = capacity / window_ms

local state = redis.call('HMGET', KEYS[1], 'level', 'ts')
local level = tonumber(state[1])
local ts = tonumber(state[2])
if level == nil then
    level = 0
    ts = now_ms
end
level = math.max(0, level - (now_ms - ts) * rate)

local allowed = 0
local retry = 0
if level < capacity then
    level = level + 1
    allowed = 1
else
    retry = math.ceil((level - capacity + 1) / rate)
end

redis.call('HMSET', KEYS[1], 'level', level, 'ts', now_ms)
redis.call('PEXPIRE', KEYS[1], window_ms * 2)
return {allowed, math.floor(capacity - level), retry, math.ceil(level / rate)}
`

// Single theoretical-arrival-time value per key.
const gcraScript = `
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local burst = tonumber(ARGV[4])

local interval = window_ms / limit
local tolerance = interval * (burst - 1)

local tat = tonumber(redis.call('GET', KEYS[1]) or '0')
if tat == 0 then
    tat = now_ms
end

local earliest = tat - tolerance
if now_ms < earliest then
    return {0, 0, earliest - now_ms, math.max(0, tat - now_ms)}
end

if tat < now_ms then
    tat = now_ms
end
tat = tat + interval
redis.call('SET', KEYS[1], tat, 'PX', math.ceil(tat - now_ms + window_ms))

local debt = math.max(0, tat - now_ms)
local remaining = math.floor((tolerance - debt + interval) / interval)
if remaining < 0 then
    remaining = 0
end
return {1, remaining, 0, math.max(0, tat - now_ms)}
`

// RedisLimiter is the shared-store rate limiter for horizontally scaled
// deployments. All five algorithms run as atomic Lua scripts. When Redis is
// unreachable the configured failure policy decides: fail-open delegates to
// the process-local engine and logs the degradation; fail-closed denies with
// a store_unavailable error.
type RedisLimiter struct {
	client        redis.UniversalClient
	cfg           AlgorithmSelector
	failurePolicy constants.FailurePolicy
	local         *Engine
	logger        logger.Logger
	scripts       map[constants.Algorithm]*redis.Script
}

// AlgorithmSelector resolves the algorithm configured for a resource class.
// config.RateLimitConfig satisfies it.
type AlgorithmSelector interface {
	AlgorithmFor(constants.ResourceClass) constants.Algorithm
}

// NewRedisLimiter builds the distributed limiter. local may be nil when the
// failure policy is fail-closed.
func NewRedisLimiter(
	client redis.UniversalClient,
	cfg AlgorithmSelector,
	failurePolicy constants.FailurePolicy,
	local *Engine,
	log logger.Logger,
) (*RedisLimiter, error) {
	if client == nil {
		return nil, apperrors.ErrInvalidRequest("redis client is required")
	}
	if failurePolicy == constants.FailOpen && local == nil {
		return nil, apperrors.ErrInvalidRequest("fail-open requires a local fallback engine")
	}
	if log == nil {
		log = logger.NewNoop()
	}

	return &RedisLimiter{
		client:        client,
		cfg:           cfg,
		failurePolicy: failurePolicy,
		local:         local,
		logger:        log.WithComponent("RedisLimiter"),
		scripts: map[constants.Algorithm]*redis.Script{
			constants.AlgorithmFixedWindow:   redis.NewScript(fixedWindowScript),
			constants.AlgorithmSlidingWindow: redis.NewScript(slidingWindowScript),
			constants.AlgorithmTokenBucket:   redis.NewScript(tokenBucketScript),
			constants.AlgorithmLeakyBucket:   redis.NewScript(leakyBucketScript),
			constants.AlgorithmGCRA:          redis.NewScript(gcraScript),
		},
	}, nil
}

// Check evaluates one request against the shared store.
func (rl *RedisLimiter) Check(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time) (models.RateLimitDecision, error) {
	if params.Limit <= 0 || params.Window <= 0 {
		return models.RateLimitDecision{}, nil
	}

	algo := rl.cfg.AlgorithmFor(key.Resource)
	script, ok := rl.scripts[algo]
	if !ok {
		return models.RateLimitDecision{}, fmt.Errorf("unknown rate limit algorithm %q", algo)
	}

	args := []interface{}{
		params.Limit,
		params.Window.Milliseconds(),
		now.UnixMilli(),
	}
	switch algo {
	case constants.AlgorithmSlidingWindow:
		args = append(args, uuid.NewString())
	case constants.AlgorithmGCRA:
		burst := params.Burst
		if burst < 1 {
			burst = 1
		}
		args = append(args, burst)
	}

	raw, err := script.Run(ctx, rl.client, []string{rl.storageKey(key)}, args...).Slice()
	if err != nil {
		return rl.degraded(ctx, key, params, now, err)
	}
	return decisionFromScript(raw, params), nil
}

// Usage reports the current state without consuming budget. A read-only
// approximation computed in Go; introspection does not need script atomicity.
func (rl *RedisLimiter) Usage(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time) (models.RateLimitDecision, error) {
	if params.Limit <= 0 || params.Window <= 0 {
		return models.RateLimitDecision{}, nil
	}

	algo := rl.cfg.AlgorithmFor(key.Resource)
	storageKey := rl.storageKey(key)

	st := &WindowState{}
	switch algo {
	case constants.AlgorithmFixedWindow:
		windowStart := now.Truncate(params.Window)
		bucket := fmt.Sprintf("%s:%d", storageKey, windowStart.UnixMilli())
		used, err := rl.client.Get(ctx, bucket).Int64()
		if err != nil && err != redis.Nil {
			return rl.degraded(ctx, key, params, now, err)
		}
		st.windowStart = windowStart
		st.used = used
	case constants.AlgorithmSlidingWindow:
		entries, err := rl.client.ZRangeByScoreWithScores(ctx, storageKey, &redis.ZRangeBy{
			Min: fmt.Sprintf("%d", now.Add(-params.Window).UnixMilli()),
			Max: "+inf",
		}).Result()
		if err != nil {
			return rl.degraded(ctx, key, params, now, err)
		}
		for _, z := range entries {
			st.log = append(st.log, time.UnixMilli(int64(z.Score)))
		}
	case constants.AlgorithmTokenBucket:
		vals, err := rl.client.HMGet(ctx, storageKey, "tokens", "ts").Result()
		if err != nil {
			return rl.degraded(ctx, key, params, now, err)
		}
		st.tokens, st.lastRefill = bucketFields(vals, float64(params.Limit))
	case constants.AlgorithmLeakyBucket:
		vals, err := rl.client.HMGet(ctx, storageKey, "level", "ts").Result()
		if err != nil {
			return rl.degraded(ctx, key, params, now, err)
		}
		st.level, st.lastDrain = bucketFields(vals, 0)
	case constants.AlgorithmGCRA:
		tatMs, err := rl.client.Get(ctx, storageKey).Float64()
		if err != nil && err != redis.Nil {
			return rl.degraded(ctx, key, params, now, err)
		}
		if tatMs > 0 {
			st.tat = time.UnixMilli(int64(tatMs))
		}
	}

	impl, err := NewAlgorithm(algo)
	if err != nil {
		return models.RateLimitDecision{}, err
	}
	return impl.Peek(st, params, now), nil
}

// Reset clears shared state for a key across all algorithm encodings.
func (rl *RedisLimiter) Reset(ctx context.Context, key models.RateLimitKey) error {
	storageKey := rl.storageKey(key)
	keys := []string{storageKey}

	// Fixed-window buckets are suffixed with the epoch start.
	iter := rl.client.Scan(ctx, 0, storageKey+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}

	if err := rl.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	return nil
}

// degraded applies the configured failure policy after a store error.
func (rl *RedisLimiter) degraded(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time, cause error) (models.RateLimitDecision, error) {
	if rl.failurePolicy == constants.FailClosed {
		rl.logger.Error(ctx, "rate limit store unavailable, denying (fail-closed)", cause,
			logger.String("key", key.String()),
		)
		return models.RateLimitDecision{Limit: params.Limit}, apperrors.ErrStoreUnavailable(cause)
	}

	rl.logger.Warn(ctx, "rate limit store unavailable, using local fallback (fail-open)",
		logger.String("key", key.String()),
		logger.String("error", cause.Error()),
	)
	return rl.local.Check(ctx, key, params, now)
}

func (rl *RedisLimiter) storageKey(key models.RateLimitKey) string {
	return redisKeyPrefix + key.String()
}

func decisionFromScript(raw []interface{}, params models.LimitParams) models.RateLimitDecision {
	get := func(i int) int64 {
		if i < len(raw) {
			if v, ok := raw[i].(int64); ok {
				return v
			}
		}
		return 0
	}
	return models.RateLimitDecision{
		Allowed:    get(0) == 1,
		Limit:      params.Limit,
		Remaining:  get(1),
		RetryAfter: time.Duration(get(2)) * time.Millisecond,
		ResetAfter: time.Duration(get(3)) * time.Millisecond,
	}
}

// bucketFields decodes the HMGET pair of a bucket state, returning the
// default level when the key does not exist.
func bucketFields(vals []interface{}, defaultLevel float64) (float64, time.Time) {
	level := defaultLevel
	var ts time.Time
	if len(vals) == 2 && vals[0] != nil && vals[1] != nil {
		if s, ok := vals[0].(string); ok {
			fmt.Sscanf(s, "%g", &level)
		}
		if s, ok := vals[1].(string); ok {
			var ms float64
			fmt.Sscanf(s, "%g", &ms)
			ts = time.UnixMilli(int64(ms))
		}
	}
	return level, ts
}

var _ service.RateLimitService = (*RedisLimiter)(nil)

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quotagate/quotagate/internal/storage"
	"github.com/redis/go-redis/v9"
)

// consumeWindowScript does the read-compare-increment as one server-side
// operation. Two concurrent callers can never both be admitted past the
// limit. KEYS[1] = window counter, ARGV = cost, limit, windowSeconds.
// Returns {allowed, count, ttlSeconds}.
var consumeWindowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local cost = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

if count + cost > limit then
    local ttl = redis.call('TTL', KEYS[1])
    if ttl < 0 then
        ttl = window
    end
    return {0, count, ttl}
end

count = redis.call('INCRBY', KEYS[1], cost)
local ttl = redis.call('TTL', KEYS[1])
if ttl < 0 then
    redis.call('EXPIRE', KEYS[1], window)
    ttl = window
end
return {1, count, ttl}
`)

// drawBurstScript refills the token bucket from the store's own clock and
// draws in the same round trip. KEYS[1] = bucket hash, ARGV = cost,
// capacity, refillPerSec, ttlSeconds. Returns {allowed, tokens-as-string}.
var drawBurstScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) + tonumber(t[2]) / 1000000
local cost = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
    tokens = capacity
    ts = now
end

tokens = math.min(capacity, tokens + (now - ts) * rate)

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// peekBurstScript computes the refilled token count without persisting it.
var peekBurstScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) + tonumber(t[2]) / 1000000
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
    return tostring(capacity)
end
return tostring(math.min(capacity, tokens + (now - ts) * rate))
`)

// RedisStore implements CounterStore on the shared Redis instance, so all
// server processes see one consistent count.
type RedisStore struct {
	redis *storage.RedisClient
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) ConsumeWindow(ctx context.Context, key string, cost, limit int64, window time.Duration) (WindowResult, error) {
	resp, err := s.redis.RunScript(ctx, consumeWindowScript, []string{key},
		cost, limit, int64(window.Seconds()))
	if err != nil {
		return WindowResult{}, fmt.Errorf("consume window: %w", err)
	}

	vals, ok := resp.([]interface{})
	if !ok || len(vals) != 3 {
		return WindowResult{}, fmt.Errorf("consume window: unexpected reply %T", resp)
	}

	return WindowResult{
		Allowed: vals[0].(int64) == 1,
		Count:   vals[1].(int64),
		ResetIn: time.Duration(vals[2].(int64)) * time.Second,
	}, nil
}

func (s *RedisStore) PeekWindow(ctx context.Context, key string, window time.Duration) (WindowResult, error) {
	val, err := s.redis.Get(ctx, key)
	if storage.IsNil(err) {
		return WindowResult{Count: 0, ResetIn: window}, nil
	}
	if err != nil {
		return WindowResult{}, fmt.Errorf("peek window: %w", err)
	}

	count, _ := strconv.ParseInt(val, 10, 64)

	ttl, err := s.redis.TTL(ctx, key)
	if err != nil || ttl < 0 {
		ttl = window
	}

	return WindowResult{Count: count, ResetIn: ttl}, nil
}

func (s *RedisStore) DrawBurst(ctx context.Context, key string, cost, capacity int64, refillPerSec float64) (BurstResult, error) {
	resp, err := s.redis.RunScript(ctx, drawBurstScript, []string{key},
		cost, capacity, refillPerSec, burstTTLSeconds(capacity, refillPerSec))
	if err != nil {
		return BurstResult{}, fmt.Errorf("draw burst: %w", err)
	}

	vals, ok := resp.([]interface{})
	if !ok || len(vals) != 2 {
		return BurstResult{}, fmt.Errorf("draw burst: unexpected reply %T", resp)
	}

	tokens, err := strconv.ParseFloat(vals[1].(string), 64)
	if err != nil {
		return BurstResult{}, fmt.Errorf("draw burst: bad token count: %w", err)
	}

	return BurstResult{
		Allowed: vals[0].(int64) == 1,
		Tokens:  tokens,
	}, nil
}

func (s *RedisStore) PeekBurst(ctx context.Context, key string, capacity int64, refillPerSec float64) (float64, error) {
	resp, err := s.redis.RunScript(ctx, peekBurstScript, []string{key}, capacity, refillPerSec)
	if err != nil {
		return 0, fmt.Errorf("peek burst: %w", err)
	}

	str, ok := resp.(string)
	if !ok {
		return 0, fmt.Errorf("peek burst: unexpected reply %T", resp)
	}

	return strconv.ParseFloat(str, 64)
}

func (s *RedisStore) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.redis.Del(ctx, keys...)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}

// Burst keys expire once a full refill plus a minute has passed without
// activity; an absent key means a full bucket.
func burstTTLSeconds(capacity int64, refillPerSec float64) int64 {
	if refillPerSec <= 0 {
		return 3600
	}
	return int64(float64(capacity)/refillPerSec) + 60
}

/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/telekom/tokengate/pkg/metrics"
)

// DefaultRedisPrefix namespaces bucket hashes in Redis.
const DefaultRedisPrefix = "tokengate:ratelimit"

// tokenBucketScript refills and debits one bucket atomically.
//
// KEYS[1] = bucket hash (fields tokens, ts)
// ARGV[1] = capacity
// ARGV[2] = refill rate in tokens per millisecond
// ARGV[3] = now in unix milliseconds
// ARGV[4] = cost
// ARGV[5] = idle ttl in milliseconds
//
// Returns {allowed (0|1), tokens left as string, retry after in ms}.
const tokenBucketScript = `
local key      = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate     = tonumber(ARGV[2])
local now      = tonumber(ARGV[3])
local cost     = tonumber(ARGV[4])
local ttl      = tonumber(ARGV[5])

local state  = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts     = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate)
  ts = now
end

local allowed = 0
local retry = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", tostring(ts))
redis.call("PEXPIRE", key, ttl)
return {allowed, tostring(tokens), retry}
`

var tokenBucket = redis.NewScript(tokenBucketScript)

// RedisOptions configures a RedisLimiter.
type RedisOptions struct {
	// Name is the policy name; it is part of the key and the metrics label
	Name   string
	Prefix string
	Clock  clock.PassiveClock
}

// RedisLimiter keeps token buckets in Redis so that every replica shares one quota per key.
type RedisLimiter struct {
	client redis.UniversalClient
	config Config
	name   string
	prefix string
	clock  clock.PassiveClock
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedis returns a limiter backed by client. It does not talk to Redis; the
// bucket script is loaded on first use and reloaded after a SCRIPT FLUSH.
func NewRedis(client redis.UniversalClient, cfg Config, opts RedisOptions) (*RedisLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &RedisLimiter{
		client: client,
		config: cfg.withDefaults(),
		name:   opts.Name,
		prefix: opts.Prefix,
		clock:  opts.Clock,
	}, nil
}

// Key returns the Redis key holding the bucket for key.
func (rl *RedisLimiter) Key(key string) string {
	return rl.prefix + ":" + rl.name + ":" + key
}

// TryAcquire runs the bucket script for key. Errors from Redis are returned as is.
func (rl *RedisLimiter) TryAcquire(ctx context.Context, key string, cost int) (Decision, error) {
	if err := validate(key, cost, rl.config.Capacity); err != nil {
		return Decision{}, err
	}

	keys := []string{rl.Key(key)}
	args := []any{
		rl.config.Capacity,
		strconv.FormatFloat(rl.config.Rate/1000, 'g', -1, 64),
		rl.clock.Now().UnixMilli(),
		cost,
		rl.config.MaxAge.Milliseconds(),
	}

	// Run tries EVALSHA and falls back to EVAL on NOSCRIPT
	res, err := tokenBucket.Run(ctx, rl.client, keys, args...).Slice()
	if err != nil {
		metrics.RateLimitBackendErrors.WithLabelValues(rl.name).Inc()
		return Decision{}, fmt.Errorf("redis token bucket %q: %w", rl.name, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis token bucket %q: unexpected reply %v", rl.name, res)
	}

	tokens, err := strconv.ParseFloat(fmt.Sprint(res[1]), 64)
	if err != nil {
		return Decision{}, fmt.Errorf("redis token bucket %q: parsing tokens: %w", rl.name, err)
	}
	d := Decision{
		Allowed:    toInt64(res[0]) == 1,
		Remaining:  int(math.Max(0, math.Floor(tokens))),
		Limit:      rl.config.Capacity,
		RetryAfter: time.Duration(toInt64(res[2])) * time.Millisecond,
	}
	recordDecision(rl.name, d)
	return d, nil
}

// Reset deletes the bucket hash for key.
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := rl.client.Del(ctx, rl.Key(key)).Err(); err != nil {
		metrics.RateLimitBackendErrors.WithLabelValues(rl.name).Inc()
		return fmt.Errorf("redis reset %q: %w", rl.name, err)
	}
	return nil
}

// Stop is a no-op; the Redis client is owned by the caller.
func (rl *RedisLimiter) Stop() {}

// Config returns the effective configuration
func (rl *RedisLimiter) Config() Config {
	return rl.config
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

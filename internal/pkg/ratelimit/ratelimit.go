package ratelimit

import (
	"context"
	"strconv"
	"time"

	"shotnews/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "shotnews:ratelimit:"

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
local refill = (delta * rate) / 1000.0
tokens = math.min(burst, tokens + refill)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tokens}
`

// RateLimiter 基于 Redis 的令牌桶限流器，按调用方传入的 key 区分桶。
type RateLimiter struct {
	rdb    *redis.Client
	rate   float64
	burst  float64
	script *redis.Script
}

// NewRedisRateLimiter 创建限流器。
//
// 参数:
//
//	rdb: Redis 客户端
//	rate: 令牌生成速率（token/s）
//	burst: 桶容量
func NewRedisRateLimiter(rdb *redis.Client, rate float64, burst float64) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		rate:   rate,
		burst:  burst,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Allow 尝试从 key 对应的桶中取一个令牌（非阻塞）。
//
// 返回 false 表示应当拒绝本次请求。Redis 出错时放行，
// 限流器失效不应导致正常请求被拒。
func (r *RateLimiter) Allow(ctx context.Context, key string) bool {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return true
	}

	start := time.Now()
	now := start.UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{keyPrefix + key}, r.rate, r.burst, now, 1).Result()
	if err != nil {
		return true
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 1 {
		return true
	}

	allowed := toInt64(values[0]) == 1
	if metrics.RateLimitWait != nil {
		metrics.RateLimitWait.Observe(time.Since(start).Seconds())
	}
	if !allowed && metrics.RateLimitRejected != nil {
		metrics.RateLimitRejected.Inc()
	}
	return allowed
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

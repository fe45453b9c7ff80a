package guard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisWindowPrefix     = "identity:ratelimit:"
	redisSuspiciousPrefix = "identity:suspicious:"
)

// checkAndRecordScript runs the fixed-window transition atomically.
// Returns {allowed, count, retry_after_ms}.
var checkAndRecordScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])

if start == nil or count == nil or now >= start + window then
  redis.call('HSET', KEYS[1], 'start', now, 'count', 1)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, 1, 0}
end

if count < threshold then
  count = redis.call('HINCRBY', KEYS[1], 'count', 1)
  return {1, count, 0}
end

return {0, count, start + window - now}
`)

// releaseScript decrements the window that contains ARGV[1], deleting it at zero.
var releaseScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local at = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

if start == nil or count == nil or at < start or at >= start + window then
  return 0
end
if count <= 1 then
  redis.call('DEL', KEYS[1])
  return 0
end
return redis.call('HINCRBY', KEYS[1], 'count', -1)
`)

// RedisLimiter is a Limiter shared across API replicas. Window keys carry a
// native TTL so Redis reclaims idle counters.
type RedisLimiter struct {
	client *redis.Client
	cfg    LimiterConfig
}

// NewRedisLimiter creates a limiter backed by the given client.
func NewRedisLimiter(client *redis.Client, cfg LimiterConfig) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg.withDefaults()}
}

func (r *RedisLimiter) CheckAndRecord(ctx context.Context, key string, now time.Time) (RateDecision, error) {
	threshold := r.cfg.ThresholdFor(key)
	res, err := checkAndRecordScript.Run(ctx, r.client,
		[]string{redisWindowPrefix + key},
		now.UnixMilli(), r.cfg.Window.Milliseconds(), threshold,
	).Int64Slice()
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return RateDecision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	decision := RateDecision{
		Allowed:    res[0] == 1,
		Count:      int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}

	if !decision.Allowed {
		if ip, isIP := strings.CutPrefix(key, IPKeyPrefix); isIP {
			if err := r.markSuspicious(ctx, ip); err != nil {
				return decision, err
			}
		}
	}
	return decision, nil
}

func (r *RedisLimiter) Release(ctx context.Context, key string, recordedAt time.Time) error {
	err := releaseScript.Run(ctx, r.client,
		[]string{redisWindowPrefix + key},
		recordedAt.UnixMilli(), r.cfg.Window.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("rate limit release: %w", err)
	}
	return nil
}

func (r *RedisLimiter) markSuspicious(ctx context.Context, ip string) error {
	// SetNX keeps the first flag's expiry instead of extending it.
	if err := r.client.SetNX(ctx, redisSuspiciousPrefix+ip, "1", r.cfg.SuspiciousTTL).Err(); err != nil {
		return fmt.Errorf("mark suspicious origin: %w", err)
	}
	return nil
}

// IsSuspicious relies on Redis key expiry; now is unused.
func (r *RedisLimiter) IsSuspicious(ctx context.Context, ip string, _ time.Time) (bool, error) {
	n, err := r.client.Exists(ctx, redisSuspiciousPrefix+ip).Result()
	if err != nil {
		return false, fmt.Errorf("check suspicious origin: %w", err)
	}
	return n > 0, nil
}

func (r *RedisLimiter) Status(ctx context.Context, key string, now time.Time) (RateStatus, error) {
	threshold := r.cfg.ThresholdFor(key)
	vals, err := r.client.HMGet(ctx, redisWindowPrefix+key, "start", "count").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return RateStatus{}, fmt.Errorf("read rate window: %w", err)
	}

	w, ok := parseRedisWindow(vals)
	return statusOf(w, ok, threshold, r.cfg.Window, now), nil
}

func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisWindowPrefix+key).Err()
}

func parseRedisWindow(vals []interface{}) (RateWindow, bool) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return RateWindow{}, false
	}
	startRaw, _ := vals[0].(string)
	countRaw, _ := vals[1].(string)
	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil {
		return RateWindow{}, false
	}
	count, err := strconv.Atoi(countRaw)
	if err != nil {
		return RateWindow{}, false
	}
	return RateWindow{AttemptCount: count, WindowStartedAt: time.UnixMilli(start)}, true
}

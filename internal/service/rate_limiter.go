package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"companion-llm/internal/domain"
)

// RateLimiter admite o rechaza requests por usuario. El token se descuenta
// en la admisión, no al completar: un request cancelado igual consumió.
type RateLimiter interface {
	// Allow devuelve si el request entra y, si no, cuántos segundos esperar.
	Allow(ctx context.Context, userID, tier string) (bool, int, error)
}

// tierBucket dimensiona el bucket según el tier efectivo de suscripción.
func tierBucket(tier string) (capacity, refillPerSec float64) {
	switch tier {
	case domain.TierVIP:
		return 100, 100.0 / 60
	case domain.TierPremium:
		return 30, 30.0 / 60
	default:
		return 5, 5.0 / 60
	}
}

func retryAfterSeconds(tokens, refillPerSec float64) int {
	wait := math.Ceil((1 - tokens) / refillPerSec)
	if wait < 1 {
		wait = 1
	}
	return int(wait)
}

/*
========================
 Implementación en redis
========================
*/

// Token bucket con refill continuo, atómico vía Lua. Devuelve {allowed, retry}.
const redisTokenBucketScript = `
local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = math.max(0, now - ts) / 1000.0
tokens = math.min(capacity, tokens + elapsed * refill)

local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) / refill)
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("EXPIRE", KEYS[1], math.ceil(capacity / refill) * 2)
return {allowed, retry}
`

type redisRateLimiter struct {
	client rateEvaler
	prefix string
}

type rateEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

func NewRedisRateLimiter(client *redis.Client) RateLimiter {
	if client == nil {
		return nil
	}
	return &redisRateLimiter{client: client, prefix: "chat:rl:"}
}

func (l *redisRateLimiter) Allow(ctx context.Context, userID, tier string) (bool, int, error) {
	if l == nil || l.client == nil {
		return true, 0, nil
	}
	key := l.prefix + strings.TrimSpace(userID)
	capacity, refill := tierBucket(tier)

	evalCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	res, err := l.client.Eval(evalCtx, redisTokenBucketScript, []string{key},
		capacity, refill, time.Now().UnixMilli()).Slice()
	if err != nil || len(res) != 2 {
		// Si redis no está, dejamos pasar: el límite es protección, no correctness.
		return true, 0, nil
	}

	allowed, _ := res[0].(int64)
	retry, _ := res[1].(int64)
	if allowed == 1 {
		return true, 0, nil
	}
	if retry < 1 {
		retry = 1
	}
	return false, int(retry), nil
}

/*
========================
 Implementación en memoria
========================
*/

type memoryBucket struct {
	tokens float64
	last   time.Time
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

// NewMemoryRateLimiter sirve para dev, tests y despliegues sin redis.
func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{buckets: make(map[string]*memoryBucket)}
}

func (l *memoryRateLimiter) Allow(ctx context.Context, userID, tier string) (bool, int, error) {
	return l.allowAt(userID, tier, time.Now())
}

func (l *memoryRateLimiter) allowAt(userID, tier string, now time.Time) (bool, int, error) {
	capacity, refill := tierBucket(tier)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		b = &memoryBucket{tokens: capacity, last: now}
		l.buckets[userID] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*refill)
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}
	return false, retryAfterSeconds(b.tokens, refill), nil
}

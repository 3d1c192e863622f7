package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"companion-llm/internal/domain"
)

// IdempotencyCache acelera el replay de regalos. Es solo un cache: el
// registro autoritativo vive en la misma transacción que el cobro, así que
// perder el cache nunca pierde idempotencia.
type IdempotencyCache interface {
	Get(ctx context.Context, userID, key string) (domain.IdempotencyRecord, bool)
	Put(ctx context.Context, record domain.IdempotencyRecord)
}

type memoryIdempotencyCache struct {
	mu    sync.Mutex
	items map[string]domain.IdempotencyRecord
}

func NewMemoryIdempotencyCache() IdempotencyCache {
	return &memoryIdempotencyCache{items: make(map[string]domain.IdempotencyRecord)}
}

func (c *memoryIdempotencyCache) Get(_ context.Context, userID, key string) (domain.IdempotencyRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.items[userID+"|"+key]
	if !ok {
		return domain.IdempotencyRecord{}, false
	}
	if rec.Expired(time.Now().UTC()) {
		delete(c.items, userID+"|"+key)
		return domain.IdempotencyRecord{}, false
	}
	return rec, true
}

func (c *memoryIdempotencyCache) Put(_ context.Context, record domain.IdempotencyRecord) {
	if strings.TrimSpace(record.Key) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[record.UserID+"|"+record.Key] = record
}

type redisIdempotencyCache struct {
	client *redis.Client
	prefix string
}

func NewRedisIdempotencyCache(client *redis.Client) IdempotencyCache {
	if client == nil {
		return nil
	}
	return &redisIdempotencyCache{client: client, prefix: "gift:idem:"}
}

func (c *redisIdempotencyCache) Get(ctx context.Context, userID, key string) (domain.IdempotencyRecord, bool) {
	if strings.TrimSpace(key) == "" {
		return domain.IdempotencyRecord{}, false
	}
	opCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := c.client.Get(opCtx, c.prefix+userID+":"+key).Bytes()
	if err != nil {
		return domain.IdempotencyRecord{}, false
	}
	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.UserID != userID {
		return domain.IdempotencyRecord{}, false
	}
	if rec.Expired(time.Now().UTC()) {
		return domain.IdempotencyRecord{}, false
	}
	return rec, true
}

func (c *redisIdempotencyCache) Put(ctx context.Context, record domain.IdempotencyRecord) {
	if strings.TrimSpace(record.Key) == "" {
		return
	}
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	// Best effort: si redis falla, el lookup cae a la tabla persistida.
	_ = c.client.Set(opCtx, c.prefix+record.UserID+":"+record.Key, raw, ttl).Err()
}

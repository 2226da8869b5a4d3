package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// Deduper suppresses duplicate events within a short window. Keys are
// derived from the event type, the entity it concerns and a
// minute-granularity time bucket, so identical events arriving in the
// same minute collapse to one.
type Deduper interface {
	// Seen marks the key and reports whether it was already marked.
	Seen(ctx context.Context, key string) (bool, error)
}

// DedupKey builds the suppression key for an event. Events without an
// identifiable entity return an empty key and are never deduplicated.
func DedupKey(event models.Event) string {
	entityID := event.EntityID()
	if entityID == "" {
		return ""
	}

	bucket := event.Timestamp.UTC().Truncate(time.Minute).Unix()

	return fmt.Sprintf("dedup:%s:%s:%d", event.EventType, entityID, bucket)
}

// RedisDeduper backs deduplication with Redis SETNX so multiple
// dispatcher instances share one suppression window.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	set, err := d.client.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}

	return !set, nil
}

// MemoryDeduper is a process-local deduper for single-instance
// deployments and tests.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl}
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for existing, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, existing)
		}
	}

	if _, ok := d.seen[key]; ok {
		return true, nil
	}

	d.seen[key] = now.Add(d.ttl)

	return false, nil
}

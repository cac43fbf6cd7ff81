// Package redis wraps the optional redis connection. The gateway only uses
// it for webhook replay deduplication; when no REDIS_ADDR is configured the
// caller falls back to the in-memory Deduper in this package.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers keys for a TTL and reports first-sight exactly once.
type Deduper interface {
	// MarkOnce returns true the first time key is seen within ttl.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Service is the redis-backed Deduper.
type Service struct {
	client *redis.Client
}

// NewService connects to redis and verifies the connection.
func NewService(addr, password string) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Service{client: client}, nil
}

// MarkOnce implements Deduper with SET NX.
func (s *Service) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, "voicegw:dedup:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx failed: %w", err)
	}
	return ok, nil
}

// Ping reports connection health.
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the redis connection.
func (s *Service) Close() error {
	return s.client.Close()
}

// MemoryDeduper is the in-process fallback Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper creates an empty in-memory deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time)}
}

// MarkOnce implements Deduper. Expired keys are reaped opportunistically.
func (d *MemoryDeduper) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}

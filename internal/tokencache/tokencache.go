// Package tokencache holds short-lived upstream auth tokens keyed by host.
package tokencache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when no unexpired token is cached for the host.
var ErrMiss = errors.New("token cache miss")

type Cache interface {
	Get(ctx context.Context, host string) (string, error)
	Set(ctx context.Context, host, token string, ttl time.Duration) error
}

// Fetch returns a cached token for host, or calls fetch and caches its
// result for the returned ttl minus a safety margin.
func Fetch(ctx context.Context, c Cache, host string, fetch func(ctx context.Context) (string, time.Duration, error)) (string, error) {
	if tok, err := c.Get(ctx, host); err == nil {
		return tok, nil
	} else if !errors.Is(err, ErrMiss) {
		return "", err
	}

	tok, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if ttl > time.Minute {
		ttl -= 30 * time.Second
	}
	if ttl > 0 {
		_ = c.Set(ctx, host, tok, ttl)
	}
	return tok, nil
}

type entry struct {
	token     string
	expiresAt time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, host string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[host]
	if !ok || !m.now().Before(e.expiresAt) {
		delete(m.entries, host)
		return "", ErrMiss
	}
	return e.token, nil
}

func (m *MemoryCache) Set(_ context.Context, host, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[host] = entry{token: token, expiresAt: m.now().Add(ttl)}
	return nil
}

// RedisCache shares tokens between the api, worker and poller processes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "token:"}
}

func (r *RedisCache) Get(ctx context.Context, host string) (string, error) {
	tok, err := r.client.Get(ctx, r.prefix+host).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return tok, err
}

func (r *RedisCache) Set(ctx context.Context, host, token string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+host, token, ttl).Err()
}

// Package secrets fronts the managed secret store. The store itself is an
// external collaborator; the gateway only depends on the Provider contract
// and ships an environment/file-backed provider for local and single-box
// deployments.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Provider fetches a named secret from the managed store.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvProvider resolves secrets from environment variables, with an optional
// directory of secret files mounted by the deployment (one file per secret).
type EnvProvider struct {
	Dir string
}

// GetSecret implements Provider. The name is upper-snaked for the env lookup;
// the file lookup uses the name verbatim.
func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", "/", "_", ".", "_").Replace(name))
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	if p.Dir != "" {
		b, err := os.ReadFile(p.Dir + "/" + name)
		if err == nil {
			return strings.TrimSpace(string(b)), nil
		}
	}
	return "", fmt.Errorf("secret %q not found", name)
}

// CachedProvider wraps a Provider with a per-secret TTL cache so hot paths
// never block on the store.
type CachedProvider struct {
	inner Provider
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// NewCachedProvider builds the cache; ttl <= 0 defaults to 10 minutes.
func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedProvider{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cachedSecret),
	}
}

// GetSecret implements Provider. A fetch failure keeps serving a stale value
// if one exists.
func (p *CachedProvider) GetSecret(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	entry, ok := p.cache[name]
	p.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < p.ttl {
		return entry.value, nil
	}

	value, err := p.inner.GetSecret(ctx, name)
	if err != nil {
		if ok {
			return entry.value, nil
		}
		return "", err
	}

	p.mu.Lock()
	p.cache[name] = cachedSecret{value: value, fetchedAt: time.Now()}
	p.mu.Unlock()
	return value, nil
}

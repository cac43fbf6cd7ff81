package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"go.uber.org/zap"
)

// DefaultAgentConfigTTL is how long a loaded agent-config blob is trusted
// before the loader is consulted again.
const DefaultAgentConfigTTL = 10 * time.Minute

// AgentConfigLoader fetches and decrypts the agent-config blob from wherever
// it lives (secret store, local file).
type AgentConfigLoader func(ctx context.Context) ([]*AgentDescriptor, error)

// AgentConfigCache is a TTL cache over the decrypted agent-config blob.
// Reads are lock-cheap; a stale cache triggers a single reload while other
// readers keep serving the previous snapshot.
type AgentConfigCache struct {
	loader AgentConfigLoader
	ttl    time.Duration

	mu        sync.RWMutex
	byAgentID map[string]*AgentDescriptor
	loadedAt  time.Time

	reloadMu sync.Mutex
}

// NewAgentConfigCache builds a cache around the loader. ttl <= 0 uses the default.
func NewAgentConfigCache(loader AgentConfigLoader, ttl time.Duration) *AgentConfigCache {
	if ttl <= 0 {
		ttl = DefaultAgentConfigTTL
	}
	return &AgentConfigCache{
		loader:    loader,
		ttl:       ttl,
		byAgentID: make(map[string]*AgentDescriptor),
	}
}

// Load forces a synchronous load. Called once at startup; a failure here with
// an invalid auth tag must abort the process.
func (c *AgentConfigCache) Load(ctx context.Context) error {
	descriptors, err := c.loader(ctx)
	if err != nil {
		return fmt.Errorf("failed to load agent config: %w", err)
	}
	byID := make(map[string]*AgentDescriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.AgentID] = d
	}

	c.mu.Lock()
	c.byAgentID = byID
	c.loadedAt = time.Now()
	c.mu.Unlock()

	logger.Base().Info("agent config loaded", zap.Int("agents", len(byID)))
	return nil
}

// Get returns the descriptor for an agent id, refreshing lazily when the
// snapshot is older than the TTL. A failed refresh keeps serving stale data.
func (c *AgentConfigCache) Get(ctx context.Context, agentID string) (*AgentDescriptor, bool) {
	c.mu.RLock()
	d, ok := c.byAgentID[agentID]
	stale := time.Since(c.loadedAt) > c.ttl
	c.mu.RUnlock()

	if stale {
		c.refresh(ctx)
		c.mu.RLock()
		d, ok = c.byAgentID[agentID]
		c.mu.RUnlock()
	}
	return d, ok
}

// Age reports how old the current snapshot is.
func (c *AgentConfigCache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loadedAt.IsZero() {
		return -1
	}
	return time.Since(c.loadedAt)
}

// Count returns the number of cached descriptors.
func (c *AgentConfigCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byAgentID)
}

func (c *AgentConfigCache) refresh(ctx context.Context) {
	// Only one goroutine reloads; the rest serve the stale snapshot.
	if !c.reloadMu.TryLock() {
		return
	}
	defer c.reloadMu.Unlock()

	c.mu.RLock()
	stillStale := time.Since(c.loadedAt) > c.ttl
	c.mu.RUnlock()
	if !stillStale {
		return
	}

	if err := c.Load(ctx); err != nil {
		logger.Base().Warn("agent config refresh failed, serving stale snapshot", zap.Error(err))
		c.mu.Lock()
		// Push the next retry out a little so a broken store is not hammered.
		c.loadedAt = time.Now().Add(-c.ttl + 30*time.Second)
		c.mu.Unlock()
	}
}

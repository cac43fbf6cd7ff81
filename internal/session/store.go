// Package session holds the call-scoped binding of a gateway-minted call id
// to a tenant credential snapshot. Sessions live exclusively in memory and
// die with the process; nothing here ever touches disk.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

const (
	// DefaultTTL is how long a session outlives its creation without an
	// explicit destroy.
	DefaultTTL = 600 * time.Second

	// SweepInterval is how often the background sweep evicts expired sessions.
	SweepInterval = 30 * time.Second

	defaultTimezone    = domain.DefaultTimezone
	defaultEnvironment = domain.EnvironmentProduction
)

// Session binds one call id to a credentials snapshot for the call's lifetime.
type Session struct {
	CallID         string                 `json:"call_id"`
	AgentID        string                 `json:"agent_id"`
	TenantID       string                 `json:"tenant_id"`
	Credentials    domain.Credentials     `json:"credentials"`
	CreatedAt      time.Time              `json:"created_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
	LastAccessedAt time.Time              `json:"last_accessed_at"`
	AccessCount    int64                  `json:"access_count"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// Store is the concurrency-safe in-memory session map. A successful Get
// returns a deep copy, so the snapshot a handler sees is internally
// consistent regardless of concurrent updates.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	done     chan struct{}
	stopOnce sync.Once
}

// NewStore creates the store and starts the periodic eviction sweep.
func NewStore() *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Create registers a new session. It fails if the call id already exists.
// A zero ttl gets DefaultTTL; missing environment and timezone get defaults.
func (s *Store) Create(callID, agentID string, creds *domain.Credentials, ttl time.Duration, metadata map[string]interface{}) (*Session, error) {
	if callID == "" {
		return nil, fmt.Errorf("call id is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	snapshot := *creds
	if snapshot.Environment == "" {
		snapshot.Environment = defaultEnvironment
	}
	if snapshot.Timezone == "" {
		snapshot.Timezone = defaultTimezone
	}

	now := time.Now()
	sess := &Session{
		CallID:         callID,
		AgentID:        agentID,
		TenantID:       snapshot.TenantID,
		Credentials:    snapshot,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		Metadata:       map[string]interface{}{},
	}
	for k, v := range metadata {
		sess.Metadata[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[callID]; exists {
		return nil, fmt.Errorf("session already exists for call %s", callID)
	}
	s.sessions[callID] = sess

	logger.Base().Info("session created",
		zap.String("call_id", callID),
		zap.String("agent_id", agentID),
		zap.String("tenant_id", sess.TenantID),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	return copySession(sess), nil
}

// Get returns a copy of the session if it exists and has not expired. The
// read bumps last_accessed_at and the access count. An expired hit is
// deleted and reported as absent. Reads never extend the TTL.
func (s *Store) Get(callID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[callID]
	if !exists {
		return nil, false
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(s.sessions, callID)
		logger.Base().Info("session expired on read", zap.String("call_id", callID))
		return nil, false
	}

	sess.LastAccessedAt = time.Now()
	sess.AccessCount++
	return copySession(sess), true
}

// Update shallow-merges partial metadata into the session's metadata map.
// It does not extend the TTL.
func (s *Store) Update(callID string, partial map[string]interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[callID]
	if !exists || time.Now().After(sess.ExpiresAt) {
		return false
	}
	for k, v := range partial {
		sess.Metadata[k] = v
	}
	return true
}

// Destroy removes a session. Idempotent; reports whether the key existed.
func (s *Store) Destroy(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.sessions[callID]
	if existed {
		delete(s.sessions, callID)
		logger.Base().Info("session destroyed", zap.String("call_id", callID))
	}
	return existed
}

// Count returns the number of live (possibly expired but unswept) sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes all expired sessions and returns how many it evicted.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		logger.Base().Info("session sweep evicted expired sessions", zap.Int("count", evicted))
	}
	return evicted
}

// Close stops the sweep loop and runs one final sweep.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.Sweep()
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// copySession deep-copies a session so callers can never mutate store state
// or observe a half-applied update.
func copySession(src *Session) *Session {
	var dst Session
	if err := copier.CopyWithOption(&dst, src, copier.Option{DeepCopy: true}); err != nil {
		logger.Base().Warn("session copy failed", zap.Error(err))
		shallow := *src
		return &shallow
	}
	return &dst
}

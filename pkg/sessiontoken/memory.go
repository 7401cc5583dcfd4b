package sessiontoken

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-memory credential cache.
type MemoryCache struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryCache creates a new in-memory credential cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		creds: make(map[string]*Credential),
	}
}

func (m *MemoryCache) Put(_ context.Context, sessionID, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[sessionID] = &Credential{
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryCache) Get(_ context.Context, sessionID string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if cred.Expired() {
		return nil, ErrExpired
	}
	return cred, nil
}

func (m *MemoryCache) Revoke(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, sessionID)
	return nil
}

func (m *MemoryCache) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, cred := range m.creds {
		if cred.Expired() {
			delete(m.creds, id)
			count++
		}
	}
	return count, nil
}

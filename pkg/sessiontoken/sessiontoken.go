// Package sessiontoken caches session credentials in memory with a TTL, so
// token checks do not have to round-trip through the record store.
package sessiontoken

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("session token not found")
	ErrExpired  = errors.New("session token expired")
)

// Credential is a cached session token with its expiry.
type Credential struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired checks if the credential has expired.
func (c *Credential) Expired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Cache defines the credential cache interface.
type Cache interface {
	// Put stores a session's token with the given TTL.
	Put(ctx context.Context, sessionID, token string, ttl time.Duration) error
	// Get retrieves a credential. Returns ErrNotFound or ErrExpired.
	Get(ctx context.Context, sessionID string) (*Credential, error)
	// Revoke removes a session's credential.
	Revoke(ctx context.Context, sessionID string) error
	// Sweep removes all expired credentials.
	Sweep(ctx context.Context) (int, error)
}

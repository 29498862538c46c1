// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session implements the streaming session core of the Orphwise
// CLI: credential caching, the turn state machine, the conversation
// store, and the controller that drives one streamed turn end to end.
//
// # Architecture
//
//	Controller → TokenCache → CredentialProvider
//	     ↓
//	HTTP stream → ux.StreamReader → ux.EventParser
//	     ↓
//	TurnState reducers → Conversation
//
// The controller owns the stream handle for the lifetime of one turn
// and guarantees exactly one terminal transition per turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Credential
// =============================================================================

// DefaultRefreshBuffer is the window before expiry within which a
// cached credential is considered stale and refreshed.
const DefaultRefreshBuffer = 60 * time.Second

// ErrAuthUnavailable indicates no valid credential can be obtained.
// Surfaced to the user as "log in again"; a turn never opens when the
// token cache returns this.
var ErrAuthUnavailable = errors.New("authentication unavailable: log in again")

// Credential is a short-lived bearer token authorizing requests to the
// analysis service.
//
// Credentials are created by the provider, cached process-wide, and
// replaced wholesale on refresh. They are never partially mutated.
type Credential struct {
	// Token is the bearer token value.
	Token string

	// ExpiresAt is the expiry time in Unix epoch seconds.
	ExpiresAt int64
}

// UsableAt reports whether the credential is still fresh enough to use
// at the given instant: its remaining lifetime must exceed the buffer.
func (c Credential) UsableAt(now time.Time, buffer time.Duration) bool {
	if c.Token == "" {
		return false
	}
	remaining := time.Duration(c.ExpiresAt-now.Unix()) * time.Second
	return remaining > buffer
}

// =============================================================================
// Credential Provider
// =============================================================================

// CredentialProvider issues bearer credentials for the analysis
// service. Implementations wrap the identity backend; failures surface
// through the token cache as ErrAuthUnavailable.
type CredentialProvider interface {
	// CreateToken requests a fresh credential.
	//
	// Outputs:
	//   - Credential: Token plus expiry on success.
	//   - error: Non-nil when no credential can be issued.
	CreateToken(ctx context.Context) (Credential, error)

	// HasActiveSession reports whether the user holds a login session
	// from which tokens can be minted.
	HasActiveSession(ctx context.Context) bool
}

// =============================================================================
// Token Cache
// =============================================================================

// TokenCache owns the single cached credential and decides reuse vs
// refresh.
//
// # Description
//
// The cache holds at most one Credential at a time. GetValidToken
// returns the cached value without any network interaction while it is
// fresh (per UsableAt), and otherwise refreshes through the provider,
// replacing the stored value atomically.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent GetValidToken calls during
// expiry issue exactly one refresh: callers coalesce on a singleflight
// group and share the resulting credential.
type TokenCache struct {
	provider CredentialProvider
	buffer   time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cred  Credential
	group singleflight.Group
}

// NewTokenCache creates a cache with the default 60 second refresh
// buffer.
func NewTokenCache(provider CredentialProvider) *TokenCache {
	return NewTokenCacheWithClock(provider, DefaultRefreshBuffer, time.Now)
}

// NewTokenCacheWithClock creates a cache with explicit buffer and
// clock. Used by tests to control time.
func NewTokenCacheWithClock(provider CredentialProvider, buffer time.Duration, now func() time.Time) *TokenCache {
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	if now == nil {
		now = time.Now
	}
	return &TokenCache{
		provider: provider,
		buffer:   buffer,
		now:      now,
	}
}

// GetValidToken returns a usable credential, refreshing if needed.
//
// # Description
//
// Fast path: the cached credential is fresh and returned without
// touching the provider. Slow path: the refresh is funneled through a
// singleflight group so overlapping callers trigger one provider call;
// the new credential replaces the old one under the write lock so no
// reader observes a half-written value.
//
// # Outputs
//
//   - Credential: A credential fresh for at least the buffer window.
//   - error: ErrAuthUnavailable (possibly wrapped) when the provider
//     has no active session or cannot issue a token.
func (c *TokenCache) GetValidToken(ctx context.Context) (Credential, error) {
	c.mu.RLock()
	cred := c.cred
	c.mu.RUnlock()

	if cred.UsableAt(c.now(), c.buffer) {
		return cred, nil
	}

	result, err, _ := c.group.Do("refresh", func() (any, error) {
		// Re-check: another caller may have refreshed while we waited
		// on the group.
		c.mu.RLock()
		current := c.cred
		c.mu.RUnlock()
		if current.UsableAt(c.now(), c.buffer) {
			return current, nil
		}

		if !c.provider.HasActiveSession(ctx) {
			return Credential{}, ErrAuthUnavailable
		}

		fresh, err := c.provider.CreateToken(ctx)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
		}

		c.mu.Lock()
		c.cred = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return result.(Credential), nil
}

// Invalidate drops the cached credential so the next GetValidToken
// refreshes. Used after the server rejects a token.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.cred = Credential{}
	c.mu.Unlock()
}

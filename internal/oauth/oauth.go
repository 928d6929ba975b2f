// Package oauth implements the OAuth Credential Subsystem: device-code and
// authorization-code+PKCE login flows, single-flight token refresh, and
// atomic on-disk token persistence for providers whose credentials are
// OAuth tokens rather than static API keys (Qwen, iFlow).
package oauth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/corepipe"
)

// Manager resolves a CredentialID to a valid access token, transparently
// refreshing expired tokens at most once per credential at a time.
type Manager struct {
	clients map[string]config.OAuthClient
	store   *TokenStore
	group   singleflight.Group

	mu     sync.Mutex
	cached map[string]*oauth2.Token
}

// NewManager returns a Manager over the configured OAuth clients, loading
// any tokens already persisted in dir.
func NewManager(clients []config.OAuthClient, dir string) (*Manager, error) {
	m := &Manager{
		clients: make(map[string]config.OAuthClient, len(clients)),
		store:   NewTokenStore(dir),
		cached:  make(map[string]*oauth2.Token),
	}
	for _, c := range clients {
		m.clients[c.ID] = c
	}
	return m, nil
}

// Token returns a valid access token for credentialID, refreshing it first
// if expired. Concurrent callers for the same credential share one
// in-flight refresh via singleflight.
func (m *Manager) Token(ctx context.Context, credentialID string) (*oauth2.Token, error) {
	client, ok := m.clients[credentialID]
	if !ok {
		return nil, fmt.Errorf("oauth: unknown credential id %q", credentialID)
	}

	tok := m.cachedToken(credentialID)
	if tok == nil {
		loaded, err := m.store.Load(credentialID)
		if err != nil {
			return nil, fmt.Errorf("oauth: load token %q: %w", credentialID, err)
		}
		tok = loaded
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: credential %q has no stored token, run login", corepipe.ErrAuthInvalid, credentialID)
	}
	if tok.Valid() {
		return tok, nil
	}

	result, err, _ := m.group.Do(credentialID, func() (any, error) {
		return m.refresh(ctx, client, tok)
	})
	if err != nil {
		return nil, err
	}
	return result.(*oauth2.Token), nil
}

// ForceRefresh refreshes credentialID's token regardless of its cached
// expiry, single-flighted against any concurrent refresh for the same
// credential. Used when an upstream 401/403 indicates the token is already
// rejected even though the client-side clock thought it was still valid.
func (m *Manager) ForceRefresh(ctx context.Context, credentialID string) (*oauth2.Token, error) {
	client, ok := m.clients[credentialID]
	if !ok {
		return nil, fmt.Errorf("oauth: unknown credential id %q", credentialID)
	}

	tok := m.cachedToken(credentialID)
	if tok == nil {
		loaded, err := m.store.Load(credentialID)
		if err != nil {
			return nil, fmt.Errorf("oauth: load token %q: %w", credentialID, err)
		}
		tok = loaded
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: credential %q has no stored token, run login", corepipe.ErrAuthInvalid, credentialID)
	}

	result, err, _ := m.group.Do(credentialID, func() (any, error) {
		return m.refresh(ctx, client, tok)
	})
	if err != nil {
		return nil, err
	}
	return result.(*oauth2.Token), nil
}

func (m *Manager) refresh(ctx context.Context, client config.OAuthClient, current *oauth2.Token) (*oauth2.Token, error) {
	policy := refreshPolicyFor(client)
	var lastErr error
	for attempt := 0; attempt < policy.maxAttempts; attempt++ {
		next, err := refreshOnce(ctx, client, current)
		if err == nil {
			m.setCachedToken(client.ID, next)
			if storeErr := m.store.Save(client.ID, next); storeErr != nil {
				return next, fmt.Errorf("oauth: persist refreshed token: %w", storeErr)
			}
			return next, nil
		}
		if isPermanentRefreshError(err) {
			return nil, fmt.Errorf("%w: %s: %v", corepipe.ErrOAuthRefreshPermanent, client.ID, err)
		}
		lastErr = err
		policy.wait(attempt)
	}
	return nil, fmt.Errorf("oauth: refresh %q exhausted %d attempts: %w", client.ID, policy.maxAttempts, lastErr)
}

func (m *Manager) cachedToken(id string) *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached[id]
}

func (m *Manager) setCachedToken(id string, tok *oauth2.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached[id] = tok
}

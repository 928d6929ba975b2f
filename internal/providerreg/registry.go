// Package providerreg builds corepipe.ProviderHandle pools from resolved
// configuration and hands out credentials from each provider's rotation
// pool. Route pools, classifier rules, and compat mappings are read-only
// after startup: a config reload builds a brand new immutable snapshot and
// swaps it in atomically -- no in-place mutation of a live snapshot.
package providerreg

import (
	"fmt"
	"sync/atomic"

	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/corepipe"
)

// snapshot is the immutable, read-only-after-build view of every configured
// provider entry, expanded into routable handles.
type snapshot struct {
	entries map[string]*entry // keyed by ProviderEntry.Name
}

// entry tracks one provider's expanded credential pool and round-robin
// cursor. The cursor is the only mutable field in the registry; everything
// else is replaced wholesale on reload.
type entry struct {
	cfg   config.ProviderEntry
	auths []corepipe.AuthContext
	next  atomic.Uint32 // round-robin index into auths
}

// Registry resolves provider names to ProviderHandle values, rotating
// credentials round-robin across each provider's configured pool.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry builds a Registry from the given provider entries.
func NewRegistry(providers []config.ProviderEntry) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(providers); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload atomically replaces the registry's snapshot. In-flight requests
// holding a handle from the old snapshot are unaffected.
func (r *Registry) Reload(providers []config.ProviderEntry) error {
	next := &snapshot{entries: make(map[string]*entry, len(providers))}
	for _, p := range providers {
		if !p.IsEnabled() {
			continue
		}
		auths, err := buildAuthPool(p)
		if err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
		next.entries[p.Name] = &entry{cfg: p, auths: auths}
	}
	r.snap.Store(next)
	return nil
}

func buildAuthPool(p config.ProviderEntry) ([]corepipe.AuthContext, error) {
	if len(p.Credentials) == 0 {
		auth, err := resolveAuth(p.Auth)
		if err != nil {
			return nil, err
		}
		return []corepipe.AuthContext{auth}, nil
	}
	pool := make([]corepipe.AuthContext, 0, len(p.Credentials))
	for i, c := range p.Credentials {
		auth, err := resolveAuth(c.Auth)
		if err != nil {
			return nil, fmt.Errorf("credential[%d]: %w", i, err)
		}
		pool = append(pool, auth)
	}
	return pool, nil
}

func resolveAuth(a config.AuthEntry) (corepipe.AuthContext, error) {
	switch a.Type {
	case "", "apikey":
		return corepipe.AuthContext{Kind: corepipe.AuthAPIKey, HeaderName: a.HeaderName, Prefix: a.Prefix, Key: a.Key}, nil
	case "bearer":
		headerName := a.HeaderName
		if headerName == "" {
			headerName = "Authorization"
		}
		prefix := a.Prefix
		if prefix == "" {
			prefix = "Bearer "
		}
		return corepipe.AuthContext{Kind: corepipe.AuthBearer, HeaderName: headerName, Prefix: prefix, Key: a.Key}, nil
	case "basic":
		return corepipe.AuthContext{Kind: corepipe.AuthBasic, Username: a.Username, Password: a.Password}, nil
	case "oauth":
		if a.CredentialID == "" {
			return corepipe.AuthContext{}, fmt.Errorf("oauth auth requires credential_id")
		}
		return corepipe.AuthContext{Kind: corepipe.AuthOAuth, CredentialID: a.CredentialID}, nil
	default:
		return corepipe.AuthContext{}, fmt.Errorf("unknown auth type %q", a.Type)
	}
}

// Resolve returns the ProviderHandle for (providerName, model), rotating to
// the next credential in the provider's pool round-robin.
func (r *Registry) Resolve(providerName, model string) (corepipe.ProviderHandle, error) {
	snap := r.snap.Load()
	e, ok := snap.entries[providerName]
	if !ok {
		return corepipe.ProviderHandle{}, fmt.Errorf("%w: %q", corepipe.ErrProviderIDMissing, providerName)
	}
	return e.handleFor(model), nil
}

// ResolveExcluding returns a handle like Resolve, but skips forward past any
// credential whose composed ProviderKey appears in excluded. Returns false
// if every credential in the pool is excluded.
func (r *Registry) ResolveExcluding(providerName, model string, excluded []string) (corepipe.ProviderHandle, bool) {
	snap := r.snap.Load()
	e, ok := snap.entries[providerName]
	if !ok {
		return corepipe.ProviderHandle{}, false
	}
	for attempt := 0; attempt < len(e.auths); attempt++ {
		h := e.handleFor(model)
		if !containsKey(excluded, h.ProviderKey) {
			return h, true
		}
	}
	return corepipe.ProviderHandle{}, false
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func (e *entry) handleFor(model string) corepipe.ProviderHandle {
	idx := int(e.next.Add(1)-1) % len(e.auths)
	auth := e.auths[idx]

	upstreamModel := model
	if alias, ok := e.cfg.ModelAliases[model]; ok {
		upstreamModel = alias
	}

	baseURLs := append([]string{e.cfg.BaseURL}, e.cfg.BaseURLCandidates...)

	return corepipe.ProviderHandle{
		ProviderKey:       fmt.Sprintf("%s#%d", e.cfg.Name, idx),
		ProviderFamily:    e.cfg.Family,
		Model:             upstreamModel,
		BaseURLCandidates: baseURLs,
		Auth:              auth,
		Weight:            e.cfg.Weight,
		Priority:          e.cfg.Priority,
		StreamPreference:  e.cfg.StreamPreference,
	}
}

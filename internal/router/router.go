// Package router implements the Virtual Router: it classifies an inbound
// request against configured rules and resolves an ordered pool of
// candidate providers for it. Resolved pools are cached to avoid repeated
// classification on the hot path; the cache is a read-through layer over
// the route table, never the source of truth.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/providerreg"
)

// poolCacheTTL bounds how long a resolved pool is reused before the router
// re-derives it from the route table. Short enough to pick up a config
// reload quickly, long enough to remove classification from the hot path.
const poolCacheTTL = 10 * time.Second

// rule is one compiled classifier entry: a route alias with the model it
// binds to, and its ordered provider targets.
type rule struct {
	alias   string
	name    string
	targets []config.TargetEntry
}

// Router resolves a requested model to a RoutingDecision. Rules are
// immutable after Reload swaps in a new slice; only the pool cache below it
// is mutated per lookup.
type Router struct {
	providers *providerreg.Registry
	rules     []rule
	cache     *otter.Cache[string, corepipe.RoutingDecision]
}

// New returns a Router over the given provider registry and route table.
func New(providers *providerreg.Registry, routes []config.RouteEntry) (*Router, error) {
	r := &Router{providers: providers}
	r.compile(routes)
	cache := otter.Must(&otter.Options[string, corepipe.RoutingDecision]{
		MaximumSize:      1024,
		ExpiryCalculator: otter.ExpiryWriting[string, corepipe.RoutingDecision](poolCacheTTL),
	})
	r.cache = cache
	return r, nil
}

// Reload replaces the route table with a freshly compiled one and drops the
// pool cache so old decisions referencing stale targets are never reused.
func (r *Router) Reload(routes []config.RouteEntry) {
	r.compile(routes)
	r.cache.InvalidateAll()
}

func (r *Router) compile(routes []config.RouteEntry) {
	rules := make([]rule, 0, len(routes))
	for _, rt := range routes {
		rules = append(rules, rule{alias: rt.ModelAlias, name: rt.Rule, targets: rt.Targets})
	}
	r.rules = rules
}

// Resolve classifies the request body's model against the compiled rules
// and returns an ordered RoutingDecision pool. ERR_NO_PROVIDER_TARGET is
// returned when no rule matches and no catch-all (empty alias) rule exists.
func (r *Router) Resolve(ctx context.Context, req *corepipe.PipelineRequest) (corepipe.RoutingDecision, error) {
	model, _ := req.Body["model"].(string)
	if cached, ok := r.cache.GetIfPresent(model); ok {
		return filterExcluded(cached, req.ExcludedKeys), nil
	}

	matched := r.match(model)
	if matched == nil {
		return corepipe.RoutingDecision{}, fmt.Errorf("%w: model %q", corepipe.ErrNoProviderTarget, model)
	}

	pool := make([]corepipe.ProviderHandle, 0, len(matched.targets))
	for _, t := range matched.targets {
		h, err := r.providers.Resolve(t.Provider, t.Model)
		if err != nil {
			continue
		}
		h.Priority = t.Priority
		h.Weight = t.Weight
		pool = append(pool, h)
	}
	if len(pool) == 0 {
		return corepipe.RoutingDecision{}, fmt.Errorf("%w: model %q has no live providers", corepipe.ErrNoProviderTarget, model)
	}

	decision := corepipe.RoutingDecision{RouteAlias: matched.alias, Rule: matched.name, Pool: pool}
	r.cache.Set(model, decision)
	return filterExcluded(decision, req.ExcludedKeys), nil
}

// match finds the first rule whose alias equals model, falling back to the
// catch-all rule (empty alias) if present.
func (r *Router) match(model string) *rule {
	var catchAll *rule
	for i := range r.rules {
		if r.rules[i].alias == model {
			return &r.rules[i]
		}
		if r.rules[i].alias == "" && catchAll == nil {
			catchAll = &r.rules[i]
		}
	}
	return catchAll
}

// filterExcluded removes any pool member whose ProviderKey is in excluded,
// enforcing the executor's per-call exclusion list without mutating the
// cached decision.
func filterExcluded(d corepipe.RoutingDecision, excluded []string) corepipe.RoutingDecision {
	if len(excluded) == 0 {
		return d
	}
	filtered := make([]corepipe.ProviderHandle, 0, len(d.Pool))
	for _, h := range d.Pool {
		skip := false
		for _, key := range excluded {
			if h.ProviderKey == key {
				skip = true
				break
			}
		}
		if !skip {
			filtered = append(filtered, h)
		}
	}
	return corepipe.RoutingDecision{RouteAlias: d.RouteAlias, Rule: d.Rule, Pool: filtered}
}

package main

import (
	"net/http"
	"time"

	"github.com/rs/dnscache"

	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/transport"
)

// familyDialer builds one transport.Client per provider family present in
// the config, sharing a single DNS cache resolver across all of them; each
// family gets its own *http.Transport. It satisfies executor.TransportDialer.
type familyDialer struct {
	clients map[string]*transport.Client
}

func newFamilyDialer(providers []config.ProviderEntry, resolver *dnscache.Resolver) *familyDialer {
	d := &familyDialer{clients: make(map[string]*transport.Client)}
	for _, p := range providers {
		if _, ok := d.clients[p.Family]; ok {
			continue
		}
		base := transport.NewHTTPTransport(resolver, p.Family != "lmstudio")
		httpClient := &http.Client{Transport: base}
		if p.TimeoutMs > 0 {
			httpClient.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
		} else {
			httpClient.Timeout = 0 // streaming calls manage their own timeout in transport.Client
		}
		d.clients[p.Family] = transport.NewClient(httpClient, p.Family)
	}
	return d
}

// ClientFor returns the shared transport.Client for family, building a
// bare default client on first use by an unconfigured family (should not
// happen in practice since the router only resolves configured providers).
func (d *familyDialer) ClientFor(family string) *transport.Client {
	if c, ok := d.clients[family]; ok {
		return c
	}
	c := transport.NewClient(&http.Client{}, family)
	d.clients[family] = c
	return c
}

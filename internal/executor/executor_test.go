package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/routecodex/routecodex/internal/compat"
	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/providerreg"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/transport"
)

type allowAllHealth struct{}

func (allowAllHealth) Allow(string) bool { return true }
func (allowAllHealth) RecordResult(string, corepipe.RetrySignal, time.Duration) {}

type singleFamilyDialer struct{ client *transport.Client }

func (d singleFamilyDialer) ClientFor(string) *transport.Client { return d.client }

func TestExecuteSucceedsAgainstFirstProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	providers := []config.ProviderEntry{
		{Name: "p1", Family: "openai", BaseURL: srv.URL, Auth: config.AuthEntry{Type: "apikey", Key: "sk-test"}},
	}
	reg, err := providerreg.NewRegistry(providers)
	if err != nil {
		t.Fatal(err)
	}
	routes := []config.RouteEntry{
		{ModelAlias: "gpt-4o", Targets: []config.TargetEntry{{Provider: "p1", Model: "gpt-4o"}}},
	}
	rt, err := router.New(reg, routes)
	if err != nil {
		t.Fatal(err)
	}

	ex := New(rt, compat.NewRegistry(), singleFamilyDialer{client: transport.NewClient(srv.Client(), "openai")}, allowAllHealth{}, nil, corepipe.NewResponsesContextStore(1024))

	req := &corepipe.PipelineRequest{
		Payload: corepipe.InboundPayload{Kind: corepipe.PayloadChat},
		Body:    map[string]any{"model": "gpt-4o", "messages": []any{map[string]any{"role": "user", "content": "hi"}}},
	}

	out, err := ex.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if out.Handle.ProviderFamily != "openai" {
		t.Errorf("provider family = %q, want openai", out.Handle.ProviderFamily)
	}
	if out.Body["id"] != "chatcmpl-1" {
		t.Errorf("unexpected body: %#v", out.Body)
	}
}

func TestExecuteReturnsErrorWhenPoolExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	providers := []config.ProviderEntry{
		{Name: "p1", Family: "openai", BaseURL: srv.URL, Auth: config.AuthEntry{Type: "apikey", Key: "sk-test"}},
	}
	reg, _ := providerreg.NewRegistry(providers)
	routes := []config.RouteEntry{
		{ModelAlias: "gpt-4o", Targets: []config.TargetEntry{{Provider: "p1", Model: "gpt-4o"}}},
	}
	rt, _ := router.New(reg, routes)

	ex := New(rt, compat.NewRegistry(), singleFamilyDialer{client: transport.NewClient(srv.Client(), "openai")}, allowAllHealth{}, nil, corepipe.NewResponsesContextStore(1024))

	req := &corepipe.PipelineRequest{
		Payload: corepipe.InboundPayload{Kind: corepipe.PayloadChat},
		Body:    map[string]any{"model": "gpt-4o", "messages": []any{}},
	}

	_, err := ex.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

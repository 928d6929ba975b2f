package compat

import (
	"testing"

	"github.com/routecodex/routecodex/internal/corepipe"
)

func TestApplyClampsQwenMaxTokens(t *testing.T) {
	r := NewRegistry()
	req := &corepipe.PipelineRequest{Body: map[string]any{"model": "qwen-max", "max_tokens": float64(99999)}}
	handle := corepipe.ProviderHandle{ProviderFamily: "qwen", Model: "qwen-max"}
	if err := r.Apply(req, handle); err != nil {
		t.Fatal(err)
	}
	if req.Body["max_tokens"] != 8192 {
		t.Errorf("max_tokens = %v, want 8192", req.Body["max_tokens"])
	}
}

func TestApplySetsAnthropicVersionHeader(t *testing.T) {
	r := NewRegistry()
	req := &corepipe.PipelineRequest{Body: map[string]any{"model": "claude-3-5-sonnet"}}
	handle := corepipe.ProviderHandle{ProviderFamily: "anthropic", Model: "claude-3-5-sonnet"}
	if err := r.Apply(req, handle); err != nil {
		t.Fatal(err)
	}
	if req.Headers["anthropic-version"] != "2023-06-01" {
		t.Errorf("missing anthropic-version header: %#v", req.Headers)
	}
}

func TestApplySubstitutesModelAndDropsEmptyTools(t *testing.T) {
	r := NewRegistry(Profile{
		Family:          "lmstudio",
		ModelSubstitute: map[string]string{"gpt-4o": "local-llama-3"},
		Ops: []FieldOp{
			{Kind: OpDropIfEmpty, Field: "tools"},
		},
	})
	req := &corepipe.PipelineRequest{Body: map[string]any{"model": "gpt-4o", "tools": []any{}}}
	handle := corepipe.ProviderHandle{ProviderFamily: "lmstudio", Model: "gpt-4o"}
	if err := r.Apply(req, handle); err != nil {
		t.Fatal(err)
	}
	if req.Body["model"] != "local-llama-3" {
		t.Errorf("model = %v, want local-llama-3", req.Body["model"])
	}
	if _, exists := req.Body["tools"]; exists {
		t.Errorf("expected empty tools to be dropped, got %#v", req.Body["tools"])
	}
}

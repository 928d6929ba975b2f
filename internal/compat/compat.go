// Package compat applies provider-specific wire-dialect adjustments after
// llmswitch has produced the canonical chat-completion body: field
// renames, clamps, default-if-absent, drop-if-empty, and model-id
// substitution. Tool schemas are passed through without reshaping. Header
// finalization is always the last step applied, after every body rewrite.
package compat

import (
	"strings"

	"github.com/routecodex/routecodex/internal/corepipe"
)

// FieldOp is one declarative body mutation applied in order.
type FieldOp struct {
	Kind         OpKind
	Field        string
	RenameTo     string
	DefaultValue any
	ClampMax     int
}

// OpKind discriminates the FieldOp union.
type OpKind int

const (
	OpRename OpKind = iota
	OpClampInt
	OpDefaultIfAbsent
	OpDropIfEmpty
)

// Profile is the declarative set of transforms for one provider family.
type Profile struct {
	Family          string
	ModelSubstitute map[string]string // client-facing model id -> upstream model id
	Ops             []FieldOp
	MaxTokensClamp  int // 0 = no family-wide clamp
}

// Registry maps provider families to their compat profiles.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry returns a Registry pre-loaded with the known provider family
// profiles plus any caller-supplied overrides (later entries win).
func NewRegistry(extra ...Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	for _, p := range defaultProfiles() {
		r.profiles[p.Family] = p
	}
	for _, p := range extra {
		r.profiles[p.Family] = p
	}
	return r
}

// Apply rewrites req.Body in place for the given handle's provider family,
// then finalizes provider-specific headers as the last step.
func (r *Registry) Apply(req *corepipe.PipelineRequest, handle corepipe.ProviderHandle) error {
	profile, ok := r.profiles[handle.ProviderFamily]
	if !ok {
		profile = Profile{Family: handle.ProviderFamily}
	}

	// Model-ID substitution: only an explicitly configured mapping rewrites
	// the client-facing id. An unmatched name passes through unchanged
	// rather than being forced to the handle's upstream model id.
	if sub, ok := profile.ModelSubstitute[str(req.Body["model"])]; ok {
		req.Body["model"] = sub
	}

	for _, op := range profile.Ops {
		applyOp(req.Body, op)
	}

	if profile.MaxTokensClamp > 0 {
		if n := asInt(req.Body["max_tokens"]); n > profile.MaxTokensClamp {
			req.Body["max_tokens"] = profile.MaxTokensClamp
		}
	}

	finalizeHeaders(req, handle)
	return nil
}

func applyOp(body map[string]any, op FieldOp) {
	switch op.Kind {
	case OpRename:
		if v, ok := body[op.Field]; ok {
			delete(body, op.Field)
			body[op.RenameTo] = v
		}
	case OpClampInt:
		if n := asInt(body[op.Field]); n > op.ClampMax {
			body[op.Field] = op.ClampMax
		}
	case OpDefaultIfAbsent:
		if _, ok := body[op.Field]; !ok {
			body[op.Field] = op.DefaultValue
		}
	case OpDropIfEmpty:
		if isEmpty(body[op.Field]) {
			delete(body, op.Field)
		}
	}
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// finalizeHeaders sets provider-dialect-specific headers as the final step
// of compat, after every body rewrite has already happened.
func finalizeHeaders(req *corepipe.PipelineRequest, handle corepipe.ProviderHandle) {
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	switch handle.ProviderFamily {
	case "anthropic":
		req.Headers["anthropic-version"] = "2023-06-01"
	case "gemini":
		if handle.Auth.Kind == corepipe.AuthAPIKey {
			req.Headers["x-goog-api-key"] = handle.Auth.Key
		}
	}
}

// defaultProfiles returns the built-in compat profiles for the provider
// families named in the routing roster. Qwen and iFlow both clamp
// max_tokens to 8192; LM Studio drops an empty tools array and Qwen drops
// an empty tool_choice, which would otherwise confuse their
// OpenAI-compatible endpoints.
func defaultProfiles() []Profile {
	return []Profile{
		{Family: "openai"},
		{Family: "lmstudio", Ops: []FieldOp{
			{Kind: OpDropIfEmpty, Field: "tools"},
		}},
		{Family: "qwen", MaxTokensClamp: 8192, Ops: []FieldOp{
			{Kind: OpDropIfEmpty, Field: "tool_choice"},
		}},
		{Family: "iflow", MaxTokensClamp: 8192},
		{Family: "gemini"},
		{Family: "antigravity"},
		{Family: "anthropic"},
		{Family: "custom"},
	}
}

// FamilyFromModel reports whether model belongs to a case-insensitively
// detected model family, used by callers that need family-aware clamping
// before a ProviderHandle is resolved.
func FamilyFromModel(model, family string) bool {
	return strings.Contains(strings.ToLower(model), strings.ToLower(family))
}

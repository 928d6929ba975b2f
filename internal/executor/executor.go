// Package executor is the Request Executor stage: it drives one client
// call through routing, LLMSwitch, compatibility, and provider transport,
// retrying across the routing pool according to each attempt's classified
// RetrySignal until it succeeds, exhausts the pool, or trips the repeated-
// failure poison switch.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/routecodex/routecodex/internal/compat"
	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/llmswitch"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/tokencount"
	"github.com/routecodex/routecodex/internal/transport"
)

// HealthGate is the provider-error center's interface onto the circuit
// breaker: the executor consults it before every attempt and reports the
// outcome after. Implemented by internal/health.
type HealthGate interface {
	Allow(providerKey string) bool
	RecordResult(providerKey string, sig corepipe.RetrySignal, latency time.Duration)
}

// TransportDialer resolves the transport.Client for a provider family,
// letting the executor stay family-agnostic.
type TransportDialer interface {
	ClientFor(family string) *transport.Client
}

// TokenResolver resolves a CredentialID to a live bearer token, refreshing
// it first if necessary. Implemented by internal/oauth.Manager.
type TokenResolver interface {
	Token(ctx context.Context, credentialID string) (*oauth2.Token, error)
	// ForceRefresh refreshes the token regardless of its cached expiry, used
	// when an upstream 401/403 shows the token is already rejected.
	ForceRefresh(ctx context.Context, credentialID string) (*oauth2.Token, error)
}

// Executor wires together the stages downstream of ingress classification.
type Executor struct {
	Router      *router.Router
	Compat      *compat.Registry
	Dialer      TransportDialer
	Health      HealthGate
	OAuth       TokenResolver
	Stores      *corepipe.ResponsesContextStore
	Tokens      *tokencount.Counter
	ServerTools ServerToolExecutor

	consecutiveFailureLimit int
}

// New returns an Executor with the default poison-switch threshold. oauth
// may be nil when no configured provider uses AuthOAuth.
func New(r *router.Router, c *compat.Registry, dialer TransportDialer, health HealthGate, oauth TokenResolver, store *corepipe.ResponsesContextStore) *Executor {
	return &Executor{
		Router:                  r,
		Compat:                  c,
		Dialer:                  dialer,
		Health:                  health,
		OAuth:                   oauth,
		Stores:                  store,
		Tokens:                  tokencount.NewCounter(),
		ServerTools:             builtinServerTools{},
		consecutiveFailureLimit: 3,
	}
}

// Outcome is what Execute returns: either a complete JSON response body or
// a live SSE stream result from the winning attempt.
type Outcome struct {
	Body   map[string]any
	Stream *transport.Result
	Switch llmswitch.Switch
	Handle corepipe.ProviderHandle
	Usage  corepipe.UsageMetrics
	// Finalized is true when Body is already in the client's own wire
	// dialect (e.g. a Responses object reassembled from an SSE stream the
	// client never asked for) and must bypass Switch.FromChat entirely.
	Finalized bool
}

// Execute drives req through the routing pool until one attempt succeeds,
// then, for Responses requests, follows any gateway-side ServerTool
// directive the provider issued mid-response through a bounded number of
// automatic second-pass re-entries before returning the final Outcome.
func (e *Executor) Execute(ctx context.Context, req *corepipe.PipelineRequest) (*Outcome, error) {
	for depth := 0; ; depth++ {
		out, calls, err := e.executeOnce(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(calls) == 0 || req.Payload.Kind != corepipe.PayloadResponses || depth >= maxServerToolReentries {
			return out, nil
		}
		next, err := e.buildServerToolFollowup(ctx, req, calls)
		if err != nil {
			return nil, err
		}
		req = next
	}
}

// executeOnce drives req through the routing pool until one attempt
// succeeds or the pool/attempt budget is exhausted, returning any
// gateway-side ServerTool directives the response carried alongside it.
func (e *Executor) executeOnce(ctx context.Context, req *corepipe.PipelineRequest) (*Outcome, []serverToolCall, error) {
	sw, err := llmswitch.Dispatch(req.Payload.Kind)
	if err != nil {
		return nil, nil, err
	}
	if err := sw.ToChat(req); err != nil {
		return nil, nil, fmt.Errorf("executor: llmswitch.ToChat: %w", err)
	}

	decision, err := e.Router.Resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	tracker := newFingerprintTracker(e.consecutiveFailureLimit)
	attempts := 0

	for poolIdx := 0; poolIdx < len(decision.Pool) && attempts < transport.MaxProviderAttempts; poolIdx++ {
		handle := decision.Pool[poolIdx]
		if !e.Health.Allow(handle.ProviderKey) {
			continue
		}

		if handle.Auth.Kind == corepipe.AuthOAuth {
			tok, err := e.resolveOAuthToken(ctx, handle.Auth.CredentialID)
			if err != nil {
				e.Health.RecordResult(handle.ProviderKey, corepipe.RetrySignal{Code: "ERR_OAUTH", StatusCode: 401}, 0)
				continue
			}
			handle.Auth.Key = tok
		}

		client := e.Dialer.ClientFor(handle.ProviderFamily)
		backoffCalc := transport.NewBackoffCalculator()
		oauthReplayed := false

		for {
			attempts++
			attemptReq := req.Clone()
			attemptReq.Attempt = attempts

			if err := e.Compat.Apply(attemptReq, handle); err != nil {
				return nil, nil, fmt.Errorf("executor: compat.Apply: %w", err)
			}

			body, err := json.Marshal(attemptReq.Body)
			if err != nil {
				return nil, nil, fmt.Errorf("executor: marshal body: %w", err)
			}

			start := time.Now()
			result, sendErr := client.Send(ctx, attemptReq, handle, pathForFamily(handle.ProviderFamily), body)
			latency := time.Since(start)

			sig := client.Classify(result, sendErr, backoffCalc)
			e.Health.RecordResult(handle.ProviderKey, sig, latency)

			if sendErr == nil && result.StatusCode >= 200 && result.StatusCode < 300 {
				usage := corepipe.UsageMetrics{
					LatencyMs:  latency.Milliseconds(),
					StatusCode: result.StatusCode,
					Provider:   handle.ProviderFamily,
					Model:      handle.Model,
					Retries:    attempts - 1,
				}

				if result.Stream != nil && !attemptReq.Stream {
					respBody, finalized, aggErr := aggregateStream(result.Stream, handle.ProviderFamily, req.Payload.Kind)
					if aggErr != nil {
						return nil, nil, fmt.Errorf("executor: aggregate stream: %w", aggErr)
					}
					applyUsage(&usage, respBody)
					if usage.TotalTokens == 0 {
						e.estimateUsage(&usage, attemptReq, respBody)
					}
					var calls []serverToolCall
					if req.Payload.Kind == corepipe.PayloadResponses {
						calls = extractServerToolCalls(finalized, respBody)
					}
					return &Outcome{Body: respBody, Finalized: finalized, Switch: sw, Handle: handle, Usage: usage}, calls, nil
				}

				respBody := decodeIfJSON(result)
				applyUsage(&usage, respBody)
				if usage.TotalTokens == 0 && result.Stream == nil {
					e.estimateUsage(&usage, attemptReq, respBody)
				}
				var calls []serverToolCall
				if req.Payload.Kind == corepipe.PayloadResponses {
					calls = extractServerToolCalls(false, respBody)
				}
				return &Outcome{Body: respBody, Stream: result, Switch: sw, Handle: handle, Usage: usage}, calls, nil
			}

			// A 401/403 against an OAuth-backed handle gets one reactive
			// refresh-and-replay before falling into ordinary credential
			// rotation: the cached token looked valid by clock but the
			// upstream already rejected it.
			if handle.Auth.Kind == corepipe.AuthOAuth && !oauthReplayed && (sig.StatusCode == 401 || sig.StatusCode == 403) {
				oauthReplayed = true
				if newKey, refreshErr := e.forceRefreshOAuthToken(ctx, handle.Auth.CredentialID); refreshErr == nil {
					handle.Auth.Key = newKey
					continue
				}
			}

			if !sig.Retryable || attempts >= transport.MaxProviderAttempts {
				if tracker.poisoned(handle.ProviderFamily, sig) {
					return nil, nil, fmt.Errorf("%w: %s", corepipe.ErrProviderFamilyPoisoned, handle.ProviderFamily)
				}
				break
			}
			if tracker.poisoned(handle.ProviderFamily, sig) {
				return nil, nil, fmt.Errorf("%w: %s", corepipe.ErrProviderFamilyPoisoned, handle.ProviderFamily)
			}

			// NextBaseURL first re-attempts this handle against the base URL
			// candidates after the one that just answered, keeping the same
			// credential. Once those are used up, and for RotateCredential,
			// the executor moves on to the next pool entry.
			if sig.NextBaseURL && result != nil {
				next := -1
				for i, u := range handle.BaseURLCandidates {
					if u == result.BaseURL {
						next = i + 1
						break
					}
				}
				if next > 0 && next < len(handle.BaseURLCandidates) {
					handle.BaseURLCandidates = handle.BaseURLCandidates[next:]
					continue
				}
			}
			if sig.NextBaseURL || sig.RotateCredential {
				break
			}
			if sig.WaitBeforeRetry > 0 {
				select {
				case <-ctx.Done():
					return nil, nil, ctx.Err()
				case <-time.After(sig.WaitBeforeRetry):
				}
				continue
			}
			break
		}
	}

	return nil, nil, fmt.Errorf("%w: exhausted %d attempts across %d providers", corepipe.ErrPoolExhausted, attempts, len(decision.Pool))
}

// resolveOAuthToken returns the bare access token string for credentialID,
// or an error if no OAuth resolver is wired or the refresh failed.
func (e *Executor) resolveOAuthToken(ctx context.Context, credentialID string) (string, error) {
	if e.OAuth == nil {
		return "", fmt.Errorf("%w: no oauth manager configured", corepipe.ErrAuthInvalid)
	}
	tok, err := e.OAuth.Token(ctx, credentialID)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// forceRefreshOAuthToken bypasses the cached token's expiry check, used
// after an upstream 401/403 already rejected it.
func (e *Executor) forceRefreshOAuthToken(ctx context.Context, credentialID string) (string, error) {
	if e.OAuth == nil {
		return "", fmt.Errorf("%w: no oauth manager configured", corepipe.ErrAuthInvalid)
	}
	tok, err := e.OAuth.ForceRefresh(ctx, credentialID)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func pathForFamily(family string) string {
	switch family {
	case "anthropic":
		return "/v1/messages"
	case "gemini", "antigravity":
		return "/v1beta/models:generateContent"
	default:
		return "/v1/chat/completions"
	}
}

// applyUsage copies a usage block the upstream did include into usage,
// leaving it untouched (all zero) when absent so the caller knows to fall
// back to estimation.
func applyUsage(usage *corepipe.UsageMetrics, body map[string]any) {
	raw, ok := body["usage"].(map[string]any)
	if !ok {
		return
	}
	usage.PromptTokens = asInt(raw["prompt_tokens"])
	usage.CompletionTokens = asInt(raw["completion_tokens"])
	usage.TotalTokens = asInt(raw["total_tokens"])
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
}

// estimateUsage fills in a heuristic token count for providers whose
// non-streaming response omits a usage block entirely.
func (e *Executor) estimateUsage(usage *corepipe.UsageMetrics, req *corepipe.PipelineRequest, body map[string]any) {
	if e.Tokens == nil {
		return
	}
	messages, _ := req.Body["messages"].([]any)
	usage.PromptTokens = e.Tokens.EstimateMessages(messages)

	completion := ""
	if choices, ok := body["choices"].([]any); ok {
		for _, c := range choices {
			if m, ok := c.(map[string]any); ok {
				if msg, ok := m["message"].(map[string]any); ok {
					if s, ok := msg["content"].(string); ok {
						completion += s
					}
				}
			}
		}
	}
	usage.CompletionTokens = e.Tokens.CountText(completion)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
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

func decodeIfJSON(result *transport.Result) map[string]any {
	if result.Stream != nil {
		return nil
	}
	var body map[string]any
	_ = json.Unmarshal(result.Body, &body)
	return body
}

package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/routecodex/routecodex/internal/corepipe"
)

// maxServerToolReentries bounds the number of automatic second-pass pipeline
// re-entries one client call can trigger, guarding against a provider that
// keeps re-issuing the same directive.
const maxServerToolReentries = 3

// ServerToolExecutor resolves a gateway-side tool directive a provider
// returned mid-response -- one the client never sees and never answers via
// submit_tool_outputs -- and reports its result back to the provider on a
// second pipeline pass.
type ServerToolExecutor interface {
	Execute(ctx context.Context, name, arguments string) (string, error)
}

// serverToolNames are the tool names the gateway resolves itself rather
// than surfacing to the client as a function call to answer.
var serverToolNames = map[string]bool{
	"web_search":       true,
	"get_current_time": true,
}

func isServerTool(name string) bool {
	return serverToolNames[name]
}

// builtinServerTools is the default ServerToolExecutor: it answers
// get_current_time directly and recognizes web_search as a server-tool
// directive without a search backend wired, surfacing a clear error instead
// of silently dropping the directive.
type builtinServerTools struct{}

func (builtinServerTools) Execute(_ context.Context, name, _ string) (string, error) {
	switch name {
	case "get_current_time":
		return time.Now().UTC().Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("executor: no server-tool backend configured for %q", name)
	}
}

// serverToolCall is one provider-issued directive extracted from a
// successful attempt's response body, before it is handed to FromChat.
type serverToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// extractServerToolCalls recognizes server-tool directives in a Responses
// request's response body. finalized selects between the already-built
// Responses output[] shape (from stream aggregation) and the canonical
// chat-completion choices[].message.tool_calls shape every other response
// path produces.
func extractServerToolCalls(finalized bool, body map[string]any) []serverToolCall {
	if finalized {
		return extractFromResponsesOutput(body)
	}
	return extractFromChatToolCalls(body)
}

func extractFromResponsesOutput(body map[string]any) []serverToolCall {
	var calls []serverToolCall
	output, _ := body["output"].([]any)
	for _, raw := range output {
		item, ok := raw.(map[string]any)
		if !ok || item["type"] != "function_call" {
			continue
		}
		name, _ := item["name"].(string)
		if !isServerTool(name) {
			continue
		}
		callID, _ := item["call_id"].(string)
		args, _ := item["arguments"].(string)
		calls = append(calls, serverToolCall{CallID: callID, Name: name, Arguments: args})
	}
	return calls
}

func extractFromChatToolCalls(body map[string]any) []serverToolCall {
	var calls []serverToolCall
	choices, _ := body["choices"].([]any)
	for _, rawChoice := range choices {
		choice, ok := rawChoice.(map[string]any)
		if !ok {
			continue
		}
		msg, _ := choice["message"].(map[string]any)
		toolCalls, _ := msg["tool_calls"].([]any)
		for _, rawTC := range toolCalls {
			tc, ok := rawTC.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := tc["function"].(map[string]any)
			name, _ := fn["name"].(string)
			if !isServerTool(name) {
				continue
			}
			callID, _ := tc["id"].(string)
			args, _ := fn["arguments"].(string)
			calls = append(calls, serverToolCall{CallID: callID, Name: name, Arguments: args})
		}
	}
	return calls
}

// buildServerToolFollowup executes every pending call and folds the results
// into a follow-up request via Reenter, preserving original's requestId so
// the Responses context store (and the client, if it later polls) still
// recognizes the conversation.
func (e *Executor) buildServerToolFollowup(ctx context.Context, original *corepipe.PipelineRequest, calls []serverToolCall) (*corepipe.PipelineRequest, error) {
	toolOutputs := make([]any, 0, len(calls))
	for _, call := range calls {
		result, err := e.ServerTools.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", corepipe.ErrServerToolFollowup, call.Name, err)
		}
		toolOutputs = append(toolOutputs, map[string]any{
			"type":    "function_call_output",
			"call_id": call.CallID,
			"output":  result,
		})
	}
	if len(toolOutputs) == 0 {
		return nil, corepipe.ErrServerToolEmpty
	}
	priorInput, _ := original.Body["input"].([]any)
	return Reenter(original, priorInput, toolOutputs, nil), nil
}

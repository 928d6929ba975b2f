package llmswitch

import (
	"testing"

	"github.com/routecodex/routecodex/internal/corepipe"
)

func TestResponsesToChatMergesParallelToolCalls(t *testing.T) {
	req := &corepipe.PipelineRequest{
		Payload: corepipe.InboundPayload{Kind: corepipe.PayloadResponses},
		Body: map[string]any{
			"model":        "gpt-4o",
			"instructions": "be terse",
			"input": []any{
				map[string]any{"type": "message", "role": "user", "content": "what's the weather"},
				map[string]any{"type": "function_call", "call_id": "call_1", "name": "get_weather", "arguments": `{"city":"sf"}`},
				map[string]any{"type": "function_call", "call_id": "call_2", "name": "get_time", "arguments": `{}`},
				map[string]any{"type": "function_call_output", "call_id": "call_1", "output": "72F"},
			},
			"max_output_tokens": 100,
		},
	}

	sw, err := Dispatch(corepipe.PayloadResponses)
	if err != nil {
		t.Fatal(err)
	}
	if err := sw.ToChat(req); err != nil {
		t.Fatal(err)
	}

	messages, _ := req.Body["messages"].([]any)
	if len(messages) != 4 { // system, user, assistant(2 tool calls), tool
		t.Fatalf("got %d messages, want 4: %#v", len(messages), messages)
	}

	assistant, _ := messages[2].(map[string]any)
	toolCalls, _ := assistant["tool_calls"].([]any)
	if len(toolCalls) != 2 {
		t.Fatalf("expected 2 merged tool calls, got %d", len(toolCalls))
	}

	toolMsg, _ := messages[3].(map[string]any)
	if toolMsg["tool_call_id"] != "call_1" {
		t.Errorf("tool_call_id = %v, want call_1", toolMsg["tool_call_id"])
	}
}

func TestResponsesToChatGLMClamp(t *testing.T) {
	req := &corepipe.PipelineRequest{
		Body: map[string]any{
			"model":             "glm-4.6",
			"input":             "hi",
			"max_output_tokens": 999999,
		},
	}
	sw, _ := Dispatch(corepipe.PayloadResponses)
	if err := sw.ToChat(req); err != nil {
		t.Fatal(err)
	}
	if got := req.Body["max_tokens"]; got != glmMaxTokensClamp {
		t.Errorf("max_tokens = %v, want clamp %d", got, glmMaxTokensClamp)
	}
}

func TestResponsesToChatDropsToolCallMissingName(t *testing.T) {
	req := &corepipe.PipelineRequest{
		Body: map[string]any{
			"model": "gpt-4o",
			"input": []any{
				map[string]any{"type": "function_call", "call_id": "c1", "arguments": "{}"},
			},
		},
	}
	sw, _ := Dispatch(corepipe.PayloadResponses)
	if err := sw.ToChat(req); err != nil {
		t.Fatal(err)
	}
	messages, _ := req.Body["messages"].([]any)
	if len(messages) != 0 {
		t.Fatalf("expected tool call with missing name to be dropped silently, got %#v", messages)
	}
}

func TestAnthropicToChatToolResult(t *testing.T) {
	req := &corepipe.PipelineRequest{
		Body: map[string]any{
			"model":      "claude-3-5-sonnet",
			"max_tokens": 2048,
			"messages": []any{
				map[string]any{
					"role": "user",
					"content": []any{
						map[string]any{"type": "tool_result", "tool_use_id": "t1", "content": "done"},
					},
				},
			},
		},
	}
	sw, _ := Dispatch(corepipe.PayloadAnthropic)
	if err := sw.ToChat(req); err != nil {
		t.Fatal(err)
	}
	messages, _ := req.Body["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	m, _ := messages[0].(map[string]any)
	if m["role"] != "tool" || m["tool_call_id"] != "t1" {
		t.Errorf("unexpected tool result message: %#v", m)
	}
}

func TestChatSwitchIdempotent(t *testing.T) {
	req := &corepipe.PipelineRequest{Body: map[string]any{"model": "gpt-4o"}}
	sw, _ := Dispatch(corepipe.PayloadChat)
	if err := sw.ToChat(req); err != nil {
		t.Fatal(err)
	}
	if err := sw.ToChat(req); err != nil {
		t.Fatal(err)
	}
	if _, ok := req.Body["messages"].([]any); !ok {
		t.Fatalf("expected messages to be normalized to empty slice, got %#v", req.Body["messages"])
	}
}

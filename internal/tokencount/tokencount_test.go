package tokencount

import "testing"

func TestCounterEstimateMessages(t *testing.T) {
	c := NewCounter()

	messages := []any{
		map[string]any{"role": "user", "content": "hello there"},
		map[string]any{"role": "assistant", "content": "hi, how can I help?"},
	}

	n := c.EstimateMessages(messages)
	if n <= 0 {
		t.Fatalf("EstimateMessages = %d, want > 0", n)
	}
}

func TestCounterEstimateMessagesWithContentParts(t *testing.T) {
	c := NewCounter()

	messages := []any{
		map[string]any{
			"role": "user",
			"content": []any{
				map[string]any{"type": "text", "text": "describe this image"},
			},
		},
	}

	n := c.EstimateMessages(messages)
	if n <= 0 {
		t.Fatalf("EstimateMessages = %d, want > 0", n)
	}
}

func TestCounterEstimateMessagesWithToolCallsAndName(t *testing.T) {
	c := NewCounter()

	messages := []any{
		map[string]any{
			"role": "assistant",
			"name": "router",
			"tool_calls": []any{
				map[string]any{"id": "call_1", "function": map[string]any{"name": "get_weather", "arguments": "{}"}},
			},
		},
	}

	n := c.EstimateMessages(messages)
	if n <= 0 {
		t.Fatalf("EstimateMessages = %d, want > 0", n)
	}
}

func TestCounterCountText(t *testing.T) {
	c := NewCounter()
	if n := c.CountText(""); n != 1 {
		t.Errorf("CountText(\"\") = %d, want 1 (floor)", n)
	}
	if n := c.CountText("a somewhat longer completion string"); n < 5 {
		t.Errorf("CountText long string = %d, want >= 5", n)
	}
}

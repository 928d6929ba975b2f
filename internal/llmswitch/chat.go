package llmswitch

import (
	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/ssenorm"
)

// chatSwitch is the identity/normalizer switch for native OpenAI chat
// completion requests: the body already is the canonical shape, so ToChat
// and FromChat only need to be idempotent, matching the round-trip
// invariant exercised for every dialect.
type chatSwitch struct{}

func (chatSwitch) ToChat(req *corepipe.PipelineRequest) error {
	if req.Body == nil {
		req.Body = map[string]any{}
	}
	// Normalize a missing messages array to empty rather than nil so
	// downstream JSON marshal emits "messages":[] instead of null.
	if req.Body["messages"] == nil {
		req.Body["messages"] = []any{}
	}
	return nil
}

func (chatSwitch) FromChat(_ *corepipe.PipelineRequest, chatResp map[string]any) (map[string]any, error) {
	return chatResp, nil
}

// FromChatChunk reshapes a normalized delta into Chat Completions'
// choices[].delta streaming frame.
func (chatSwitch) FromChatChunk(_ *corepipe.PipelineRequest, chunk ssenorm.Chunk) map[string]any {
	delta := map[string]any{"content": chunk.ContentDelta}
	if chunk.Role != "" {
		delta["role"] = chunk.Role
	}
	if len(chunk.ToolCalls) > 0 {
		delta["tool_calls"] = toolCallDeltas(chunk.ToolCalls)
	}
	payload := map[string]any{
		"id":    chunk.ID,
		"model": chunk.Model,
		"choices": []any{
			map[string]any{
				"index":         0,
				"delta":         delta,
				"finish_reason": nullableString(chunk.FinishReason),
			},
		},
	}
	if chunk.Usage != nil {
		payload["usage"] = map[string]any{
			"prompt_tokens":     chunk.Usage.PromptTokens,
			"completion_tokens": chunk.Usage.CompletionTokens,
			"total_tokens":      chunk.Usage.TotalTokens,
		}
	}
	return payload
}

func toolCallDeltas(deltas []ssenorm.ToolCallDelta) []any {
	out := make([]any, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, map[string]any{
			"index": d.Index,
			"id":    d.ID,
			"type":  "function",
			"function": map[string]any{
				"name":      d.Name,
				"arguments": d.ArgumentsDelta,
			},
		})
	}
	return out
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

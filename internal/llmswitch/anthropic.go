package llmswitch

import (
	"fmt"

	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/ssenorm"
)

// anthropicSwitch converts between the Anthropic Messages API wire shape and
// the canonical chat-completion shape.
type anthropicSwitch struct{}

const anthropicDefaultMaxTokens = 4096

func (anthropicSwitch) ToChat(req *corepipe.PipelineRequest) error {
	body := req.Body
	out := map[string]any{"model": body["model"]}

	maxTokens := asInt(body["max_tokens"])
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	out["max_tokens"] = maxTokens
	if v, ok := body["temperature"]; ok {
		out["temperature"] = v
	}
	if v, ok := body["top_p"]; ok {
		out["top_p"] = v
	}
	if v, ok := body["stream"]; ok {
		out["stream"] = v
	}
	if v, ok := body["stop_sequences"]; ok {
		out["stop"] = v
	}
	if tools, ok := body["tools"].([]any); ok && len(tools) > 0 {
		out["tools"] = convertAnthropicTools(tools)
	}

	var messages []any
	if system, ok := body["system"]; ok {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	if in, ok := body["messages"].([]any); ok {
		for _, raw := range in {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			converted, err := convertAnthropicMessage(m)
			if err != nil {
				return fmt.Errorf("llmswitch: anthropic message: %w", err)
			}
			messages = append(messages, converted...)
		}
	}
	out["messages"] = messages

	req.Body = out
	return nil
}

// convertAnthropicMessage converts one Anthropic message (whose content may
// be a plain string or a block array containing tool_use/tool_result
// blocks) into zero or more chat messages.
func convertAnthropicMessage(m map[string]any) ([]any, error) {
	role, _ := m["role"].(string)
	content := m["content"]

	blocks, isBlocks := content.([]any)
	if !isBlocks {
		return []any{map[string]any{"role": role, "content": content}}, nil
	}

	var text string
	var toolCalls []any
	var toolResults []any
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			s, _ := block["text"].(string)
			text += s
		case "tool_use":
			toolCalls = append(toolCalls, map[string]any{
				"id":   block["id"],
				"type": "function",
				"function": map[string]any{
					"name":      block["name"],
					"arguments": stringifyOutput(block["input"]),
				},
			})
		case "tool_result":
			toolResults = append(toolResults, map[string]any{
				"role":         "tool",
				"tool_call_id": block["tool_use_id"],
				"content":      stringifyOutput(block["content"]),
			})
		}
	}

	if len(toolResults) > 0 {
		return toolResults, nil
	}
	msg := map[string]any{"role": role, "content": text}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	return []any{msg}, nil
}

func convertAnthropicTools(tools []any) []any {
	out := make([]any, 0, len(tools))
	for _, raw := range tools {
		t, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := t["name"].(string)
		if name == "" {
			continue
		}
		schema, ok := t["input_schema"].(map[string]any)
		if !ok || schema == nil {
			schema = map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": true,
			}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        name,
				"description": t["description"],
				"parameters":  schema,
				"strict":      true,
			},
		})
	}
	return out
}

func (anthropicSwitch) FromChat(_ *corepipe.PipelineRequest, chatResp map[string]any) (map[string]any, error) {
	out := map[string]any{
		"id":    chatResp["id"],
		"type":  "message",
		"role":  "assistant",
		"model": chatResp["model"],
	}

	var contentBlocks []any
	stopReason := "end_turn"
	choices, _ := chatResp["choices"].([]any)
	if len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		msg, _ := choice["message"].(map[string]any)
		if text, ok := msg["content"].(string); ok && text != "" {
			contentBlocks = append(contentBlocks, map[string]any{"type": "text", "text": text})
		}
		if toolCalls, ok := msg["tool_calls"].([]any); ok {
			for _, rawTC := range toolCalls {
				tc, ok := rawTC.(map[string]any)
				if !ok {
					continue
				}
				fn, _ := tc["function"].(map[string]any)
				contentBlocks = append(contentBlocks, map[string]any{
					"type":  "tool_use",
					"id":    tc["id"],
					"name":  fn["name"],
					"input": fn["arguments"],
				})
			}
			stopReason = "tool_use"
		}
		if fr, _ := choice["finish_reason"].(string); fr == "length" {
			stopReason = "max_tokens"
		}
	}
	out["content"] = contentBlocks
	out["stop_reason"] = stopReason

	if usage, ok := chatResp["usage"].(map[string]any); ok {
		out["usage"] = map[string]any{
			"input_tokens":  usage["prompt_tokens"],
			"output_tokens": usage["completion_tokens"],
		}
	}
	return out, nil
}

// FromChatChunk reshapes a normalized delta into Anthropic's
// message_start/content_block_delta/message_delta/message_stop streaming
// frame sequence.
func (anthropicSwitch) FromChatChunk(_ *corepipe.PipelineRequest, chunk ssenorm.Chunk) map[string]any {
	switch {
	case chunk.Role != "":
		return map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":      chunk.ID,
				"type":    "message",
				"role":    chunk.Role,
				"model":   chunk.Model,
				"content": []any{},
			},
		}
	case chunk.Done:
		return map[string]any{"type": "message_stop"}
	case chunk.FinishReason != "":
		frame := map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": anthropicStopReasonFromChat(chunk.FinishReason)},
		}
		if chunk.Usage != nil {
			frame["usage"] = map[string]any{"output_tokens": chunk.Usage.CompletionTokens}
		}
		return frame
	case len(chunk.ToolCalls) > 0:
		tc := chunk.ToolCalls[0]
		if tc.Name != "" {
			return map[string]any{
				"type":          "content_block_start",
				"index":         tc.Index,
				"content_block": map[string]any{"type": "tool_use", "id": tc.ID, "name": tc.Name},
			}
		}
		return map[string]any{
			"type":  "content_block_delta",
			"index": tc.Index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.ArgumentsDelta},
		}
	case chunk.ContentDelta != "":
		return map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": chunk.ContentDelta},
		}
	default:
		return nil
	}
}

// anthropicStopReasonFromChat is the inverse of ssenorm's
// anthropicStopReason, mapping a canonical chat finish_reason back to
// Anthropic's stop_reason vocabulary.
func anthropicStopReasonFromChat(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}

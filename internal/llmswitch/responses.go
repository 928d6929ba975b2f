package llmswitch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/ssenorm"
)

// responsesSwitch converts between the OpenAI Responses API wire shape and
// the canonical chat-completion shape.
type responsesSwitch struct{}

// glmMaxTokensClamp is the hard ceiling the GLM model family enforces on
// max_tokens, applied case-insensitively against the model id.
const glmMaxTokensClamp = 8192

func (responsesSwitch) ToChat(req *corepipe.PipelineRequest) error {
	body := req.Body
	out := map[string]any{"model": body["model"]}

	var messages []any

	if instr, ok := body["instructions"].(string); ok && instr != "" {
		messages = append(messages, map[string]any{"role": "system", "content": instr})
	}

	input := body["input"]
	switch v := input.(type) {
	case string:
		messages = append(messages, map[string]any{"role": "user", "content": v})
	case []any:
		converted, err := convertResponsesInput(v)
		if err != nil {
			return fmt.Errorf("llmswitch: responses input: %w", err)
		}
		messages = append(messages, converted...)
	}
	out["messages"] = messages

	if tools, ok := body["tools"].([]any); ok && len(tools) > 0 {
		out["tools"] = convertResponsesTools(tools)
	}
	if tc, ok := body["tool_choice"]; ok {
		out["tool_choice"] = tc
	}

	model, _ := body["model"].(string)
	maxTokens, err := extractMaxOutputTokens(body)
	if err != nil {
		return err
	}
	if maxTokens > 0 {
		if isGLMFamily(model) && maxTokens > glmMaxTokensClamp {
			maxTokens = glmMaxTokensClamp
		}
		out["max_tokens"] = maxTokens
	}

	if stream, ok := body["stream"].(bool); ok {
		out["stream"] = stream
	}

	req.Body = out
	return nil
}

// extractMaxOutputTokens reads max_output_tokens (preferred, Responses-native)
// falling back to max_tokens. An explicitly present value that is zero or
// negative is a client error, not an unset field.
func extractMaxOutputTokens(body map[string]any) (int, error) {
	for _, key := range []string{"max_output_tokens", "max_tokens"} {
		raw, present := body[key]
		if !present {
			continue
		}
		n := asInt(raw)
		if n <= 0 {
			return 0, corepipe.NewCodedError(http.StatusBadRequest, "ERR_INVALID_MAX_TOKENS", key+" must be a positive integer", nil)
		}
		return n, nil
	}
	return 0, nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func isGLMFamily(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "glm") || strings.Contains(m, "zhipu") || strings.Contains(m, "bigmodel")
}

// convertResponsesInput walks input[] items, merging consecutive
// function_call items that belong to the same assistant turn into a single
// chat message's tool_calls array, matching how Chat Completions represents
// multiple parallel tool calls under one assistant message.
func convertResponsesInput(items []any) ([]any, error) {
	var messages []any
	var pendingToolCalls []any

	flushToolCalls := func() {
		if len(pendingToolCalls) == 0 {
			return
		}
		messages = append(messages, map[string]any{
			"role":       "assistant",
			"content":    "",
			"tool_calls": pendingToolCalls,
		})
		pendingToolCalls = nil
	}

	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		itemType, _ := item["type"].(string)
		switch itemType {
		case "message", "":
			flushToolCalls()
			role, _ := item["role"].(string)
			if role == "" {
				role = "user"
			}
			messages = append(messages, map[string]any{
				"role":    role,
				"content": extractResponsesContentText(item["content"]),
			})
		case "function_call":
			name, _ := item["name"].(string)
			if name == "" {
				// Missing tool name: dropped silently per the boundary contract.
				continue
			}
			callID, _ := item["call_id"].(string)
			if callID == "" {
				callID = uuid.Must(uuid.NewV7()).String()
			}
			args, _ := item["arguments"].(string)
			pendingToolCalls = append(pendingToolCalls, map[string]any{
				"id":   callID,
				"type": "function",
				"function": map[string]any{
					"name":      name,
					"arguments": args,
				},
			})
		case "function_call_output":
			flushToolCalls()
			callID, _ := item["call_id"].(string)
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": callID,
				"content":      stringifyOutput(item["output"]),
			})
		case "reasoning":
			// No chat-completion equivalent; carried only for request/response
			// round-tripping within the Responses dialect, dropped here.
			continue
		}
	}
	flushToolCalls()
	return messages, nil
}

func stringifyOutput(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// extractResponsesContentText flattens a Responses content array (a list of
// {"type":"input_text"|"output_text","text":...} blocks) into a single
// string, the shape chat messages expect.
func extractResponsesContentText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var sb strings.Builder
		for _, block := range c {
			b, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := b["text"].(string); ok {
				sb.WriteString(text)
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// convertResponsesTools rewrites Responses' flat tool schema
// ({"type":"function","name":...,"parameters":...}) into Chat Completions'
// nested {"type":"function","function":{...}} shape, filling in the
// normalized defaults and forcing strict mode.
func convertResponsesTools(tools []any) []any {
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
		params, ok := t["parameters"].(map[string]any)
		if !ok || params == nil {
			params = map[string]any{
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
				"parameters":  params,
				"strict":      true,
			},
		})
	}
	return out
}

func (responsesSwitch) FromChat(req *corepipe.PipelineRequest, chatResp map[string]any) (map[string]any, error) {
	out := map[string]any{
		"id":     chatResp["id"],
		"object": "response",
		"model":  chatResp["model"],
		"status": "completed",
	}

	var output []any
	choices, _ := chatResp["choices"].([]any)
	for _, raw := range choices {
		choice, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		msg, _ := choice["message"].(map[string]any)
		if msg == nil {
			continue
		}
		if content, ok := msg["content"].(string); ok && content != "" {
			output = append(output, map[string]any{
				"type": "message",
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "output_text", "text": content},
				},
			})
		}
		if toolCalls, ok := msg["tool_calls"].([]any); ok {
			for _, rawTC := range toolCalls {
				tc, ok := rawTC.(map[string]any)
				if !ok {
					continue
				}
				fn, _ := tc["function"].(map[string]any)
				output = append(output, map[string]any{
					"type":      "function_call",
					"call_id":   tc["id"],
					"name":      fn["name"],
					"arguments": fn["arguments"],
				})
			}
		}
		if reason, _ := choice["finish_reason"].(string); reason == "content_filter" || reason == "length" {
			out["status"] = "failed"
			out["failure"] = map[string]any{"reason": reason}
		}
	}
	out["output"] = output

	if usage, ok := chatResp["usage"].(map[string]any); ok {
		out["usage"] = map[string]any{
			"input_tokens":  usage["prompt_tokens"],
			"output_tokens": usage["completion_tokens"],
			"total_tokens":  usage["total_tokens"],
		}
	}
	return out, nil
}

// FromChatChunk reshapes a normalized delta into the Responses API's
// response.output_text.delta / response.function_call_arguments.delta /
// response.completed streaming event sequence.
func (responsesSwitch) FromChatChunk(_ *corepipe.PipelineRequest, chunk ssenorm.Chunk) map[string]any {
	switch {
	case chunk.Done || chunk.FinishReason != "":
		response := map[string]any{
			"id":     chunk.ID,
			"model":  chunk.Model,
			"object": "response",
			"status": "completed",
		}
		if chunk.Usage != nil {
			response["usage"] = map[string]any{
				"input_tokens":  chunk.Usage.PromptTokens,
				"output_tokens": chunk.Usage.CompletionTokens,
				"total_tokens":  chunk.Usage.TotalTokens,
			}
		}
		return map[string]any{"type": "response.completed", "response": response}
	case len(chunk.ToolCalls) > 0:
		tc := chunk.ToolCalls[0]
		return map[string]any{
			"type":    "response.function_call_arguments.delta",
			"item_id": tc.ID,
			"delta":   tc.ArgumentsDelta,
		}
	case chunk.ContentDelta != "":
		return map[string]any{
			"type":  "response.output_text.delta",
			"delta": chunk.ContentDelta,
		}
	default:
		return nil
	}
}

package ssenorm

import "github.com/tidwall/gjson"

// openaiNormalizer passes an OpenAI-dialect chat-completion chunk stream
// through almost unchanged -- it is already the canonical shape -- parsing
// just enough to populate Chunk so downstream stages never touch raw JSON.
type openaiNormalizer struct{}

func newOpenAINormalizer() *openaiNormalizer { return &openaiNormalizer{} }

func (n *openaiNormalizer) Feed(ev Event) ([]Chunk, error) {
	if len(ev.Data) == 0 {
		return nil, nil
	}
	root := gjson.ParseBytes(ev.Data)
	chunk := Chunk{
		ID:    root.Get("id").String(),
		Model: root.Get("model").String(),
	}

	choice := root.Get("choices.0")
	delta := choice.Get("delta")
	chunk.Role = delta.Get("role").String()
	chunk.ContentDelta = delta.Get("content").String()
	chunk.FinishReason = choice.Get("finish_reason").String()

	for i, tc := range delta.Get("tool_calls").Array() {
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			Index:          intOr(tc.Get("index"), i),
			ID:             tc.Get("id").String(),
			Name:           tc.Get("function.name").String(),
			ArgumentsDelta: tc.Get("function.arguments").String(),
		})
	}

	if usage := root.Get("usage"); usage.Exists() {
		chunk.Usage = &Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		}
	}

	return []Chunk{chunk}, nil
}

func intOr(v gjson.Result, fallback int) int {
	if !v.Exists() {
		return fallback
	}
	return int(v.Int())
}

package ssenorm

import "github.com/tidwall/gjson"

// geminiNormalizer turns Gemini/Antigravity's candidates[].content.parts[]
// stream into chat-completion-shaped chunks. Gemini has no per-chunk id,
// so one is synthesized from the model name and held for the life of the
// stream.
type geminiNormalizer struct {
	id    string
	model string
}

func newGeminiNormalizer() *geminiNormalizer { return &geminiNormalizer{} }

func (n *geminiNormalizer) Feed(ev Event) ([]Chunk, error) {
	if len(ev.Data) == 0 {
		return nil, nil
	}
	root := gjson.ParseBytes(ev.Data)

	if errMsg := root.Get("error.message").String(); errMsg != "" {
		code := root.Get("error.code").Int()
		finish := ""
		if code == 429 {
			finish = "rate_limited"
		}
		return []Chunk{{ID: n.id, Model: n.model, FinishReason: finish}}, nil
	}

	if n.model == "" {
		n.model = root.Get("modelVersion").String()
		n.id = "gemini-" + n.model
	}

	candidate := root.Get("candidates.0")
	var out []Chunk
	for _, part := range candidate.Get("content.parts").Array() {
		if text := part.Get("text").String(); text != "" {
			out = append(out, Chunk{ID: n.id, Model: n.model, ContentDelta: text})
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			out = append(out, Chunk{
				ID: n.id, Model: n.model,
				ToolCalls: []ToolCallDelta{{Name: fc.Get("name").String(), ArgumentsDelta: fc.Get("args").Raw}},
			})
		}
	}

	if reason := candidate.Get("finishReason").String(); reason != "" {
		chunk := Chunk{ID: n.id, Model: n.model, FinishReason: geminiFinishReason(reason)}
		if usage := root.Get("usageMetadata"); usage.Exists() {
			chunk.Usage = &Usage{
				PromptTokens:     int(usage.Get("promptTokenCount").Int()),
				CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
				TotalTokens:      int(usage.Get("totalTokenCount").Int()),
			}
		}
		out = append(out, chunk, Chunk{ID: n.id, Model: n.model, Done: true})
	}

	return out, nil
}

func geminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}

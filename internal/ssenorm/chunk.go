package ssenorm

// Chunk is one normalized chat-completion-style streaming delta,
// regardless of which upstream dialect produced it. Response
// LLMSwitch re-shapes Chunk into the client's wire protocol
// (chat/responses/anthropic) before it reaches the ingress writer.
type Chunk struct {
	ID           string
	Model        string
	Role         string // set once, on the first delta of a turn
	ContentDelta string
	ToolCalls    []ToolCallDelta
	FinishReason string // "", "stop", "length", "tool_calls", "content_filter", "rate_limited" (Gemini/Antigravity)
	Usage        *Usage
	Done         bool // true on the final synthetic chunk of the Anthropic and Gemini dialects; an OpenAI [DONE] surfaces as ErrDone instead
}

// ToolCallDelta is one incremental tool-call fragment; Index groups
// fragments belonging to the same parallel tool call across chunks.
type ToolCallDelta struct {
	Index        int
	ID           string
	Name         string
	ArgumentsDelta string
}

// Usage is the normalized token accounting carried on the final chunk.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Normalizer consumes raw Events from one upstream dialect and produces
// normalized Chunks. Implementations are stateful across a single stream.
type Normalizer interface {
	// Feed processes one Event and returns zero or more Chunks it produced.
	Feed(ev Event) ([]Chunk, error)
}

// ForFamily returns the stateful Normalizer for a provider family.
func ForFamily(family string) Normalizer {
	switch family {
	case "anthropic":
		return newAnthropicNormalizer()
	case "gemini", "antigravity":
		return newGeminiNormalizer()
	default:
		return newOpenAINormalizer()
	}
}

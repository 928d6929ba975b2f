package ssenorm

import "github.com/tidwall/gjson"

// anthropicNormalizer replays Anthropic's message_start/content_block_*/
// message_delta/message_stop event sequence into normalized chunks, one
// content block (text or tool_use) at a time.
type anthropicNormalizer struct {
	id            string
	model         string
	roleSent      bool
	blockIsTool   map[int]bool
	toolNameSent  map[int]bool
}

func newAnthropicNormalizer() *anthropicNormalizer {
	return &anthropicNormalizer{
		blockIsTool:  make(map[int]bool),
		toolNameSent: make(map[int]bool),
	}
}

func (n *anthropicNormalizer) Feed(ev Event) ([]Chunk, error) {
	if len(ev.Data) == 0 {
		return nil, nil
	}
	root := gjson.ParseBytes(ev.Data)
	eventType := root.Get("type").String()

	switch eventType {
	case "message_start":
		msg := root.Get("message")
		n.id = msg.Get("id").String()
		n.model = msg.Get("model").String()
		return []Chunk{{ID: n.id, Model: n.model, Role: "assistant"}}, nil

	case "content_block_start":
		index := int(root.Get("index").Int())
		block := root.Get("content_block")
		if block.Get("type").String() == "tool_use" {
			n.blockIsTool[index] = true
			return []Chunk{{
				ID: n.id, Model: n.model,
				ToolCalls: []ToolCallDelta{{Index: index, ID: block.Get("id").String(), Name: block.Get("name").String()}},
			}}, nil
		}
		return nil, nil

	case "content_block_delta":
		index := int(root.Get("index").Int())
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return []Chunk{{ID: n.id, Model: n.model, ContentDelta: delta.Get("text").String()}}, nil
		case "input_json_delta":
			return []Chunk{{
				ID: n.id, Model: n.model,
				ToolCalls: []ToolCallDelta{{Index: index, ArgumentsDelta: delta.Get("partial_json").String()}},
			}}, nil
		}
		return nil, nil

	case "content_block_stop":
		return nil, nil

	case "message_delta":
		finish := anthropicStopReason(root.Get("delta.stop_reason").String())
		chunk := Chunk{ID: n.id, Model: n.model, FinishReason: finish}
		if usage := root.Get("usage"); usage.Exists() {
			chunk.Usage = &Usage{
				CompletionTokens: int(usage.Get("output_tokens").Int()),
			}
		}
		return []Chunk{chunk}, nil

	case "message_stop":
		return []Chunk{{ID: n.id, Model: n.model, Done: true}}, nil

	case "error":
		return nil, nil

	default:
		return nil, nil
	}
}

func anthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return ""
	}
}

// Package llmswitch implements the bidirectional protocol transformers
// between each ingress wire dialect (OpenAI Chat Completions, OpenAI
// Responses, Anthropic Messages) and the canonical chat-completion shape the
// rest of the pipeline (compat, transport) operates on.
package llmswitch

import (
	"fmt"

	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/ssenorm"
)

// Switch converts a pipeline request's Body between its ingress dialect and
// the canonical chat shape, and converts a provider response back.
type Switch interface {
	// ToChat rewrites req.Body in place into canonical chat-completion shape.
	ToChat(req *corepipe.PipelineRequest) error
	// FromChat converts a canonical chat-completion response body back into
	// the ingress dialect's response shape.
	FromChat(req *corepipe.PipelineRequest, chatResp map[string]any) (map[string]any, error)
	// FromChatChunk reshapes one normalized streaming delta into the wire
	// frame the ingress dialect's own stream format expects. Returns nil
	// when the chunk carries nothing worth emitting in this dialect.
	FromChatChunk(req *corepipe.PipelineRequest, chunk ssenorm.Chunk) map[string]any
}

// Dispatch returns the Switch for a request's classified payload kind.
func Dispatch(kind corepipe.PayloadKind) (Switch, error) {
	switch kind {
	case corepipe.PayloadChat:
		return chatSwitch{}, nil
	case corepipe.PayloadResponses:
		return responsesSwitch{}, nil
	case corepipe.PayloadAnthropic:
		return anthropicSwitch{}, nil
	default:
		return nil, fmt.Errorf("llmswitch: unsupported payload kind %v", kind)
	}
}

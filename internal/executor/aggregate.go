package executor

import (
	"errors"
	"io"
	"strings"

	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/ssenorm"
)

// aggregateStream consumes an upstream event stream end-to-end and folds it
// into a single JSON body, for a client that asked for stream:false against
// a provider that only speaks SSE upstream (Responses-protocol providers
// always do). Responses-payload requests fold directly into the final
// client-dialect object (finalized=true, bypassing FromChat); every other
// payload kind folds into the canonical chat-completion shape FromChat
// already expects.
func aggregateStream(stream io.ReadCloser, family string, kind corepipe.PayloadKind) (body map[string]any, finalized bool, err error) {
	defer stream.Close()
	reader := ssenorm.NewBlockReader(stream)
	normalizer := ssenorm.ForFamily(family)

	if kind == corepipe.PayloadResponses {
		agg := ssenorm.NewResponsesAggregator()
		if err := drainInto(reader, normalizer, agg.Add); err != nil {
			return nil, false, err
		}
		return agg.Build(), true, nil
	}

	agg := newChatAggregator()
	if err := drainInto(reader, normalizer, agg.add); err != nil {
		return nil, false, err
	}
	return agg.build(), false, nil
}

func drainInto(reader *ssenorm.BlockReader, normalizer ssenorm.Normalizer, add func(ssenorm.Chunk)) error {
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, ssenorm.ErrDone) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		chunks, err := normalizer.Feed(ev)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			add(c)
		}
	}
}

// chatAggregator folds normalized streaming chunks into a single canonical
// chat-completion response body, mirroring ssenorm.ResponsesAggregator's
// fold-then-build shape for the non-Responses dialects.
type chatAggregator struct {
	id      string
	model   string
	role    string
	content strings.Builder
	calls   map[int]*chatToolCall
	order   []int
	finish  string
	usage   *ssenorm.Usage
}

type chatToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newChatAggregator() *chatAggregator {
	return &chatAggregator{calls: make(map[int]*chatToolCall)}
}

func (a *chatAggregator) add(c ssenorm.Chunk) {
	if c.ID != "" {
		a.id = c.ID
	}
	if c.Model != "" {
		a.model = c.Model
	}
	if c.Role != "" {
		a.role = c.Role
	}
	a.content.WriteString(c.ContentDelta)
	for _, tc := range c.ToolCalls {
		call, ok := a.calls[tc.Index]
		if !ok {
			call = &chatToolCall{}
			a.calls[tc.Index] = call
			a.order = append(a.order, tc.Index)
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Name != "" {
			call.name = tc.Name
		}
		call.args.WriteString(tc.ArgumentsDelta)
	}
	if c.FinishReason != "" {
		a.finish = c.FinishReason
	}
	if c.Usage != nil {
		a.usage = c.Usage
	}
}

func (a *chatAggregator) build() map[string]any {
	role := a.role
	if role == "" {
		role = "assistant"
	}
	message := map[string]any{"role": role, "content": a.content.String()}
	if len(a.order) > 0 {
		toolCalls := make([]any, 0, len(a.order))
		for _, idx := range a.order {
			call := a.calls[idx]
			toolCalls = append(toolCalls, map[string]any{
				"id":   call.id,
				"type": "function",
				"function": map[string]any{
					"name":      call.name,
					"arguments": call.args.String(),
				},
			})
		}
		message["tool_calls"] = toolCalls
	}
	finish := a.finish
	if finish == "" {
		finish = "stop"
	}
	body := map[string]any{
		"id":    a.id,
		"model": a.model,
		"choices": []any{
			map[string]any{"index": 0, "message": message, "finish_reason": finish},
		},
	}
	if a.usage != nil {
		body["usage"] = map[string]any{
			"prompt_tokens":     a.usage.PromptTokens,
			"completion_tokens": a.usage.CompletionTokens,
			"total_tokens":      a.usage.TotalTokens,
		}
	}
	return body
}

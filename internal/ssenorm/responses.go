package ssenorm

import "strings"

// ResponsesAggregator accumulates a sequence of normalized Chunks into the
// OpenAI Responses API's output[] shape, used when the client's /v1/responses
// stream must be reconstructed for submit_tool_outputs continuation or for
// building the final non-streaming response object after a streaming call.
type ResponsesAggregator struct {
	id      string
	model   string
	text    strings.Builder
	calls   map[int]*aggregatedCall
	order   []int
	status  string
	usage   *Usage
}

type aggregatedCall struct {
	id   string
	name string
	args strings.Builder
}

// NewResponsesAggregator returns an empty aggregator. status starts
// "in_progress" and becomes "completed" or "failed" once a terminal Chunk
// arrives.
func NewResponsesAggregator() *ResponsesAggregator {
	return &ResponsesAggregator{calls: make(map[int]*aggregatedCall), status: "in_progress"}
}

// Add folds one Chunk into the aggregator's running state.
func (a *ResponsesAggregator) Add(c Chunk) {
	if c.ID != "" {
		a.id = c.ID
	}
	if c.Model != "" {
		a.model = c.Model
	}
	a.text.WriteString(c.ContentDelta)
	for _, tc := range c.ToolCalls {
		call, ok := a.calls[tc.Index]
		if !ok {
			call = &aggregatedCall{}
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
	if c.Usage != nil {
		a.usage = c.Usage
	}
	switch c.FinishReason {
	case "content_filter":
		a.status = "failed"
	case "rate_limited":
		a.status = "failed"
	case "stop", "tool_calls", "length":
		if a.status == "in_progress" {
			a.status = "completed"
		}
	}
	if c.Done && a.status == "in_progress" {
		a.status = "completed"
	}
}

// Build renders the accumulated state into a Responses API output object.
func (a *ResponsesAggregator) Build() map[string]any {
	var output []any
	if a.text.Len() > 0 {
		output = append(output, map[string]any{
			"type": "message",
			"role": "assistant",
			"content": []any{
				map[string]any{"type": "output_text", "text": a.text.String()},
			},
		})
	}
	for _, idx := range a.order {
		call := a.calls[idx]
		output = append(output, map[string]any{
			"type":      "function_call",
			"call_id":   call.id,
			"name":      call.name,
			"arguments": call.args.String(),
		})
	}

	resp := map[string]any{
		"id":     a.id,
		"model":  a.model,
		"object": "response",
		"status": a.status,
		"output": output,
	}
	if a.usage != nil {
		resp["usage"] = map[string]any{
			"input_tokens":  a.usage.PromptTokens,
			"output_tokens": a.usage.CompletionTokens,
			"total_tokens":  a.usage.TotalTokens,
		}
	}
	return resp
}

package executor

import "github.com/routecodex/routecodex/internal/corepipe"

// Reenter builds a follow-up PipelineRequest for a submit_tool_outputs
// call: it preserves the original RequestID so the Responses context store
// can match it back to PriorInput, appends toolOutputs after priorInput as
// given (they are not reshaped here), and unions in runtime metadata without ever
// overwriting a key the original call already set.
func Reenter(original *corepipe.PipelineRequest, priorInput []any, toolOutputs []any, runtime map[string]any) *corepipe.PipelineRequest {
	next := original.Clone()
	next.Attempt = 0
	next.ExcludedKeys = nil

	input := append([]any(nil), priorInput...)
	input = append(input, toolOutputs...)
	next.Body["input"] = input

	next.MergeRuntime(runtime)
	return next
}

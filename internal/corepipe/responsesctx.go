package corepipe

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// responsesContextTTL bounds how long an unanswered /v1/responses call can
// wait for a submit_tool_outputs follow-up before the store's cache expires
// the entry as abandoned.
const responsesContextTTL = 10 * time.Minute

// ResponsesContextStore is the requestId -> ResponsesRequestContext map
// described in the data model: entries expire via TTL if the response never
// arrives, or are consumed at most once when it does.
type ResponsesContextStore struct {
	cache *otter.Cache[string, *ResponsesRequestContext]
}

// NewResponsesContextStore returns a store capped at maxEntries in-flight
// conversations, each expiring responsesContextTTL after last write.
func NewResponsesContextStore(maxEntries int) *ResponsesContextStore {
	cache := otter.Must(&otter.Options[string, *ResponsesRequestContext]{
		MaximumSize:      maxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, *ResponsesRequestContext](responsesContextTTL),
	})
	return &ResponsesContextStore{cache: cache}
}

// Put stores a new context, stamped with the current time.
func (s *ResponsesContextStore) Put(ctx *ResponsesRequestContext) {
	ctx.CreatedAt = time.Now()
	s.cache.Set(ctx.RequestID, ctx)
}

// Take retrieves and marks the context consumed. A second Take for the same
// requestId, including a concurrent one, returns (nil, false):
// submit_tool_outputs may only be answered once per pending call.
func (s *ResponsesContextStore) Take(requestID string) (*ResponsesRequestContext, bool) {
	v, ok := s.cache.GetIfPresent(requestID)
	if !ok || !v.consumed.CompareAndSwap(false, true) {
		return nil, false
	}
	return v, true
}

// Evict removes a context explicitly, e.g. after a terminal failure.
func (s *ResponsesContextStore) Evict(requestID string) {
	s.cache.Invalidate(requestID)
}

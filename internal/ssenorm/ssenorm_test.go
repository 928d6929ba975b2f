package ssenorm

import (
	"strings"
	"testing"
)

func TestBlockReaderJoinsMultiLineData(t *testing.T) {
	raw := "event: message\ndata: {\"a\":1,\ndata: \"b\":2}\n\ndata: [DONE]\n\n"
	r := NewBlockReader(strings.NewReader(raw))

	ev, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name != "message" {
		t.Errorf("event name = %q, want message", ev.Name)
	}
	want := "{\"a\":1,\n\"b\":2}"
	if string(ev.Data) != want {
		t.Errorf("data = %q, want %q", ev.Data, want)
	}

	_, err = r.Next()
	if err != ErrDone {
		t.Errorf("expected ErrDone, got %v", err)
	}
}

func TestAnthropicNormalizerStreamsTextDelta(t *testing.T) {
	n := newAnthropicNormalizer()

	chunks, _ := n.Feed(Event{Data: []byte(`{"type":"message_start","message":{"id":"msg_1","model":"claude-3-5-sonnet"}}`)})
	if len(chunks) != 1 || chunks[0].Role != "assistant" {
		t.Fatalf("unexpected message_start chunks: %#v", chunks)
	}

	chunks, _ = n.Feed(Event{Data: []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`)})
	if len(chunks) != 1 || chunks[0].ContentDelta != "hi" {
		t.Fatalf("unexpected text delta chunks: %#v", chunks)
	}

	chunks, _ = n.Feed(Event{Data: []byte(`{"type":"message_stop"}`)})
	if len(chunks) != 1 || !chunks[0].Done {
		t.Fatalf("expected done chunk, got %#v", chunks)
	}
}

func TestResponsesAggregatorMergesToolCallArguments(t *testing.T) {
	agg := NewResponsesAggregator()
	agg.Add(Chunk{ID: "r1", Model: "gpt-4o", ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "get_weather"}}})
	agg.Add(Chunk{ToolCalls: []ToolCallDelta{{Index: 0, ArgumentsDelta: `{"city":`}}})
	agg.Add(Chunk{ToolCalls: []ToolCallDelta{{Index: 0, ArgumentsDelta: `"sf"}`}}})
	agg.Add(Chunk{FinishReason: "tool_calls", Done: true})

	out := agg.Build()
	if out["status"] != "completed" {
		t.Errorf("status = %v, want completed", out["status"])
	}
	output := out["output"].([]any)
	call := output[0].(map[string]any)
	if call["arguments"] != `{"city":"sf"}` {
		t.Errorf("arguments = %v, want merged json", call["arguments"])
	}
}

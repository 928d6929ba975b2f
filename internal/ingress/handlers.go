package ingress

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/ssenorm"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, corepipe.PayloadChat)
}

func (s *Server) handleAnthropic(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, corepipe.PayloadAnthropic)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, corepipe.PayloadResponses)
}

// serve decodes the client body, classifies it by kind, drives it through
// the executor, and renders either a JSON response or an SSE stream back
// to the client in the same wire dialect it arrived in.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, kind corepipe.PayloadKind) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid JSON body"))
		return
	}
	stream, _ := body["stream"].(bool)

	req := &corepipe.PipelineRequest{
		RequestID: RequestIDFromContext(r.Context()),
		Payload:   corepipe.InboundPayload{Kind: kind},
		Body:      body,
		Stream:    stream,
	}
	if req.RequestID == "" {
		req.RequestID = uuid.Must(uuid.NewV7()).String()
	}

	if kind == corepipe.PayloadResponses {
		s.stashResponsesContext(req)
	}

	out, err := s.exec.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	if out.Stream != nil && out.Stream.Stream != nil {
		s.streamResponse(w, r, req, out)
		return
	}

	if out.Finalized {
		writeJSON(w, http.StatusOK, out.Body)
		return
	}

	chatResp := out.Body
	clientResp, err := out.Switch.FromChat(req, chatResp)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", corepipe.ErrCompatibility, err))
		return
	}
	writeJSON(w, http.StatusOK, clientResp)
}

func (s *Server) handleSubmitToolOutputs(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")

	var payload struct {
		ToolOutputs []any `json:"tool_outputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid JSON body"))
		return
	}
	if len(payload.ToolOutputs) == 0 {
		writeError(w, corepipe.ErrServerToolEmpty)
		return
	}

	ctx, ok := s.store.Take(requestID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown or already-consumed response id"))
		return
	}

	original := &corepipe.PipelineRequest{
		RequestID: requestID,
		Payload:   corepipe.InboundPayload{Kind: corepipe.PayloadResponses},
		Body:      map[string]any{"model": ctx.Model},
	}
	req := executor.Reenter(original, ctx.PriorInput, payload.ToolOutputs, nil)

	out, err := s.exec.Execute(r.Context(), req)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", corepipe.ErrServerToolFollowup, err))
		return
	}

	if out.Finalized {
		writeJSON(w, http.StatusOK, out.Body)
		return
	}

	clientResp, err := out.Switch.FromChat(req, out.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clientResp)
}

// stashResponsesContext remembers input[] for a /v1/responses call so a
// later submit_tool_outputs call can resume it.
func (s *Server) stashResponsesContext(req *corepipe.PipelineRequest) {
	input, _ := req.Body["input"].([]any)
	model, _ := req.Body["model"].(string)
	s.store.Put(&corepipe.ResponsesRequestContext{
		RequestID:  req.RequestID,
		Model:      model,
		PriorInput: input,
	})
}

// streamResponse relays the winning attempt's upstream SSE body to the
// client as normalized chunks reshaped into the client's own wire dialect
// via the request's LLMSwitch.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, req *corepipe.PipelineRequest, out *executor.Outcome) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	defer out.Stream.Stream.Close()
	reader := ssenorm.NewBlockReader(out.Stream.Stream)
	normalizer := ssenorm.ForFamily(out.Handle.ProviderFamily)
	writer := bufio.NewWriter(w)

	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, ssenorm.ErrDone) || errors.Is(err, io.EOF) {
				break
			}
			return
		}
		chunks, err := normalizer.Feed(ev)
		if err != nil {
			return
		}
		for _, chunk := range chunks {
			if frame := out.Switch.FromChatChunk(req, chunk); frame != nil {
				writeFrame(writer, frame)
			}
		}
		writer.Flush()
		flusher.Flush()
	}

	writer.WriteString("data: [DONE]\n\n")
	writer.Flush()
	flusher.Flush()
}

func writeFrame(w *bufio.Writer, frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	w.WriteString("data: ")
	w.Write(data)
	w.WriteString("\n\n")
}

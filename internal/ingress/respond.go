package ingress

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/routecodex/routecodex/internal/corepipe"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorResponse(message string) map[string]any {
	return map[string]any{"error": map[string]any{"message": message}}
}

// writeError renders err as a JSON error body, using the status/code
// carried on a corepipe.CodedError when present. Otherwise the status comes
// from the sentinel err wraps (404 no provider target, 502 pool exhausted or
// family poisoned, 401 auth invalid or expired, 500 for anything else) and
// the body carries only the message.
func writeError(w http.ResponseWriter, err error) {
	var coded *corepipe.CodedError
	if errors.As(err, &coded) {
		writeJSON(w, coded.Status, map[string]any{
			"error": map[string]any{"message": coded.Error(), "code": coded.Code},
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, corepipe.ErrNoProviderTarget):
		status = http.StatusNotFound
	case errors.Is(err, corepipe.ErrPoolExhausted), errors.Is(err, corepipe.ErrProviderFamilyPoisoned):
		status = http.StatusBadGateway
	case errors.Is(err, corepipe.ErrAuthInvalid), errors.Is(err, corepipe.ErrAuthExpired):
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

package ingress

import (
	"net/http/httptest"
	"testing"

	"github.com/routecodex/routecodex/internal/corepipe"
)

func TestIsValidRequestID(t *testing.T) {
	cases := map[string]bool{
		"":                 false,
		"abc-123.def_456":  true,
		"has spaces":       false,
		"has/slash":        false,
	}
	for input, want := range cases {
		if got := isValidRequestID(input); got != want {
			t.Errorf("isValidRequestID(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestWriteErrorUsesCodedErrorStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, corepipe.NewCodedError(422, "ERR_BAD_REQUEST", "bad request", nil))
	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestWriteErrorMapsSentinelErrors(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, corepipe.ErrNoProviderTarget)
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

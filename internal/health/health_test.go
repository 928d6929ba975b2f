package health

import (
	"testing"
	"time"

	"github.com/routecodex/routecodex/internal/circuitbreaker"
	"github.com/routecodex/routecodex/internal/corepipe"
)

func TestCenterAllowsUntilThresholdTripped(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	cfg := circuitbreaker.Config{ErrorThreshold: 0.3, MinSamples: 2, WindowSeconds: 60, OpenTimeout: time.Minute}
	c := NewCenter(store, cfg)

	if !c.Allow("p1#0") {
		t.Fatal("expected breaker to allow first request")
	}
	c.RecordResult("p1#0", corepipe.RetrySignal{StatusCode: 500, Code: "ERR_UPSTREAM_5XX"}, time.Millisecond)
	c.RecordResult("p1#0", corepipe.RetrySignal{StatusCode: 500, Code: "ERR_UPSTREAM_5XX"}, time.Millisecond)

	if c.Allow("p1#0") {
		t.Error("expected breaker to trip open after repeated 5xx")
	}
}

func TestCenterRecordsSuccessWithoutPersisting(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	c := NewCenter(store, circuitbreaker.DefaultConfig())
	c.RecordResult("p1#0", corepipe.RetrySignal{StatusCode: 200}, time.Millisecond)

	count, err := store.FailureCount(t.Context(), "p1#0", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("failure count = %d, want 0", count)
	}
}

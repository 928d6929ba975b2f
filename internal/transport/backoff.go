package transport

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/routecodex/routecodex/internal/corepipe"
)

// MaxProviderAttempts bounds how many times the executor may retry across
// an entire routing pool (base URLs + credentials + providers combined)
// for one client call.
const MaxProviderAttempts = 6

// BackoffCalculator computes jittered exponential wait durations shared by
// successive attempts against one pool entry; it is stateful (NextBackOff
// resets nothing between calls) so the executor holds one instance per
// pool entry, not per attempt, and starts a fresh one for the next entry.
type BackoffCalculator struct {
	b *backoff.ExponentialBackOff
}

// NewBackoffCalculator returns a calculator seeded with a 250ms initial
// interval and a 10s ceiling, matching the cascade's "retry w/ backoff" step
// for 429/5xx responses.
func NewBackoffCalculator() *BackoffCalculator {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.3
	return &BackoffCalculator{b: b}
}

// Next returns the wait duration before the next attempt, advancing the
// internal exponential state.
func (c *BackoffCalculator) Next() time.Duration {
	return c.b.NextBackOff()
}

// Reset restarts the exponential sequence from the initial interval.
func (c *BackoffCalculator) Reset() {
	c.b.Reset()
}

// Classify delegates to the client's family-specific error classifier and
// stamps the computed backoff wait onto retryable signals that don't
// already carry one (RotateCredential/NextBaseURL moves are immediate).
func (c *Client) Classify(result *Result, err error, backoffCalc *BackoffCalculator) corepipe.RetrySignal {
	sig := c.classifier(result, err)
	if sig.Retryable && !sig.RotateCredential && !sig.NextBaseURL && sig.WaitBeforeRetry == 0 {
		sig.WaitBeforeRetry = backoffCalc.Next()
	}
	return sig
}

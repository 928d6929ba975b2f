package health

import (
	"context"
	"fmt"
	"time"

	"github.com/routecodex/routecodex/internal/corepipe"
)

// recordFailure inserts one failed attempt into the ledger. Called for every
// outcome that is not a success, retryable or not; successes are not
// persisted, only counted in the in-memory breaker window.
func (s *Store) recordFailure(ctx context.Context, providerKey string, sig corepipe.RetrySignal) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO provider_errors (provider_key, code, upstream_code, message, status_code) VALUES (?, ?, ?, ?, ?)`,
		providerKey, sig.Code, sig.UpstreamCode, sig.Message, sig.StatusCode,
	)
	if err != nil {
		return fmt.Errorf("health: record failure: %w", err)
	}
	return nil
}

// FailureCount returns how many failures providerKey has accumulated since
// the given time, for diagnostics. The admin /status endpoint does not
// report it.
func (s *Store) FailureCount(ctx context.Context, providerKey string, since time.Time) (int, error) {
	var count int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM provider_errors WHERE provider_key = ? AND occurred_at >= ?`,
		providerKey, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("health: failure count: %w", err)
	}
	return count, nil
}

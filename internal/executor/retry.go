package executor

import "github.com/routecodex/routecodex/internal/corepipe"

// fingerprintTracker detects a provider family returning the same failure
// signature repeatedly -- a sign the whole family is misconfigured rather
// than transiently unavailable -- and trips a poison switch instead of
// burning the rest of the attempt budget retrying it.
type fingerprintTracker struct {
	limit int
	last  map[string]string
	count map[string]int
}

func newFingerprintTracker(limit int) *fingerprintTracker {
	return &fingerprintTracker{limit: limit, last: make(map[string]string), count: make(map[string]int)}
}

// poisoned records sig against family and reports whether the same
// fingerprint has now repeated limit times in a row for that family.
func (t *fingerprintTracker) poisoned(family string, sig corepipe.RetrySignal) bool {
	fp := sig.Signature()
	if t.last[family] == fp {
		t.count[family]++
	} else {
		t.last[family] = fp
		t.count[family] = 1
	}
	return t.count[family] >= t.limit
}

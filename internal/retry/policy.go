package retry

import (
	"time"

	"github.com/danmuck/strawctl/internal/straw"
)

// Policy decides how often a straw is re-attempted.
type Policy struct {
	// Interval is the fixed pause between aggressive attempts. Zero means
	// retry immediately.
	Interval time.Duration
	// Aggressive retries transient failures forever. When false exactly one
	// attempt is made.
	Aggressive bool
}

// PolicyFor extracts the retry policy carried by a straw config.
func PolicyFor(cfg straw.Config) Policy {
	return Policy{Interval: cfg.RetryInterval, Aggressive: cfg.Aggressive}
}

// NextDelay returns the pause before attempt N (1-based). The interval is
// constant: no growth, no jitter, no cap on attempts.
func NextDelay(p Policy, attempt int) time.Duration {
	if attempt <= 1 || p.Interval <= 0 {
		return 0
	}
	return p.Interval
}

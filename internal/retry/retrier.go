package retry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/strawctl/internal/observability"
	"github.com/danmuck/strawctl/internal/straw"
	"github.com/rs/zerolog/log"
)

// Factory builds a fresh Disconnected endpoint for every attempt.
type Factory func() (straw.Endpoint, error)

type Option func(*Retrier)

// WithClock swaps the clock used for retry pauses.
func WithClock(c clock.Clock) Option {
	return func(r *Retrier) { r.clock = c }
}

// Retrier wraps endpoint establishment with a Policy.
type Retrier struct {
	policy Policy
	clock  clock.Clock
}

func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{policy: policy, clock: clock.New()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Establish returns a Connected endpoint. Transient failures are retried
// with a new endpoint while the policy is aggressive; any other failure,
// and every failure of a non-aggressive policy, is returned as is.
func (r *Retrier) Establish(ctx context.Context, newEndpoint Factory) (straw.Endpoint, error) {
	var attempt int
	for {
		attempt++
		if delay := NextDelay(r.policy, attempt); delay > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		ep, err := newEndpoint()
		if err != nil {
			return nil, err
		}
		err = ep.Establish(ctx)
		outcome := straw.Classify(err)
		observability.RecordConnectAttempt(string(ep.Side()), outcome.String())
		if outcome.Established() {
			if attempt > 1 {
				log.Info().Str("straw", string(ep.Side())).Int("attempt", attempt).Msg("straw established after retry")
			}
			return ep, nil
		}
		_ = ep.Close()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !r.policy.Aggressive || outcome != straw.OutcomeTransient {
			log.Error().Err(err).
				Str("straw", string(ep.Side())).
				Int("attempt", attempt).
				Str("outcome", outcome.String()).
				Msg("straw establishment failed")
			return nil, err
		}
		log.Warn().Err(err).
			Str("straw", string(ep.Side())).
			Int("attempt", attempt).
			Dur("retry_in", r.policy.Interval).
			Msg("straw unavailable, retrying")
	}
}

func (r *Retrier) sleep(ctx context.Context, delay time.Duration) error {
	timer := r.clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

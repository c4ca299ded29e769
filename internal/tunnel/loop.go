package tunnel

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/strawctl/internal/observability"
	"github.com/danmuck/strawctl/internal/relay"
	"github.com/danmuck/strawctl/internal/retry"
	"github.com/danmuck/strawctl/internal/straw"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type LoopOption func(*Loop)

// WithObserver subscribes fn to lifecycle events.
func WithObserver(fn Observer) LoopOption {
	return func(l *Loop) { l.observers = append(l.observers, fn) }
}

// WithClock sets the clock used by both retriers.
func WithClock(c clock.Clock) LoopOption {
	return func(l *Loop) { l.clock = c }
}

// Loop repeats establish -> relay -> teardown.
type Loop struct {
	cfg       Config
	clock     clock.Clock
	observers []Observer
}

func NewLoop(cfg Config, opts ...LoopOption) (*Loop, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{cfg: cfg, clock: clock.New()}
	for _, opt := range opts {
		opt(l)
	}
	if cfg.Inbound.Aggressive && cfg.Inbound.RetryInterval == 0 {
		log.Warn().Str("straw", string(straw.Inbound)).Msg("aggressive retry with zero interval busy-loops")
	}
	if cfg.Outbound.Aggressive && cfg.Outbound.RetryInterval == 0 {
		log.Warn().Str("straw", string(straw.Outbound)).Msg("aggressive retry with zero interval busy-loops")
	}
	return l, nil
}

func (l *Loop) Config() Config {
	return l.cfg
}

// Run returns nil once a session ends without Reestablish, the context error
// on cancellation, or the first fatal establishment failure or invariant
// violation.
func (l *Loop) Run(ctx context.Context) error {
	for iteration := 1; ; iteration++ {
		if err := l.iterate(ctx, iteration); err != nil {
			return err
		}
		if !l.cfg.Reestablish {
			log.Info().Int("iteration", iteration).Msg("won't reestablish connections")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Info().Int("iteration", iteration+1).Msg("reestablishing connection")
	}
}

func (l *Loop) iterate(ctx context.Context, iteration int) error {
	in, out, err := l.establish(ctx, iteration)
	if err != nil {
		return err
	}
	l.emit(Event{Iteration: iteration, Kind: EventSessionStarted})
	err = relay.NewSession(in, out, l.cfg.Resilient).Run(ctx)
	l.emit(Event{Iteration: iteration, Kind: EventSessionEnded, Err: err})
	return err
}

// establish brings up the inbound straw first; the outbound straw starts
// only after inbound signals readiness.
func (l *Loop) establish(ctx context.Context, iteration int) (straw.Endpoint, straw.Endpoint, error) {
	var in, out straw.Endpoint
	ready := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ep, err := l.retrier(l.cfg.Inbound).Establish(gctx, l.factory(iteration, l.cfg.Inbound))
		if err != nil {
			return fmt.Errorf("establish %s: %w", straw.Inbound, err)
		}
		in = ep
		close(ready)
		return nil
	})
	g.Go(func() error {
		select {
		case <-ready:
		case <-gctx.Done():
			return nil
		}
		ep, err := l.retrier(l.cfg.Outbound).Establish(gctx, l.factory(iteration, l.cfg.Outbound))
		if err != nil {
			return fmt.Errorf("establish %s: %w", straw.Outbound, err)
		}
		out = ep
		return nil
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for _, ep := range []straw.Endpoint{in, out} {
			if ep != nil {
				_ = ep.Close()
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, err
	}
	return in, out, nil
}

func (l *Loop) retrier(cfg straw.Config) *retry.Retrier {
	return retry.New(retry.PolicyFor(cfg), retry.WithClock(l.clock))
}

func (l *Loop) factory(iteration int, cfg straw.Config) retry.Factory {
	return func() (straw.Endpoint, error) {
		return straw.New(cfg,
			straw.OnListening(func(side straw.Side, addr net.Addr) {
				l.emit(Event{Iteration: iteration, Kind: EventListening, Side: side, Addr: addr.String()})
			}),
			straw.OnState(func(side straw.Side, state straw.State) {
				observability.SetStrawState(string(side), int(state))
				l.emit(Event{Iteration: iteration, Kind: EventState, Side: side, State: state})
			}),
		)
	}
}

func (l *Loop) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, fn := range l.observers {
		fn(e)
	}
}

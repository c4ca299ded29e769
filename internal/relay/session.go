package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/danmuck/strawctl/internal/observability"
	"github.com/danmuck/strawctl/internal/straw"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrEndpointNotConnected = errors.New("relay: endpoint not connected")

// Stats counts bytes relayed by one session.
type Stats struct {
	InboundToOutbound uint64
	OutboundToInbound uint64
}

// Session owns one connected inbound and one connected outbound endpoint.
type Session struct {
	inbound   straw.Endpoint
	outbound  straw.Endpoint
	resilient bool

	toOutbound atomic.Uint64
	toInbound  atomic.Uint64
}

func NewSession(inbound, outbound straw.Endpoint, resilient bool) *Session {
	return &Session{inbound: inbound, outbound: outbound, resilient: resilient}
}

func (s *Session) Stats() Stats {
	return Stats{
		InboundToOutbound: s.toOutbound.Load(),
		OutboundToInbound: s.toInbound.Load(),
	}
}

// Run blocks until both pumps have ended. It returns the context error on
// cancellation, or an error wrapping straw.ErrInvariantViolation if a pump
// tried to write to an endpoint that was no longer connected. Fatal I/O
// on either socket only ends the affected direction and is not returned.
func (s *Session) Run(ctx context.Context) error {
	if s.inbound.State() != straw.Connected || s.outbound.State() != straw.Connected {
		s.closeBoth()
		return ErrEndpointNotConnected
	}
	start := time.Now()
	log.Info().Bool("resilient", s.resilient).Msg("relay session started")

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, s.closeBoth)
	g.Go(func() error { return s.pump(s.inbound, s.outbound, &s.toOutbound) })
	g.Go(func() error { return s.pump(s.outbound, s.inbound, &s.toInbound) })
	err := g.Wait()
	stop()
	s.closeBoth()

	// Cancellation closes both straws under the pumps, so a send that was
	// in flight at that moment fails too. That is still an interrupt.
	result := "ended"
	switch {
	case ctx.Err() != nil:
		result = "cancelled"
		err = ctx.Err()
	case err != nil:
		result = "invariant_violation"
	}
	stats := s.Stats()
	observability.RecordSession(result, time.Since(start))
	log.Info().
		Str("result", result).
		Uint64("inbound_to_outbound", stats.InboundToOutbound).
		Uint64("outbound_to_inbound", stats.OutboundToInbound).
		Dur("duration", time.Since(start)).
		Msg("relay session ended")
	return err
}

func (s *Session) pump(src, dst straw.Endpoint, counter *atomic.Uint64) error {
	counterpart := string(src.Side().Peer())
	direction := string(src.Side()) + "->" + counterpart
	err := src.Receive(func(chunk []byte) error {
		if err := dst.Send(chunk); err != nil {
			return err
		}
		counter.Add(uint64(len(chunk)))
		observability.RecordRelayedBytes(direction, len(chunk))
		return nil
	})
	if errors.Is(err, straw.ErrInvariantViolation) {
		log.Error().Err(err).Str("direction", direction).Msg("attempt to send data to a closed straw")
		return err
	}
	if err != nil {
		log.Warn().Err(err).Str("direction", direction).Msg("pump ended on i/o error")
	}

	if s.resilient {
		log.Info().Str("straw", string(src.Side())).Str("counterpart", counterpart).Msg("resilient: leaving counterpart open")
		return nil
	}
	log.Info().Str("straw", string(src.Side())).Str("counterpart", counterpart).Msg("closing counterpart connection")
	_ = dst.Close()
	return nil
}

func (s *Session) closeBoth() {
	_ = s.inbound.Close()
	_ = s.outbound.Close()
}

package straw

import (
	"context"
	"net"

	tec "github.com/jbenet/go-temp-err-catcher"
	"github.com/rs/zerolog/log"
)

// ServerEndpoint binds a listener and accepts exactly one peer. The
// listener is released as soon as that peer is accepted, so a second peer
// needs a new ServerEndpoint.
type ServerEndpoint struct {
	link
}

var _ Endpoint = (*ServerEndpoint)(nil)

func NewServer(cfg Config, opts ...Option) *ServerEndpoint {
	s := &ServerEndpoint{}
	s.init(cfg, opts)
	return s
}

func (s *ServerEndpoint) Establish(ctx context.Context) error {
	if err := s.begin("listen"); err != nil {
		return err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.HostPort())
	if err != nil {
		return s.fail("listen", err)
	}
	if !s.holdListener(ln) {
		_ = ln.Close()
		return s.fail("listen", net.ErrClosed)
	}
	log.Info().
		Str("straw", string(s.cfg.Side)).
		Str("addr", ln.Addr().String()).
		Msg("listening")
	if s.opts.onListening != nil {
		s.opts.onListening(s.cfg.Side, ln.Addr())
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	conn, err := acceptOne(ln)
	stop()
	s.releaseListener(ln)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return s.fail("accept", err)
	}
	return s.connected("accept", conn)
}

func (s *ServerEndpoint) holdListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connecting {
		return false
	}
	s.ln = ln
	return true
}

func (s *ServerEndpoint) releaseListener(ln net.Listener) {
	s.mu.Lock()
	held := s.ln == ln
	if held {
		s.ln = nil
	}
	s.mu.Unlock()
	if held {
		_ = ln.Close()
	}
}

// acceptOne blocks for a single peer, sleeping through temporary errors
// such as descriptor exhaustion.
func acceptOne(ln net.Listener) (net.Conn, error) {
	var catcher tec.TempErrCatcher
	for {
		conn, err := ln.Accept()
		if err == nil {
			return conn, nil
		}
		if catcher.IsTemporary(err) {
			log.Warn().Err(err).Str("addr", ln.Addr().String()).Msg("temporary accept error")
			continue
		}
		return nil, err
	}
}

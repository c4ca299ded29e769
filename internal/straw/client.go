package straw

import (
	"context"
	"net"

	"github.com/rs/zerolog/log"
)

// ClientEndpoint dials its peer.
type ClientEndpoint struct {
	link
}

var _ Endpoint = (*ClientEndpoint)(nil)

func NewClient(cfg Config, opts ...Option) *ClientEndpoint {
	c := &ClientEndpoint{}
	c.init(cfg, opts)
	return c
}

func (c *ClientEndpoint) Establish(ctx context.Context) error {
	if err := c.begin("dial"); err != nil {
		return err
	}
	var dialer net.Dialer
	addr := c.cfg.HostPort()
	log.Debug().Str("straw", string(c.cfg.Side)).Str("addr", addr).Msg("dialing")
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return c.fail("dial", err)
	}
	return c.connected("dial", conn)
}

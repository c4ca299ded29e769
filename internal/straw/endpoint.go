package straw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Endpoint is one established-or-establishing TCP leg.
type Endpoint interface {
	// Establish connects (client) or accepts one peer (server). It never
	// retries; errors are *EstablishError carrying an Outcome.
	Establish(ctx context.Context) error
	// Receive hands each chunk read from the peer to handle, in order.
	// The chunk is only valid for the duration of the call. Receive
	// returns nil on EOF or local close, an ErrFatalIO-wrapped error on a
	// read failure, or the error returned by handle. The endpoint is
	// Closed when Receive returns.
	Receive(handle func(chunk []byte) error) error
	// Send writes all of p. It fails with ErrInvariantViolation unless the
	// endpoint is Connected.
	Send(p []byte) error
	// Close is idempotent and safe for concurrent use.
	Close() error

	State() State
	Side() Side
	Role() Role
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Option adjusts endpoint construction.
type Option func(*options)

type options struct {
	onListening func(Side, net.Addr)
	onState     func(Side, State)
}

// OnListening registers a callback fired once a server endpoint has bound
// its listener, before it blocks in accept.
func OnListening(fn func(Side, net.Addr)) Option {
	return func(o *options) { o.onListening = fn }
}

// OnState registers a callback fired after every state transition.
func OnState(fn func(Side, State)) Option {
	return func(o *options) { o.onState = fn }
}

// New builds a fresh Disconnected endpoint for cfg.Role.
func New(cfg Config, opts ...Option) (Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Role {
	case RoleServer:
		return NewServer(cfg, opts...), nil
	default:
		return NewClient(cfg, opts...), nil
	}
}

// link is the state machine and connected-socket logic shared by both roles.
type link struct {
	cfg  Config
	opts options

	mu        sync.Mutex
	state     State
	conn      net.Conn
	ln        net.Listener
	receiving bool

	closeOnce sync.Once
	closeErr  error
}

func (l *link) init(cfg Config, opts []Option) {
	l.cfg = cfg
	l.state = Disconnected
	for _, opt := range opts {
		opt(&l.opts)
	}
}

func (l *link) Side() Side { return l.cfg.Side }
func (l *link) Role() Role { return l.cfg.Role }

func (l *link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *link) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn.LocalAddr()
	}
	if l.ln != nil {
		return l.ln.Addr()
	}
	return nil
}

func (l *link) RemoteAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.RemoteAddr()
}

func (l *link) notify(s State) {
	if l.opts.onState != nil {
		l.opts.onState(l.cfg.Side, s)
	}
}

// begin moves Disconnected -> Connecting.
func (l *link) begin(op string) error {
	l.mu.Lock()
	state := l.state
	if state == Disconnected {
		l.state = Connecting
	}
	l.mu.Unlock()

	switch state {
	case Disconnected:
		l.notify(Connecting)
		return nil
	case Connected:
		return &EstablishError{
			Side:    l.cfg.Side,
			Op:      op,
			Addr:    l.cfg.HostPort(),
			Outcome: OutcomeAlreadyConnected,
			Err:     ErrAlreadyConnected,
		}
	default:
		return &EstablishError{
			Side:    l.cfg.Side,
			Op:      op,
			Addr:    l.cfg.HostPort(),
			Outcome: OutcomeFatal,
			Err:     fmt.Errorf("%w: establish from %s", ErrInvariantViolation, state),
		}
	}
}

// connected moves Connecting -> Connected. If the endpoint was closed while
// establishing, conn is released and the attempt fails.
func (l *link) connected(op string, conn net.Conn) error {
	l.mu.Lock()
	if l.state != Connecting {
		l.mu.Unlock()
		_ = conn.Close()
		return &EstablishError{
			Side:    l.cfg.Side,
			Op:      op,
			Addr:    l.cfg.HostPort(),
			Outcome: OutcomeFatal,
			Err:     net.ErrClosed,
		}
	}
	l.conn = conn
	l.state = Connected
	l.mu.Unlock()

	log.Info().
		Str("straw", string(l.cfg.Side)).
		Str("role", string(l.cfg.Role)).
		Str("local", conn.LocalAddr().String()).
		Str("remote", conn.RemoteAddr().String()).
		Msg("straw connected")
	l.notify(Connected)
	return nil
}

// fail makes a failed establishment terminal for this instance.
func (l *link) fail(op string, err error) error {
	_ = l.Close()
	return newEstablishError(l.cfg, op, err)
}

func (l *link) Receive(handle func(chunk []byte) error) error {
	l.mu.Lock()
	if l.state != Connected || l.receiving {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: %s receive in state %s", ErrNotConnected, l.cfg.Side, state)
	}
	l.receiving = true
	conn := l.conn
	l.mu.Unlock()
	defer l.Close()

	buf := make([]byte, ChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if herr := handle(buf[:n]); herr != nil {
				return herr
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			log.Info().Str("straw", string(l.cfg.Side)).Msg("peer is gone")
			return nil
		}
		if errors.Is(err, net.ErrClosed) || l.State() == Closed {
			log.Debug().Str("straw", string(l.cfg.Side)).Msg("straw closed locally")
			return nil
		}
		return fmt.Errorf("%w: %s read: %w", ErrFatalIO, l.cfg.Side, err)
	}
}

func (l *link) Send(p []byte) error {
	l.mu.Lock()
	state := l.state
	conn := l.conn
	l.mu.Unlock()
	if state != Connected {
		return fmt.Errorf("%w: send to %s endpoint in state %s", ErrInvariantViolation, l.cfg.Side, state)
	}
	if _, err := conn.Write(p); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: send to %s endpoint closed mid-write", ErrInvariantViolation, l.cfg.Side)
		}
		return fmt.Errorf("%w: %s write: %w", ErrFatalIO, l.cfg.Side, err)
	}
	return nil
}

func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		prev := l.state
		l.state = Closed
		conn, ln := l.conn, l.ln
		l.ln = nil
		l.mu.Unlock()

		if conn != nil {
			l.closeErr = multierr.Append(l.closeErr, conn.Close())
		}
		if ln != nil {
			l.closeErr = multierr.Append(l.closeErr, ignoreClosed(ln.Close()))
		}
		if prev == Connected {
			log.Info().Str("straw", string(l.cfg.Side)).Msg("straw closed")
		}
		l.notify(Closed)
	})
	return l.closeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

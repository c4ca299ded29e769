package straw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	ErrInvalidRole      = errors.New("straw: invalid role")
	ErrInvalidConfig    = errors.New("straw: invalid config")
	ErrNotConnected     = errors.New("straw: endpoint not connected")
	ErrAlreadyConnected = errors.New("straw: endpoint already connected")
	// ErrInvariantViolation marks a send on an endpoint that is not
	// Connected. The pump coordination is broken; it is never recovered.
	ErrInvariantViolation = errors.New("straw: invariant violation")
	// ErrFatalIO wraps read/write failures on an established connection.
	ErrFatalIO = errors.New("straw: fatal i/o")
)

// Outcome classifies one establishment attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeAlreadyConnected
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeAlreadyConnected:
		return "already_connected"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Established reports whether the outcome leaves the endpoint usable.
func (o Outcome) Established() bool {
	return o == OutcomeSuccess || o == OutcomeAlreadyConnected
}

// EstablishError is returned by Endpoint.Establish.
type EstablishError struct {
	Side    Side
	Op      string
	Addr    string
	Outcome Outcome
	Err     error
}

func (e *EstablishError) Error() string {
	return fmt.Sprintf("straw: %s %s %s (%s): %v", e.Side, e.Op, e.Addr, e.Outcome, e.Err)
}

func (e *EstablishError) Unwrap() error {
	return e.Err
}

func newEstablishError(cfg Config, op string, err error) *EstablishError {
	return &EstablishError{
		Side:    cfg.Side,
		Op:      op,
		Addr:    cfg.HostPort(),
		Outcome: classifyCause(err),
		Err:     err,
	}
}

// Classify maps an Establish result onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var ee *EstablishError
	if errors.As(err, &ee) {
		return ee.Outcome
	}
	return classifyCause(err)
}

func classifyCause(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeFatal
	case errors.Is(err, syscall.EISCONN):
		return OutcomeAlreadyConnected
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EINPROGRESS):
		return OutcomeTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return OutcomeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTransient
	}
	return OutcomeFatal
}

package tunnel

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/strawctl/internal/straw"
)

var (
	ErrInvalidMode   = errors.New("tunnel: invalid mode")
	ErrInvalidConfig = errors.New("tunnel: invalid config")
)

// Mode selects the default role of both straws.
type Mode string

const (
	ModeActive  Mode = "active"
	ModePassive Mode = "passive"
)

// ReestablishMinInterval is the lowest retry interval an aggressive inbound
// straw keeps when the loop reestablishes.
const ReestablishMinInterval = time.Second

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeActive:
		return ModeActive, nil
	case ModePassive:
		return ModePassive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// Role is the straw role implied by the mode.
func (m Mode) Role() straw.Role {
	if m == ModePassive {
		return straw.RoleServer
	}
	return straw.RoleClient
}

// Config is built once at startup and shared read-only by every component.
type Config struct {
	Mode        Mode
	Inbound     straw.Config
	Outbound    straw.Config
	Resilient   bool
	Reestablish bool
	AdminListen string
	// AdminToken, when set, is required as a bearer token on /status and
	// /metrics.
	AdminToken string
}

func DefaultConfig(mode Mode) Config {
	return Config{
		Mode:     mode,
		Inbound:  straw.DefaultConfig(straw.Inbound, mode.Role()),
		Outbound: straw.DefaultConfig(straw.Outbound, mode.Role()),
	}
}

// Normalize applies derived settings. When reestablishing, an aggressive
// inbound straw never retries faster than ReestablishMinInterval.
func (c Config) Normalize() Config {
	c.Inbound.Side = straw.Inbound
	c.Outbound.Side = straw.Outbound
	if c.Reestablish && c.Inbound.Aggressive && c.Inbound.RetryInterval < ReestablishMinInterval {
		c.Inbound.RetryInterval = ReestablishMinInterval
	}
	return c
}

func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if err := c.Inbound.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Outbound.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Inbound.Side != straw.Inbound || c.Outbound.Side != straw.Outbound {
		return fmt.Errorf("%w: straw sides swapped", ErrInvalidConfig)
	}
	if c.Inbound.Role == straw.RoleServer && c.Outbound.Role == straw.RoleServer &&
		c.Inbound.Port != 0 && c.Inbound.Port == c.Outbound.Port &&
		strings.TrimSpace(c.Inbound.Address) == strings.TrimSpace(c.Outbound.Address) {
		return fmt.Errorf("%w: inbound and outbound listen on the same address", ErrInvalidConfig)
	}
	return nil
}

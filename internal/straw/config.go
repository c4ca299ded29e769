package straw

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// ChunkSize caps a single relayed read.
	ChunkSize = 2 * 1024

	DefaultAddress = "127.0.0.1"

	// ConfigSchemaVersion tracks changes to user-facing defaults.
	// Schema 1 defaulted the retry interval to zero (connect once).
	ConfigSchemaVersion = 2

	// DefaultRetryInterval is the schema 2 retry interval.
	DefaultRetryInterval = 5 * time.Second
)

// Config describes one straw. It is a value type and is never mutated after
// the relay starts.
type Config struct {
	Side          Side
	Role          Role
	Address       string
	Port          int
	RetryInterval time.Duration
	Aggressive    bool
}

// DefaultRetryIntervalFor returns the retry interval default of a config
// schema version. Unknown or zero versions use the current schema.
func DefaultRetryIntervalFor(schema int) time.Duration {
	if schema == 1 {
		return 0
	}
	return DefaultRetryInterval
}

func DefaultConfig(side Side, role Role) Config {
	return Config{
		Side:          side,
		Role:          role,
		Address:       DefaultAddress,
		RetryInterval: DefaultRetryInterval,
	}
}

// HostPort joins Address and Port for net.Dial / net.Listen.
func (c Config) HostPort() string {
	return net.JoinHostPort(strings.TrimSpace(c.Address), strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	switch c.Side {
	case Inbound, Outbound:
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidConfig, c.Side)
	}
	switch c.Role {
	case RoleClient, RoleServer:
	default:
		return fmt.Errorf("%w: %s role %q", ErrInvalidConfig, c.Side, c.Role)
	}
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("%w: %s address required", ErrInvalidConfig, c.Side)
	}
	// Port 0 lets a server bind an ephemeral port; a client cannot dial it.
	if c.Port < 0 || c.Port > 65535 || (c.Port == 0 && c.Role == RoleClient) {
		return fmt.Errorf("%w: %s port %d", ErrInvalidConfig, c.Side, c.Port)
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("%w: %s retry interval %v", ErrInvalidConfig, c.Side, c.RetryInterval)
	}
	return nil
}

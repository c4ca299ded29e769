package straw

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of one Endpoint instance.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Role selects whether a straw dials or accepts.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleClient, "active":
		return RoleClient, nil
	case RoleServer, "passive":
		return RoleServer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// Side names which leg of the relay an endpoint serves.
type Side string

const (
	Inbound  Side = "inbound"
	Outbound Side = "outbound"
)

// Peer returns the opposite side.
func (s Side) Peer() Side {
	if s == Inbound {
		return Outbound
	}
	return Inbound
}

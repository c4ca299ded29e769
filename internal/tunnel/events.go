package tunnel

import (
	"sync"
	"time"

	"github.com/danmuck/strawctl/internal/straw"
)

type EventKind string

const (
	EventListening      EventKind = "listening"
	EventState          EventKind = "state"
	EventSessionStarted EventKind = "session_started"
	EventSessionEnded   EventKind = "session_ended"
)

// Event reports one lifecycle change of the loop.
type Event struct {
	Iteration int
	Kind      EventKind
	Side      straw.Side
	State     straw.State
	Addr      string
	Err       error
	Time      time.Time
}

// Observer receives events synchronously from the goroutine that produced
// them. It must not block.
type Observer func(Event)

// StrawStatus is the last known condition of one straw.
type StrawStatus struct {
	Role     straw.Role `json:"role"`
	State    string     `json:"state"`
	Listen   string     `json:"listen,omitempty"`
	Attempts int        `json:"attempts"`
}

// StatusSnapshot is the admin view of the loop.
type StatusSnapshot struct {
	Mode      Mode                       `json:"mode"`
	Iteration int                        `json:"iteration"`
	Sessions  int                        `json:"sessions"`
	Active    bool                       `json:"active"`
	LastError string                     `json:"last_error,omitempty"`
	Straws    map[straw.Side]StrawStatus `json:"straws"`
	Updated   time.Time                  `json:"updated"`
}

// Status folds events into a snapshot for the admin API.
type Status struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

func NewStatus(cfg Config) *Status {
	return &Status{snap: StatusSnapshot{
		Mode: cfg.Mode,
		Straws: map[straw.Side]StrawStatus{
			straw.Inbound:  {Role: cfg.Inbound.Role, State: straw.Disconnected.String()},
			straw.Outbound: {Role: cfg.Outbound.Role, State: straw.Disconnected.String()},
		},
	}}
}

func (s *Status) Observe(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Iteration = e.Iteration
	s.snap.Updated = e.Time
	switch e.Kind {
	case EventListening:
		st := s.snap.Straws[e.Side]
		st.Listen = e.Addr
		s.snap.Straws[e.Side] = st
	case EventState:
		st := s.snap.Straws[e.Side]
		st.State = e.State.String()
		if e.State == straw.Connecting {
			st.Attempts++
		}
		s.snap.Straws[e.Side] = st
	case EventSessionStarted:
		s.snap.Active = true
		s.snap.Sessions++
	case EventSessionEnded:
		s.snap.Active = false
		if e.Err != nil {
			s.snap.LastError = e.Err.Error()
		}
	}
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Straws = make(map[straw.Side]StrawStatus, len(s.snap.Straws))
	for side, st := range s.snap.Straws {
		out.Straws[side] = st
	}
	return out
}

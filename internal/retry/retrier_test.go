package retry

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/strawctl/internal/straw"
	"github.com/danmuck/strawctl/internal/testutil/testlog"
)

// scriptedEndpoint fails establishment with the next scripted outcome.
type scriptedEndpoint struct {
	outcome straw.Outcome
	state   straw.State
	onTry   func()
}

func (e *scriptedEndpoint) Establish(context.Context) error {
	if e.onTry != nil {
		e.onTry()
	}
	if e.outcome.Established() {
		e.state = straw.Connected
		return nil
	}
	e.state = straw.Closed
	return &straw.EstablishError{
		Side:    straw.Inbound,
		Op:      "dial",
		Addr:    "127.0.0.1:1",
		Outcome: e.outcome,
		Err:     syscall.ECONNREFUSED,
	}
}

func (e *scriptedEndpoint) Receive(func([]byte) error) error { return nil }
func (e *scriptedEndpoint) Send([]byte) error                { return nil }
func (e *scriptedEndpoint) Close() error                     { e.state = straw.Closed; return nil }
func (e *scriptedEndpoint) State() straw.State               { return e.state }
func (e *scriptedEndpoint) Side() straw.Side                 { return straw.Inbound }
func (e *scriptedEndpoint) Role() straw.Role                 { return straw.RoleClient }
func (e *scriptedEndpoint) LocalAddr() net.Addr              { return nil }
func (e *scriptedEndpoint) RemoteAddr() net.Addr             { return nil }

type script struct {
	mu       sync.Mutex
	outcomes []straw.Outcome
	attempts []time.Time
	now      func() time.Time
}

func (s *script) factory() (straw.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome := straw.OutcomeSuccess
	if idx := len(s.attempts); idx < len(s.outcomes) {
		outcome = s.outcomes[idx]
	}
	s.attempts = append(s.attempts, time.Time{})
	idx := len(s.attempts) - 1
	return &scriptedEndpoint{outcome: outcome, onTry: func() {
		s.mu.Lock()
		s.attempts[idx] = s.now()
		s.mu.Unlock()
	}}, nil
}

func (s *script) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func transient(n int) []straw.Outcome {
	out := make([]straw.Outcome, n)
	for i := range out {
		out[i] = straw.OutcomeTransient
	}
	return out
}

func TestNextDelayIsConstant(t *testing.T) {
	testlog.Start(t)
	p := Policy{Interval: 5 * time.Second, Aggressive: true}
	if got := NextDelay(p, 1); got != 0 {
		t.Fatalf("first attempt must not wait, got %v", got)
	}
	for attempt := 2; attempt < 10; attempt++ {
		if got := NextDelay(p, attempt); got != 5*time.Second {
			t.Fatalf("attempt%d got=%v", attempt, got)
		}
	}
	if got := NextDelay(Policy{Aggressive: true}, 4); got != 0 {
		t.Fatalf("zero interval must busy retry, got %v", got)
	}
}

func TestPolicyFor(t *testing.T) {
	cfg := straw.DefaultConfig(straw.Outbound, straw.RoleClient)
	cfg.Aggressive = true
	p := PolicyFor(cfg)
	if !p.Aggressive || p.Interval != straw.DefaultRetryInterval {
		t.Fatalf("unexpected policy: %+v", p)
	}
}

func TestNonAggressiveSingleAttempt(t *testing.T) {
	testlog.Start(t)
	for _, outcome := range []straw.Outcome{straw.OutcomeTransient, straw.OutcomeFatal} {
		s := &script{outcomes: []straw.Outcome{outcome}, now: time.Now}
		r := New(Policy{Interval: time.Millisecond, Aggressive: false})
		ep, err := r.Establish(context.Background(), s.factory)
		if err == nil || ep != nil {
			t.Fatalf("%s: expected failure, got ep=%v err=%v", outcome, ep, err)
		}
		if straw.Classify(err) != outcome {
			t.Fatalf("%s: error must be returned untranslated, got %v", outcome, err)
		}
		if s.count() != 1 {
			t.Fatalf("%s: expected exactly one attempt, got %d", outcome, s.count())
		}
	}

	s := &script{now: time.Now}
	ep, err := New(Policy{}).Establish(context.Background(), s.factory)
	if err != nil || ep.State() != straw.Connected || s.count() != 1 {
		t.Fatalf("unexpected success path: ep=%v err=%v attempts=%d", ep, err, s.count())
	}
}

func TestAggressiveRetryMockClock(t *testing.T) {
	testlog.Start(t)
	const failures = 3
	const interval = 5 * time.Second

	mock := clock.NewMock()
	s := &script{outcomes: transient(failures), now: mock.Now}
	r := New(Policy{Interval: interval, Aggressive: true}, WithClock(mock))

	start := mock.Now()
	done := make(chan error, 1)
	go func() {
		_, err := r.Establish(context.Background(), s.factory)
		done <- err
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("establish: %v", err)
			}
			if got := s.count(); got != failures+1 {
				t.Fatalf("expected %d attempts, got %d", failures+1, got)
			}
			if elapsed := mock.Now().Sub(start); elapsed < failures*interval {
				t.Fatalf("elapsed %v < %v", elapsed, failures*interval)
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			for i := 1; i < len(s.attempts); i++ {
				if gap := s.attempts[i].Sub(s.attempts[i-1]); gap < interval {
					t.Fatalf("attempt %d followed previous after %v", i+1, gap)
				}
			}
			return
		case <-deadline:
			t.Fatalf("retrier did not finish; attempts=%d", s.count())
		default:
			mock.Add(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestAggressiveRetryRealClock(t *testing.T) {
	testlog.Start(t)
	const failures = 3
	const interval = 30 * time.Millisecond

	s := &script{outcomes: transient(failures), now: time.Now}
	r := New(Policy{Interval: interval, Aggressive: true})
	start := time.Now()
	ep, err := r.Establish(context.Background(), s.factory)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if ep.State() != straw.Connected {
		t.Fatalf("unexpected state: %s", ep.State())
	}
	if elapsed := time.Since(start); elapsed < failures*interval {
		t.Fatalf("elapsed %v < %v", elapsed, failures*interval)
	}
	if got := s.count(); got != failures+1 {
		t.Fatalf("expected %d attempts, got %d", failures+1, got)
	}
}

func TestAggressiveZeroIntervalBusyRetries(t *testing.T) {
	testlog.Start(t)
	s := &script{outcomes: transient(50), now: time.Now}
	ep, err := New(Policy{Aggressive: true}).Establish(context.Background(), s.factory)
	if err != nil || ep == nil {
		t.Fatalf("establish: %v", err)
	}
	if s.count() != 51 {
		t.Fatalf("expected 51 attempts, got %d", s.count())
	}
}

func TestAggressiveAlreadyConnectedIsSuccess(t *testing.T) {
	testlog.Start(t)
	s := &script{outcomes: []straw.Outcome{straw.OutcomeTransient, straw.OutcomeAlreadyConnected}, now: time.Now}
	ep, err := New(Policy{Aggressive: true}).Establish(context.Background(), s.factory)
	if err != nil || ep == nil || s.count() != 2 {
		t.Fatalf("unexpected result: ep=%v err=%v attempts=%d", ep, err, s.count())
	}
}

func TestAggressiveFatalStops(t *testing.T) {
	testlog.Start(t)
	s := &script{outcomes: []straw.Outcome{straw.OutcomeTransient, straw.OutcomeFatal}, now: time.Now}
	_, err := New(Policy{Aggressive: true}).Establish(context.Background(), s.factory)
	if straw.Classify(err) != straw.OutcomeFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if s.count() != 2 {
		t.Fatalf("expected 2 attempts, got %d", s.count())
	}
}

func TestAggressiveCancelledDuringWait(t *testing.T) {
	testlog.Start(t)
	s := &script{outcomes: transient(1000), now: time.Now}
	r := New(Policy{Interval: time.Hour, Aggressive: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Establish(ctx, s.factory)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("retry wait ignored cancellation")
	}
	if s.count() != 1 {
		t.Fatalf("expected one attempt before cancel, got %d", s.count())
	}
}

func TestFactoryErrorStops(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("bad config")
	_, err := New(Policy{Aggressive: true}).Establish(context.Background(), func() (straw.Endpoint, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestRetrierAgainstRealListener(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	_ = ln.Close()

	cfg := straw.DefaultConfig(straw.Outbound, straw.RoleClient)
	cfg.Port = addr.Port
	cfg.Aggressive = true
	cfg.RetryInterval = 20 * time.Millisecond

	var attempts int
	var mu sync.Mutex
	factory := func() (straw.Endpoint, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 3 {
			relisten, err := net.Listen("tcp", addr.String())
			if err != nil {
				return nil, err
			}
			go func() {
				conn, err := relisten.Accept()
				if err == nil {
					defer conn.Close()
				}
				_ = relisten.Close()
			}()
		}
		return straw.New(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ep, err := New(PolicyFor(cfg)).Establish(ctx, factory)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	defer ep.Close()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

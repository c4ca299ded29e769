package tunnel

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/strawctl/internal/auth"
	"github.com/danmuck/strawctl/internal/observability"
	"github.com/rs/zerolog/log"
)

// Service runs the loop as a process: signal handling, admin API, exit
// classification.
type Service struct {
	cfg    Config
	loop   *Loop
	status *Status
}

func NewService(cfg Config, opts ...LoopOption) (*Service, error) {
	status := NewStatus(cfg.Normalize())
	opts = append([]LoopOption{WithObserver(status.Observe)}, opts...)
	loop, err := NewLoop(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: loop.Config(), loop: loop, status: status}, nil
}

func (s *Service) Status() *Status {
	return s.status
}

// Run blocks until the loop finishes or SIGINT/SIGTERM arrives.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext treats cancellation of ctx as a clean interrupt.
func (s *Service) RunContext(ctx context.Context) error {
	observability.RegisterMetrics()
	if addr := strings.TrimSpace(s.cfg.AdminListen); addr != "" {
		var validator auth.Validator
		if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
			validator = auth.StaticToken{Token: token}
		}
		admin, err := startAdmin(addr, s.status, validator)
		if err != nil {
			return err
		}
		defer admin.Shutdown()
	}

	log.Info().
		Str("mode", string(s.cfg.Mode)).
		Str("inbound", string(s.cfg.Inbound.Role)+" "+s.cfg.Inbound.HostPort()).
		Str("outbound", string(s.cfg.Outbound.Role)+" "+s.cfg.Outbound.HostPort()).
		Bool("resilient", s.cfg.Resilient).
		Bool("reestablish", s.cfg.Reestablish).
		Msgf("starting in %s mode", s.cfg.Mode)

	err := s.loop.Run(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Info().Msg("interrupt")
		return nil
	}
	return err
}

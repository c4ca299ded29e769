package tunnel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/strawctl/internal/auth"
	"github.com/danmuck/strawctl/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const adminShutdownTimeout = 2 * time.Second

// Version is reported by the admin API and --version.
const Version = "0.2.0"

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Check(v, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// newAdminRouter exposes the loop status. A nil validator leaves every
// route open; /health is always open.
func newAdminRouter(status *Status, started time.Time, validator auth.Validator) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(started).String(),
			"service": "strawctl",
			"version": Version,
		})
	})

	guarded := r.Group("/")
	if validator != nil {
		guarded.Use(requireToken(validator))
	}
	guarded.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Snapshot())
	})
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// adminServer serves the admin router until its context ends.
type adminServer struct {
	srv *http.Server
}

func startAdmin(addr string, status *Status, validator auth.Validator) (*adminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	a := &adminServer{
		srv: &http.Server{
			Handler:           newAdminRouter(status, time.Now(), validator),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin api listening")
	return a, nil
}

func (a *adminServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("admin shutdown")
	}
}

package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailmaestro/internal/config"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/orchestrator"
	apperrors "mailmaestro/pkg/errors"
	"mailmaestro/pkg/health"
	"mailmaestro/pkg/middleware"
	"mailmaestro/pkg/ratelimit"
)

// Runner executes one triage pass.
type Runner interface {
	Run(ctx context.Context) (orchestrator.Summary, error)
}

// Server exposes the trigger, health and metrics endpoints.
type Server struct {
	runner  Runner
	health  *health.CheckerRegistry
	logger  logger.Logger
	engine  *gin.Engine
	running atomic.Bool
}

func New(runner Runner, registry *health.CheckerRegistry, cfg config.Config, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		runner: runner,
		health: registry,
		logger: log,
	}

	engine := gin.New()
	engine.Use(middleware.RecoveryMiddleware(log))
	engine.Use(middleware.LoggerMiddleware(log))

	if cfg.RateLimit.Enabled {
		rlCfg := ratelimit.DefaultConfig()
		if cfg.RateLimit.RPS > 0 {
			rlCfg.RPS = cfg.RateLimit.RPS
		}
		if cfg.RateLimit.Burst > 0 {
			rlCfg.Burst = cfg.RateLimit.Burst
		}
		engine.Use(ratelimit.Middleware(rlCfg))
	}

	engine.POST("/run", s.handleRun)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(apperrors.ToHTTPStatus(apperrors.ErrNotFound), apperrors.ToErrorResponse(apperrors.ErrNotFound))
	})

	s.engine = engine
	return s
}

// Handler exposes the router, mainly for the HTTP server and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handleRun accepts the trigger and starts a triage pass in the background.
// The response does not wait for the run; 202 only acknowledges the start.
// A second trigger while a run is active gets 409.
func (s *Server) handleRun(c *gin.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.respondError(c, apperrors.ErrConflict.WithDetail("reason", "a triage run is already in progress"))
		return
	}

	go func() {
		defer s.running.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if _, err := s.runner.Run(ctx); err != nil {
			s.logger.Errorw("triggered run failed", "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) respondError(c *gin.Context, err error) {
	s.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
}

func (s *Server) handleHealth(c *gin.Context) {
	result := s.health.Check(c.Request.Context())
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

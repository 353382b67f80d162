package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"govgate/internal/config"
	"govgate/internal/domain"
	"govgate/internal/logging"
	"govgate/internal/usecase"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	logger *slog.Logger

	tokens      usecase.TokenCodec
	admission   *usecase.AdmissionGate
	revocations *usecase.RevocationRegistry
	intake      *usecase.IntakePipeline
	escalations *usecase.EscalationQueue
	decisions   *usecase.DecisionBinder
	gate        *usecase.ExecutionGate
	audit       *usecase.AuditEmitter

	adminAPIKey string
	mode        string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Tokens      usecase.TokenCodec
	Admission   *usecase.AdmissionGate
	Revocations *usecase.RevocationRegistry
	Intake      *usecase.IntakePipeline
	Escalations *usecase.EscalationQueue
	Decisions   *usecase.DecisionBinder
	Gate        *usecase.ExecutionGate
	Audit       *usecase.AuditEmitter
	RateLimiter domain.RateLimiter
	Logger      *slog.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	logger := logging.OrDiscard(deps.Logger)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cfg:         cfg,
		r:           r,
		logger:      logger,
		tokens:      deps.Tokens,
		admission:   deps.Admission,
		revocations: deps.Revocations,
		intake:      deps.Intake,
		escalations: deps.Escalations,
		decisions:   deps.Decisions,
		gate:        deps.Gate,
		audit:       deps.Audit,
		adminAPIKey: cfg.AdminAPIKey,
		mode:        cfg.StorageMode(),
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.mode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/revocations", s.handleRevoke)
		v1.GET("/revocations", s.handleListRevocations)

		v1.POST("/intake", s.handleIntake)

		v1.GET("/escalations/:id", s.handleGetEscalation)
		v1.POST("/escalations/:id/decision", s.handleDecide)
		v1.GET("/escalations/:id/decision", s.handleGetDecision)
		v1.POST("/escalations/:id/execute", s.handleExecute)
	}

	s.r.NoRoute(s.handleNoRoute)
}

// Handler exposes the router for tests and for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.HTTPAddr, "mode", s.mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id := c.GetString(requestIDContextKey); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("request refused", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}

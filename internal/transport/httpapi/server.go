// Package httpapi is the thin transport layer implementing the wire
// protocol (§6) over the API Facade, grounded on the teacher's pkg/api
// server and kept a pure transport concern: no domain logic lives here,
// only request parsing, auth/validation wiring, and response shaping.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nightslayer18/skeenode-contracts/internal/auth"
	"github.com/nightslayer18/skeenode-contracts/internal/core/facade"
	"github.com/nightslayer18/skeenode-contracts/internal/transport/middleware"
)

// HealthChecker reports whether a dependency the server relies on is
// currently reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Config holds everything the API server needs to wire its routes.
type Config struct {
	Port        string
	Facade      *facade.Facade
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	Validator   *middleware.Validator
	RateLimiter *middleware.RateLimiter
	Logger      *zap.Logger

	Postgres HealthChecker
	Redis    HealthChecker
	Etcd     HealthChecker
}

// Server wraps the gin router and the http.Server it drives.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	facade    *facade.Facade
	validator *middleware.Validator
	logger    *zap.Logger

	postgres HealthChecker
	redis    HealthChecker
	etcd     HealthChecker
}

// New builds a Server with its full middleware stack and route table.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("contractsd"))

	if cfg.RateLimiter != nil {
		router.Use(cfg.RateLimiter.Middleware())
	}
	if cfg.Validator != nil {
		router.Use(middleware.BodySizeLimitMiddleware(cfg.Validator.Config().MaxBodySize))
	}

	s := &Server{
		router:    router,
		facade:    cfg.Facade,
		validator: cfg.Validator,
		logger:    cfg.Logger,
		postgres:  cfg.Postgres,
		redis:     cfg.Redis,
		etcd:      cfg.Etcd,
	}

	router.GET("/healthz", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authConfig := middleware.AuthConfig{
		JWTService:  cfg.JWTService,
		APIKeyStore: cfg.APIKeyStore,
		SkipPaths:   []string{"/healthz", "/metrics"},
	}

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(authConfig))
	{
		api.PUT("/jobs/:id", s.putJob)
		api.GET("/jobs/:id", s.getJob)
		api.GET("/jobs", s.listJobs)
		api.POST("/jobs/:id/pause", middleware.RequireRole(auth.RoleOperator), s.pauseJob)
		api.POST("/jobs/:id/retry", middleware.RequireRole(auth.RoleOperator), s.retryJob)

		api.PUT("/commitments", middleware.RequireAgent(), s.requestWork)
		api.POST("/commitments/:id/heartbeat", middleware.RequireAgent(), s.heartbeat)
		api.PUT("/commitments/:id", middleware.RequireAgent(), s.completeWork)

		api.GET("/agents", s.listAgents)
		api.GET("/agents/:id", s.getAgent)
		api.GET("/contracts", s.listContracts)
	}

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's http.Handler, for tests that want to drive
// it with httptest rather than a bound listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests. Blocks until Shutdown stops it.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("starting contractsd http server", zap.String("addr", s.httpServer.Addr))
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("contractsd http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	deps := make(map[string]bool)

	deps["postgres"] = pingOK(ctx, s.postgres)
	deps["redis"] = pingOK(ctx, s.redis)
	deps["etcd"] = pingOK(ctx, s.etcd)

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}

func pingOK(ctx context.Context, checker HealthChecker) bool {
	if checker == nil {
		return true
	}
	return checker.Ping(ctx) == nil
}

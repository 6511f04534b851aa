package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/letter-verify-server/internal/domain"
	"github.com/letter-verify-server/internal/middleware"
	"github.com/letter-verify-server/internal/service"
)

// HealthChecker reports backing-store liveness for the health endpoint
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server wires the verification services behind an HTTP API
type Server struct {
	configManager domain.ConfigManager
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server

	diff       domain.DiffEngine
	obfuscator domain.Obfuscator
	detector   domain.Detector
	scorer     domain.RiskScorer
	builder    domain.ProvenanceBuilder
	scrubber   *service.TelemetryScrubber

	flags      domain.FlagStore
	provenance domain.ProvenanceStore
	sessions   domain.SessionStore
	dbHealth   HealthChecker
}

// Dependencies collects everything the server needs
type Dependencies struct {
	Diff       domain.DiffEngine
	Obfuscator domain.Obfuscator
	Detector   domain.Detector
	Scorer     domain.RiskScorer
	Builder    domain.ProvenanceBuilder
	Scrubber   *service.TelemetryScrubber

	Flags      domain.FlagStore
	Provenance domain.ProvenanceStore
	Sessions   domain.SessionStore

	// DBHealth is optional; when set the health endpoint probes it.
	DBHealth HealthChecker
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, logger *logrus.Logger, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Server.WriteTimeout))
	router.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))

	server := &Server{
		configManager: configManager,
		logger:        logger,
		router:        router,
		diff:          deps.Diff,
		obfuscator:    deps.Obfuscator,
		detector:      deps.Detector,
		scorer:        deps.Scorer,
		builder:       deps.Builder,
		scrubber:      deps.Scrubber,
		flags:         deps.Flags,
		provenance:    deps.Provenance,
		sessions:      deps.Sessions,
		dbHealth:      deps.DBHealth,
	}

	server.setupRoutes()
	return server
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/diff", s.handleDiff)

		v1.POST("/verify", s.handleVerify)
		v1.GET("/verify/:letterID/report", s.handleHallucinationReport)
		v1.GET("/verify/:letterID/flags", s.handleGetFlags)
		v1.POST("/flags/:flagID/dismiss", s.handleDismissFlag)

		phi := v1.Group("/phi")
		{
			phi.POST("/obfuscate", s.handleObfuscate)
			phi.POST("/deobfuscate", s.handleDeobfuscate)
			phi.POST("/validate", s.handleValidatePHI)
		}

		prov := v1.Group("/provenance")
		{
			prov.POST("", s.handleBuildProvenance)
			prov.GET("/:letterID", s.handleGetProvenance)
			prov.POST("/:letterID/verify", s.handleVerifyProvenance)
			prov.GET("/:letterID/report", s.handleProvenanceReport)
		}
	}
}

// handleHealth handles health check requests, probing the database when a
// checker is wired (the postgres backend's connection pool)
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	if s.dbHealth != nil {
		if err := s.dbHealth.Health(c.Request.Context()); err != nil {
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}

	c.JSON(http.StatusOK, resp)
}

// errorResponse writes a standardized error body
func (s *Server) errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": domain.NewVerificationError(code, message, "", c.GetString("correlation_id")),
	})
}

// Package http provides the REST API for dispatchd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/audit"
	"github.com/fyrsmithlabs/dispatchd/internal/jobs"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/modelconfig"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Server exposes the orchestration surface over REST.
type Server struct {
	echo      *echo.Echo
	orch      *orchestrator.Orchestrator
	jobs      *jobs.Manager
	knowledge *knowledge.Service
	audit     *audit.Store
	models    *modelconfig.Store
	logger    *zap.Logger
	config    Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(orch *orchestrator.Orchestrator, jobManager *jobs.Manager,
	knowledgeSvc *knowledge.Service, auditStore *audit.Store,
	modelStore *modelconfig.Store, logger *zap.Logger, cfg Config) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9180
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		orch:      orch,
		jobs:      jobManager,
		knowledge: knowledgeSvc,
		audit:     auditStore,
		models:    modelStore,
		logger:    logger,
		config:    cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/execute", s.handleExecute)

	v1.POST("/jobs", s.handleSubmitJob)
	v1.GET("/jobs", s.handleListJobs)
	v1.GET("/jobs/:id", s.handleGetJob)
	v1.PATCH("/jobs/:id/cancel", s.handleCancelJob)
	v1.DELETE("/jobs/:id", s.handleDeleteJob)
	v1.POST("/jobs/cleanup", s.handleCleanupJobs)

	v1.GET("/knowledge/search", s.handleKnowledgeSearch)
	v1.POST("/knowledge", s.handleKnowledgeStore)
	v1.DELETE("/knowledge/:id", s.handleKnowledgeDelete)
	v1.DELETE("/knowledge/projects/:project_id", s.handleKnowledgeDeleteProject)

	v1.GET("/audit", s.handleAuditList)
	v1.GET("/audit/summary", s.handleAuditSummary)

	v1.GET("/models", s.handleListModels)
	v1.POST("/models", s.handlePutModel)
	v1.PATCH("/models/:id/activate", s.handleActivateModel)
	v1.PATCH("/models/:id/deactivate", s.handleDeactivateModel)
	v1.DELETE("/models/:id", s.handleDeleteModel)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Package server exposes the HTTP surface: probes, metrics, the webhook
// ingress and operator endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-function-engine/internal/crm"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const (
	readinessTimeout  = 3 * time.Second
	diagnosticTimeout = 30 * time.Second
)

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ScheduleController is the part of the schedule runner operators can drive.
type ScheduleController interface {
	Enable(ctx context.Context, scheduleID string) (*model.Schedule, error)
	RunDue(ctx context.Context)
}

// Options wires optional routes. Nil fields leave their routes out.
type Options struct {
	Version       string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Checks        []ReadinessCheck
	Metrics       http.Handler
	Webhook       gin.HandlerFunc
	Schedules     ScheduleController
	CRMs          *crm.Registry
	FunctionCache *cache.FunctionCache
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	opts       Options
	logger     *zap.Logger
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func NewServer(port string, logger *zap.Logger, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestContext(logger), recovery())

	s := &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
		},
		engine: engine,
		opts:   opts,
		logger: logger,
	}
	s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)

	if s.opts.Metrics != nil {
		s.logger.Info("Registering /metrics endpoint")
		s.engine.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	if s.opts.Webhook != nil {
		s.engine.POST("/webhook/:key", s.opts.Webhook)
	}
	if s.opts.Schedules != nil {
		s.engine.POST("/schedules/:id/enable", s.handleEnableSchedule)
		s.engine.POST("/schedules/run", s.handleRunSchedules)
	}
	if s.opts.CRMs != nil {
		s.engine.GET("/diagnostics/crm/:provider", s.handleCRMDiagnostics)
	}
	if s.opts.FunctionCache != nil {
		s.engine.GET("/diagnostics/cache", s.handleCacheStats)
	}
}

// Start begins the HTTP server
func (s *Server) Start() {
	utils.SafeGo(func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}, nil)
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "UP", Version: s.opts.Version})
}

// handleReady runs every readiness check; any failure answers 503.
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	details := map[string]string{"timestamp": utils.FormatISO8601(utils.Now())}
	status, code := "READY", http.StatusOK
	for _, chk := range s.opts.Checks {
		if err := chk.Check(ctx); err != nil {
			details[chk.Name] = err.Error()
			status, code = "NOT_READY", http.StatusServiceUnavailable
			continue
		}
		details[chk.Name] = "ok"
	}
	c.JSON(code, HealthResponse{Status: status, Details: details})
}

func (s *Server) handleEnableSchedule(c *gin.Context) {
	sched, err := s.opts.Schedules.Enable(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) handleRunSchedules(c *gin.Context) {
	start := time.Now()
	s.opts.Schedules.RunDue(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "done", "duration_ms": time.Since(start).Milliseconds()})
}

type crmDiagnostics struct {
	Provider       string         `json:"provider"`
	Pipelines      []crm.Pipeline `json:"pipelines"`
	Users          []crm.User     `json:"users"`
	PipelinesError string         `json:"pipelines_error,omitempty"`
	UsersError     string         `json:"users_error,omitempty"`
}

// handleCRMDiagnostics lists pipelines and users of a configured provider.
func (s *Server) handleCRMDiagnostics(c *gin.Context) {
	name := c.Param("provider")
	client, err := s.opts.CRMs.Get(name)
	if err != nil {
		s.abort(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), diagnosticTimeout)
	defer cancel()

	out := crmDiagnostics{Provider: name, Pipelines: []crm.Pipeline{}, Users: []crm.User{}}
	if p, err := client.GetPipelines(ctx); err != nil {
		out.PipelinesError = err.Error()
	} else if p != nil {
		out.Pipelines = p
	}
	if u, err := client.GetUsers(ctx); err != nil {
		out.UsersError = err.Error()
	} else if u != nil {
		out.Users = u
	}

	code := http.StatusOK
	if out.PipelinesError != "" && out.UsersError != "" {
		code = http.StatusBadGateway
	}
	c.JSON(code, out)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.FunctionCache.GetStats())
}

// abort maps an application error onto a status code.
func (s *Server) abort(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case apperrors.IsNotFoundError(err):
		code = http.StatusNotFound
	case errors.Is(err, apperrors.ErrSchedule), errors.Is(err, apperrors.ErrValidation), apperrors.IsBadRequestError(err):
		code = http.StatusUnprocessableEntity
	case apperrors.IsUnauthorizedError(err):
		code = http.StatusUnauthorized
	}
	if code == http.StatusInternalServerError {
		loggerFrom(c, s.logger).Error("Request failed", zap.Error(err))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

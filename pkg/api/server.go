// Package api provides the admin HTTP surface of the core: mapping and
// pattern CRUD, emergency-stop control, the read-only queue and outcome
// views, an event-injection endpoint for ingress adapters, and the
// observability WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/streamhub/core/pkg/config"
	"github.com/streamhub/core/pkg/configstore"
	"github.com/streamhub/core/pkg/events"
	"github.com/streamhub/core/pkg/queue"
	"github.com/streamhub/core/pkg/router"
	"github.com/streamhub/core/pkg/safety"
	"github.com/streamhub/core/pkg/services"
	"github.com/streamhub/core/pkg/telemetry"
	"github.com/streamhub/core/pkg/version"
)

// Server is the admin HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config

	configService *services.ConfigService
	queue         *queue.Queue
	latch         *safety.Latch
	hub           *telemetry.Hub

	router      *router.Router             // nil until set
	connManager *events.ConnectionManager  // nil if streaming disabled
	publisher   *events.Publisher          // nil if streaming disabled
	store       *configstore.PostgresStore // nil in ephemeral mode (health omits the store section)
}

// NewServer creates a new admin API server with Echo v5.
func NewServer(
	cfg *config.Config,
	configService *services.ConfigService,
	q *queue.Queue,
	latch *safety.Latch,
	hub *telemetry.Hub,
) *Server {
	e := echo.New()

	s := &Server{
		echo:          e,
		cfg:           cfg,
		configService: configService,
		queue:         q,
		latch:         latch,
		hub:           hub,
	}

	s.setupRoutes()
	return s
}

// SetRouter sets the event router for the ingress injection endpoint.
func (s *Server) SetRouter(r *router.Router) {
	s.router = r
}

// SetConnectionManager sets the WebSocket connection manager.
func (s *Server) SetConnectionManager(m *events.ConnectionManager) {
	s.connManager = m
}

// SetPublisher sets the event publisher used to broadcast
// emergency-stop transitions.
func (s *Server) SetPublisher(p *events.Publisher) {
	s.publisher = p
}

// SetStore sets the persistent store whose pool the health endpoint
// reports on. Optional; without it health omits the store section.
func (s *Server) SetStore(store *configstore.PostgresStore) {
	s.store = store
}

// ValidateWiring checks that all required collaborators have been wired
// via their Set* methods, so wiring gaps are caught at startup rather
// than surfacing as 503s at request time. Optional collaborators
// (connManager/publisher when streaming is disabled, store in ephemeral
// mode) are NOT checked here.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.router == nil {
		errs = append(errs, fmt.Errorf("router not set (call SetRouter)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	// Mapping/pattern documents are small; anything near this limit is
	// a malformed or hostile payload.
	s.echo.Use(middleware.BodyLimit(1 * 1024 * 1024))

	// Health check
	s.echo.GET("/health", s.healthHandler)

	// API v1
	v1 := s.echo.Group("/api/v1")

	// Ingress injection — how external streaming-platform adapters hand
	// events to the core when running out of process.
	v1.POST("/events", s.submitEventHandler)

	// Mapping CRUD.
	v1.GET("/mappings", s.listMappingsHandler)
	v1.POST("/mappings", s.upsertMappingHandler)
	v1.GET("/mappings/:id", s.getMappingHandler)
	v1.PUT("/mappings/:id", s.upsertMappingHandler)
	v1.DELETE("/mappings/:id", s.deleteMappingHandler)

	// Pattern CRUD.
	v1.GET("/patterns", s.listPatternsHandler)
	v1.POST("/patterns", s.upsertPatternHandler)
	v1.GET("/patterns/:id", s.getPatternHandler)
	v1.PUT("/patterns/:id", s.upsertPatternHandler)
	v1.DELETE("/patterns/:id", s.deletePatternHandler)

	// Execution cancellation.
	v1.POST("/executions/:id/cancel", s.cancelExecutionHandler)

	// Emergency stop.
	v1.GET("/emergency-stop", s.getEmergencyStopHandler)
	v1.POST("/emergency-stop", s.triggerEmergencyStopHandler)
	v1.DELETE("/emergency-stop", s.clearEmergencyStopHandler)

	// Read-only observability views.
	v1.GET("/queue", s.queueStatsHandler)
	v1.GET("/outcomes", s.outcomesHandler)

	// WebSocket endpoint for real-time outcome streaming.
	v1.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status        string                    `json:"status"`
	Version       string                    `json:"version,omitempty"`
	Store         *configstore.HealthStatus `json:"store,omitempty"`
	WorkerPool    queue.PoolHealth          `json:"workerPool"`
	EmergencyStop bool                      `json:"emergencyStop"`
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	response := &HealthResponse{
		Status:        "healthy",
		Version:       version.Full(),
		WorkerPool:    s.queue.Pool().Health(),
		EmergencyStop: s.latch.Tripped(),
	}

	if s.store != nil {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		storeHealth, err := configstore.Health(reqCtx, s.store.DB())
		response.Store = storeHealth
		if err != nil {
			response.Status = "degraded"
			return c.JSON(http.StatusServiceUnavailable, response)
		}
	}

	return c.JSON(http.StatusOK, response)
}

package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/streamhub/core/pkg/queue"
	"github.com/streamhub/core/pkg/router"
	"github.com/streamhub/core/pkg/telemetry"
)

// submitEventHandler handles POST /api/v1/events: the HTTP form of the
// ingress push interface. The body is a RawEvent in either field schema;
// all matching actions are enqueued before the response is written.
func (s *Server) submitEventHandler(c *echo.Context) error {
	if s.router == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event router not available")
	}
	var raw router.RawEvent
	if err := c.Bind(&raw); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body")
	}
	if raw.Kind == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event kind is required")
	}
	s.router.OnEvent(raw)
	return c.NoContent(http.StatusAccepted)
}

// cancelExecutionHandler handles POST /api/v1/executions/:id/cancel.
// Cancelling an unknown execution id succeeds as a no-op.
func (s *Server) cancelExecutionHandler(c *echo.Context) error {
	s.queue.CancelExecution(c.Param("id"))
	return c.NoContent(http.StatusAccepted)
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

type emergencyStopResponse struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// getEmergencyStopHandler handles GET /api/v1/emergency-stop.
func (s *Server) getEmergencyStopHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, emergencyStopResponse{
		Active: s.latch.Tripped(),
		Reason: s.latch.Reason(),
	})
}

// triggerEmergencyStopHandler handles POST /api/v1/emergency-stop.
// Idempotent: tripping an already-tripped latch only updates the reason.
func (s *Server) triggerEmergencyStopHandler(c *echo.Context) error {
	var req emergencyStopRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	s.queue.TriggerEmergencyStop(req.Reason)
	s.hub.EmergencyStopTriggered(req.Reason)
	if s.publisher != nil {
		s.publisher.BroadcastEmergencyStop(true, req.Reason)
	}
	return c.JSON(http.StatusOK, emergencyStopResponse{Active: true, Reason: req.Reason})
}

// clearEmergencyStopHandler handles DELETE /api/v1/emergency-stop.
// Idempotent if already clear; previously dropped items stay dropped.
func (s *Server) clearEmergencyStopHandler(c *echo.Context) error {
	s.queue.ClearEmergencyStop()
	if s.publisher != nil {
		s.publisher.BroadcastEmergencyStop(false, "")
	}
	return c.JSON(http.StatusOK, emergencyStopResponse{Active: false})
}

// QueueStatsResponse is the GET /api/v1/queue body.
type QueueStatsResponse struct {
	Queue    queue.Stats      `json:"queue"`
	Workers  queue.PoolHealth `json:"workers"`
	Counters map[string]int64 `json:"counters"`
}

// queueStatsHandler handles GET /api/v1/queue: depth, in-flight count,
// worker health, and drops-by-reason counters.
func (s *Server) queueStatsHandler(c *echo.Context) error {
	counters := make(map[string]int64)
	for reason, count := range s.hub.Counters() {
		counters[string(reason)] = count
	}
	return c.JSON(http.StatusOK, QueueStatsResponse{
		Queue:    s.queue.Stats(),
		Workers:  s.queue.Pool().Health(),
		Counters: counters,
	})
}

// outcomesHandler handles GET /api/v1/outcomes: the recent-outcome ring
// buffer, oldest first.
func (s *Server) outcomesHandler(c *echo.Context) error {
	outcomes := s.hub.Recent()
	if outcomes == nil {
		outcomes = []telemetry.Outcome{}
	}
	return c.JSON(http.StatusOK, outcomes)
}

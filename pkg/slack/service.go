package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamhub/core/pkg/telemetry"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service delivers admin alerts to Slack. It implements
// telemetry.Alerter. Nil-safe: all methods are no-ops when service is
// nil, so callers never need an enabled check.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack alert service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// AlertAuthFailure posts a device-auth-failure alert. Fail-open: errors
// are logged, never returned — a Slack outage must not affect dispatch.
func (s *Service) AlertAuthFailure(o telemetry.Outcome) {
	if s == nil {
		return
	}
	blocks := BuildAuthFailureMessage(o)
	if err := s.client.PostMessage(context.Background(), blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send auth failure alert",
			"item_id", o.ItemID, "device_id", o.DeviceID, "error", err)
	}
}

// AlertEmergencyStop posts an emergency-stop alert. Fail-open.
func (s *Service) AlertEmergencyStop(reason string) {
	if s == nil {
		return
	}
	blocks := BuildEmergencyStopMessage(reason)
	if err := s.client.PostMessage(context.Background(), blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send emergency stop alert",
			"reason", reason, "error", err)
	}
}

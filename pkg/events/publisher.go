package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/streamhub/core/pkg/telemetry"
)

// Publisher wraps a ConnectionManager with the envelope format the
// dashboard expects and implements telemetry.Broadcaster. Non-blocking
// from the caller's perspective beyond the per-connection write timeout;
// errors are logged, never returned, so a broken observability channel
// can't stall dispatch.
type Publisher struct {
	manager *ConnectionManager
}

// NewPublisher creates a Publisher over manager.
func NewPublisher(manager *ConnectionManager) *Publisher {
	return &Publisher{manager: manager}
}

type envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// BroadcastOutcome publishes one terminal command outcome to the
// outcomes channel.
func (p *Publisher) BroadcastOutcome(o telemetry.Outcome) {
	p.publish(OutcomesChannel, EventTypeCommandOutcome, o)
}

// BroadcastEmergencyStop publishes an emergency-stop state transition to
// the system channel.
func (p *Publisher) BroadcastEmergencyStop(active bool, reason string) {
	p.publish(SystemChannel, EventTypeEmergencyStop, map[string]any{
		"active": active,
		"reason": reason,
	})
}

// BroadcastQueueStats publishes a queue depth/in-flight snapshot to the
// system channel.
func (p *Publisher) BroadcastQueueStats(stats any) {
	p.publish(SystemChannel, EventTypeQueueStats, stats)
}

func (p *Publisher) publish(channel, eventType string, data any) {
	payload, err := json.Marshal(envelope{
		Type:      eventType,
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		slog.Warn("Failed to marshal event payload", "type", eventType, "error", err)
		return
	}
	p.manager.Broadcast(channel, payload)
}

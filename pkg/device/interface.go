package device

import (
	"context"
	"time"

	"github.com/streamhub/core/pkg/model"
)

// Sender is the narrow interface the Queue's dispatch loop depends on,
// letting tests substitute a fake backend without standing up an HTTP
// server.
type Sender interface {
	Send(ctx context.Context, deviceID string, kind model.CommandKind, intensity int, duration time.Duration) error
}

var _ Sender = (*Client)(nil)

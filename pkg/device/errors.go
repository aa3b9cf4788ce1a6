package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/streamhub/core/pkg/model"
)

// ClassifiedError is a Send/ListDevices failure tagged with the spec §4.5
// error class the Queue's dispatch loop switches on. RetryAfter is set
// only for Reason == ReasonRateLimited when the backend supplied one.
type ClassifiedError struct {
	Reason     model.Reason
	RetryAfter time.Duration
	err        error
}

func (e *ClassifiedError) Error() string { return fmt.Sprintf("%s: %v", e.Reason, e.err) }
func (e *ClassifiedError) Unwrap() error { return e.err }

func classify(reason model.Reason, err error) *ClassifiedError {
	return &ClassifiedError{Reason: reason, err: err}
}

// NewClassifiedError constructs a ClassifiedError directly. Intended for
// fake Senders in tests; the production client classifies its own
// transport and response errors.
func NewClassifiedError(reason model.Reason, retryAfter time.Duration, err error) *ClassifiedError {
	return &ClassifiedError{Reason: reason, RetryAfter: retryAfter, err: err}
}

// classifyTransportError maps a net/http transport-level failure (the
// request never got a response) into timeout or network, following the
// same "net.Error, then context, then default" shape as the teacher's
// MCP error classifier.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return classify(model.ReasonTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classify(model.ReasonTimeout, err)
	}
	return classify(model.ReasonNetwork, err)
}

// classifyResponse maps an HTTP status code to a classified error, or
// returns nil for 2xx.
func classifyResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer drainBody(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return classify(model.ReasonAuth, fmt.Errorf("device backend returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		ce := classify(model.ReasonRateLimited, fmt.Errorf("device backend returned 429"))
		if d, ok := RetryAfter(resp); ok {
			ce.RetryAfter = d
		}
		return ce
	case resp.StatusCode >= 500:
		return classify(model.ReasonServerError, fmt.Errorf("device backend returned %d", resp.StatusCode))
	default:
		return classify(model.ReasonServerError, fmt.Errorf("device backend returned unexpected status %d", resp.StatusCode))
	}
}

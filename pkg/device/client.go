// Package device implements the Device Backend Adapter (D): a uniform
// send/listDevices contract over one or more REST-over-HTTPS control
// APIs, with classified errors so the Queue's retry policy can decide
// what to do without parsing HTTP internals itself.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/streamhub/core/pkg/model"
)

// Config configures one device backend.
type Config struct {
	BaseURL        string
	BearerToken    string
	RequestTimeout time.Duration // default 10s per spec §5

	// RateLimitPerSecond paces outbound requests to the backend,
	// independent of the Safety Arbiter's rate ledger (that limits how often
	// the core *decides* to send; this limits how fast it actually
	// writes to the wire).
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DefaultConfig returns sane defaults for RequestTimeout/RateLimit when a
// loaded config omits them.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     10 * time.Second,
		RateLimitPerSecond: 10,
		RateLimitBurst:     5,
	}
}

// Info is the device listing shape returned by GET /devices.
type Info struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsPaused bool   `json:"isPaused"`
}

// Client is the production D implementation: a REST client over
// net/http with bearer auth and client-side pacing.
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
}

// NewClient constructs a Client for cfg.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RateLimitPerSecond)
	if cfg.RateLimitPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, cfg.RateLimitBurst),
	}
}

type sendRequest struct {
	Type      model.CommandKind `json:"type"`
	Intensity int               `json:"intensity"`
	Duration  int64             `json:"duration"`
}

// Send issues one control command to deviceID. It does not retry or
// attempt idempotency (spec §4.5) — the Queue's dispatch loop owns retry
// policy; Send only classifies the outcome.
func (c *Client) Send(ctx context.Context, deviceID string, kind model.CommandKind, intensity int, duration time.Duration) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(sendRequest{Type: kind, Intensity: intensity, Duration: duration.Milliseconds()})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	url := fmt.Sprintf("%s/control/%s", c.cfg.BaseURL, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	c.setAuthHeader(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	defer drainBody(resp)
	return classifyResponse(resp)
}

// ListDevices fetches the device roster. Used only at startup / on-demand
// refresh, never on the hot dispatch path (spec §4.5).
func (c *Client) ListDevices(ctx context.Context) ([]Info, error) {
	url := fmt.Sprintf("%s/devices", c.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build list devices request: %w", err)
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	if err := classifyResponse(resp); err != nil {
		return nil, err
	}

	var devices []Info
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, fmt.Errorf("decode devices response: %w", err)
	}
	return devices, nil
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
}

// drainBody reads and discards a response body so the underlying
// connection can be reused by the transport's connection pool.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
}

// RetryAfter parses a Retry-After header as a duration, if present and
// expressed in seconds (the only form device backends are expected to
// send). Returns 0, false if absent or unparsable.
func RetryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

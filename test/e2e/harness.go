// Package e2e exercises the full event → mapping → pattern → queue →
// safety → device pipeline against a recording fake device backend.
package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/streamhub/core/pkg/device"
	"github.com/streamhub/core/pkg/mapping"
	"github.com/streamhub/core/pkg/model"
	"github.com/streamhub/core/pkg/pattern"
	"github.com/streamhub/core/pkg/queue"
	"github.com/streamhub/core/pkg/router"
	"github.com/streamhub/core/pkg/safety"
	"github.com/streamhub/core/pkg/telemetry"
)

// ControlCall is one command the fake device backend received.
type ControlCall struct {
	DeviceID  string
	Type      model.CommandKind
	Intensity int
	Duration  int64
	At        time.Time
}

// DeviceBackend is an httptest-backed fake of the device control API.
type DeviceBackend struct {
	mu    sync.Mutex
	calls []ControlCall
	srv   *httptest.Server
}

func newDeviceBackend(t *testing.T) *DeviceBackend {
	t.Helper()
	b := &DeviceBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /control/{device}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type      model.CommandKind `json:"type"`
			Intensity int               `json:"intensity"`
			Duration  int64             `json:"duration"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.calls = append(b.calls, ControlCall{
			DeviceID:  r.PathValue("device"),
			Type:      body.Type,
			Intensity: body.Intensity,
			Duration:  body.Duration,
			At:        time.Now(),
		})
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /devices", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]device.Info{{ID: "D", Name: "Test Device"}})
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

// Calls returns a snapshot of received control calls, in arrival order.
func (b *DeviceBackend) Calls() []ControlCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ControlCall(nil), b.calls...)
}

// Core is a fully wired in-process core over a fake device backend.
type Core struct {
	Backend  *DeviceBackend
	Mappings *mapping.MappingSet
	Patterns *pattern.PatternSet
	Engine   *pattern.Engine
	Queue    *queue.Queue
	Router   *router.Router
	Hub      *telemetry.Hub
	Arbiter  *safety.Arbiter
}

// coreOption tweaks the harness configuration before wiring.
type coreOption func(*safety.GlobalConfig, *queue.Config)

func withSafety(mutate func(*safety.GlobalConfig)) coreOption {
	return func(s *safety.GlobalConfig, _ *queue.Config) { mutate(s) }
}

func newCore(t *testing.T, opts ...coreOption) *Core {
	t.Helper()

	backend := newDeviceBackend(t)
	clock := model.RealClock{}

	safetyCfg := safety.GlobalConfig{
		MaxIntensity: 100,
		MaxDuration:  30 * time.Second,
	}
	queueCfg := queue.DefaultConfig()
	queueCfg.WorkerCount = 2
	queueCfg.PollInterval = 5 * time.Millisecond
	queueCfg.PollIntervalJitter = 0
	queueCfg.RetryBackoffBase = 10 * time.Millisecond
	for _, opt := range opts {
		opt(&safetyCfg, &queueCfg)
	}

	arbiter := safety.NewArbiter(safetyCfg, clock)
	hub := telemetry.NewHub(100, clock)

	patterns := pattern.NewPatternSet()
	engine := pattern.NewEngine(patterns, pattern.NewRegistry(), clock)

	deviceClient := device.NewClient(device.Config{
		BaseURL:        backend.srv.URL,
		BearerToken:    "test-key",
		RequestTimeout: 5 * time.Second,
	})

	q := queue.New(queueCfg, arbiter, deviceClient, engine, hub, clock)
	q.Start()
	t.Cleanup(q.Stop)

	mappings := mapping.NewMappingSet(clock)
	mappings.SetCounters(hub)

	return &Core{
		Backend:  backend,
		Mappings: mappings,
		Patterns: patterns,
		Engine:   engine,
		Queue:    q,
		Router:   router.New(mappings, patterns, engine, q, clock),
		Hub:      hub,
		Arbiter:  arbiter,
	}
}

// giftEvent builds the RawEvent for a gift in the primary ingress schema.
func giftEvent(user, giftName string, coins, repeat int) router.RawEvent {
	return router.RawEvent{
		Kind:      "gift",
		UserID:    user,
		UserName:  "Display-" + user,
		GiftName:  giftName,
		GiftCoins: &coins,
		Repeat:    repeat,
	}
}

// coreserver is the event routing and action execution core: it ingests
// streaming events over HTTP, evaluates them against the mapping rule
// set, expands patterns, and dispatches commands to the device backend,
// exposing the admin API and observability WebSocket.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streamhub/core/pkg/api"
	"github.com/streamhub/core/pkg/config"
	"github.com/streamhub/core/pkg/configstore"
	"github.com/streamhub/core/pkg/device"
	"github.com/streamhub/core/pkg/events"
	"github.com/streamhub/core/pkg/mapping"
	"github.com/streamhub/core/pkg/model"
	"github.com/streamhub/core/pkg/pattern"
	"github.com/streamhub/core/pkg/queue"
	"github.com/streamhub/core/pkg/router"
	"github.com/streamhub/core/pkg/safety"
	"github.com/streamhub/core/pkg/services"
	"github.com/streamhub/core/pkg/slack"
	"github.com/streamhub/core/pkg/telemetry"
	"github.com/streamhub/core/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := getEnv("CONFIG_DIR", "./deploy/config")

	// Load .env file from config directory for local secrets (device
	// API key, Slack token, DB password).
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting core server", "version", version.Full(), "config_dir", configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return err
	}

	clock := model.RealClock{}

	// Persistent store (§6.4). DB_PASSWORD unset runs the core without
	// persistence: mappings and patterns live only until restart.
	var store configstore.Store
	var pgStore *configstore.PostgresStore
	if os.Getenv("DB_PASSWORD") != "" {
		storeCfg, err := configstore.LoadConfigFromEnv()
		if err != nil {
			return err
		}
		pgStore, err = configstore.NewPostgresStore(ctx, storeCfg)
		if err != nil {
			return err
		}
		store = pgStore
		defer func() {
			if err := pgStore.Close(); err != nil {
				slog.Error("Error closing config store", "error", err)
			}
		}()
		slog.Info("Connected to config store", "host", storeCfg.Host, "database", storeCfg.Database)
	} else {
		slog.Warn("DB_PASSWORD not set — running without persistence")
	}

	// Engines, leaves first: device adapter, safety arbiter, pattern
	// engine, queue, mapping engine, router.
	deviceClient := device.NewClient(device.Config{
		BaseURL:            cfg.Device.BaseURL,
		BearerToken:        os.Getenv(cfg.Device.TokenEnv),
		RequestTimeout:     time.Duration(cfg.Device.RequestTimeoutMs) * time.Millisecond,
		RateLimitPerSecond: cfg.Device.RateLimitPerSecond,
		RateLimitBurst:     cfg.Device.RateLimitBurst,
	})

	arbiter := safety.NewArbiter(safety.GlobalConfig{
		MaxIntensity:         cfg.Safety.MaxIntensity,
		MaxDuration:          cfg.Safety.MaxDuration(),
		GlobalRateLimit:      cfg.Safety.MaxCommandsPerMinute,
		UserRateLimit:        cfg.Safety.MaxCommandsPerUser,
		DeviceRateLimits:     cfg.Safety.MaxCommandsPerMinutePerDevice,
		EmergencyStopEnabled: cfg.Safety.EmergencyStopEnabled,
	}, clock)

	hub := telemetry.NewHub(200, clock)

	connManager := events.NewConnectionManager(time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond)
	publisher := events.NewPublisher(connManager)
	hub.SetBroadcaster(publisher)

	if cfg.SlackEnabled() {
		slackService := slack.NewService(slack.ServiceConfig{
			Token:   os.Getenv(cfg.Slack.TokenEnv),
			Channel: cfg.Slack.Channel,
		})
		if slackService != nil {
			hub.SetAlerter(slackService)
			slog.Info("Slack alerting enabled", "channel", cfg.Slack.Channel)
		} else {
			slog.Warn("Slack enabled in config but token is missing — alerting disabled")
		}
	}

	patterns := pattern.NewPatternSet()
	registry := pattern.NewRegistry()
	engine := pattern.NewEngine(patterns, registry, clock)

	q := queue.New(queue.Config{
		PodID:               getEnv("POD_ID", "core"),
		WorkerCount:         cfg.Queue.WorkerCount,
		MaxQueued:           cfg.Queue.MaxQueued,
		PollInterval:        time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
		PollIntervalJitter:  time.Duration(cfg.Queue.PollIntervalJitterMs) * time.Millisecond,
		RequestTimeout:      time.Duration(cfg.Device.RequestTimeoutMs) * time.Millisecond,
		RetryBackoffBase:    time.Duration(cfg.Queue.RetryBackoffBaseMs) * time.Millisecond,
		RetryBackoffFactor:  cfg.Queue.RetryBackoffFactor,
		MaxRetries:          cfg.Queue.MaxRetries,
		ItemWallClockBudget: time.Duration(cfg.Queue.ItemBudgetMs) * time.Millisecond,
	}, arbiter, deviceClient, engine, hub, clock)

	mappings := mapping.NewMappingSet(clock)
	mappings.SetCounters(hub)

	eventRouter := router.New(mappings, patterns, engine, q, clock)

	configService := services.NewConfigService(mappings, patterns, store)
	if err := configService.LoadFromStore(ctx); err != nil {
		return err
	}

	// Probe the device roster once at startup so a misconfigured base
	// URL or key surfaces immediately rather than on the first event.
	probeCtx, cancelProbe := context.WithTimeout(ctx, 10*time.Second)
	if devices, err := deviceClient.ListDevices(probeCtx); err != nil {
		slog.Warn("Device roster probe failed", "error", err)
	} else {
		slog.Info("Device backend reachable", "devices", len(devices))
	}
	cancelProbe()

	q.Start()
	defer q.Stop()

	// Periodic queue depth/in-flight snapshots for subscribed dashboards.
	statsDone := make(chan struct{})
	defer close(statsDone)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-statsDone:
				return
			case <-ticker.C:
				if connManager.ActiveConnections() > 0 {
					publisher.BroadcastQueueStats(q.Stats())
				}
			}
		}
	}()

	server := api.NewServer(cfg, configService, q, arbiter.Latch(), hub)
	server.SetRouter(eventRouter)
	server.SetConnectionManager(connManager)
	server.SetPublisher(publisher)
	if pgStore != nil {
		server.SetStore(pgStore)
	}
	if err := server.ValidateWiring(); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Admin API listening", "addr", cfg.Server.ListenAddr)
		if err := server.Start(cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-stop:
		slog.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	return nil
}

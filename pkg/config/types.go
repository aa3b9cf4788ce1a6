// Package config loads, merges, and validates the core's YAML
// configuration: global safety caps, queue/worker tuning, the device
// backend endpoint, the admin HTTP server, and the Slack alert channel.
package config

import "time"

// SafetyConfig is the Safety Arbiter's global configuration section.
type SafetyConfig struct {
	MaxIntensity         int   `yaml:"max_intensity"`
	MaxDurationMs        int64 `yaml:"max_duration_ms"`
	MaxCommandsPerMinute int   `yaml:"max_commands_per_minute"`
	MaxCommandsPerUser   int   `yaml:"max_commands_per_user"`
	EmergencyStopEnabled bool  `yaml:"emergency_stop_enabled"`

	// MaxCommandsPerMinutePerDevice optionally narrows the global rate
	// for specific device ids.
	MaxCommandsPerMinutePerDevice map[string]int `yaml:"max_commands_per_minute_per_device,omitempty"`
}

// MaxDuration returns the duration cap as a time.Duration.
func (c SafetyConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMs) * time.Millisecond
}

// QueueConfig tunes the command queue and its worker pool.
type QueueConfig struct {
	WorkerCount          int     `yaml:"worker_count"`
	MaxQueued            int     `yaml:"max_queued"`
	PollIntervalMs       int64   `yaml:"poll_interval_ms"`
	PollIntervalJitterMs int64   `yaml:"poll_interval_jitter_ms"`
	RetryBackoffBaseMs   int64   `yaml:"retry_backoff_base_ms"`
	RetryBackoffFactor   float64 `yaml:"retry_backoff_factor"`
	MaxRetries           int     `yaml:"max_retries"`
	ItemBudgetMs         int64   `yaml:"item_budget_ms"`
}

// DeviceConfig configures the device backend adapter.
type DeviceConfig struct {
	BaseURL            string  `yaml:"base_url"`
	TokenEnv           string  `yaml:"token_env"`
	RequestTimeoutMs   int64   `yaml:"request_timeout_ms"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	WriteTimeoutMs int64  `yaml:"write_timeout_ms"` // WebSocket send timeout
}

// SlackConfig configures admin alerting.
type SlackConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// Config is the fully resolved configuration the rest of the process
// consumes. Constructed by Initialize; never mutated afterwards.
type Config struct {
	configDir string

	Safety SafetyConfig
	Queue  QueueConfig
	Device DeviceConfig
	Server ServerConfig
	Slack  SlackConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// SlackEnabled reports whether Slack alerting is switched on.
func (c *Config) SlackEnabled() bool {
	return c.Slack.Enabled != nil && *c.Slack.Enabled && c.Slack.Channel != ""
}

// DefaultSafetyConfig returns the built-in safety caps used when the
// YAML omits the section.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		MaxIntensity:         100,
		MaxDurationMs:        30000,
		MaxCommandsPerMinute: 30,
		MaxCommandsPerUser:   5,
	}
}

// DefaultQueueConfig returns the built-in queue tuning.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:          4,
		MaxQueued:            1000,
		PollIntervalMs:       50,
		PollIntervalJitterMs: 20,
		RetryBackoffBaseMs:   200,
		RetryBackoffFactor:   2,
		MaxRetries:           5,
		ItemBudgetMs:         30000,
	}
}

// DefaultDeviceConfig returns the built-in device adapter settings
// (base_url has no default; it is required).
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		TokenEnv:           "DEVICE_API_KEY",
		RequestTimeoutMs:   10000,
		RateLimitPerSecond: 10,
		RateLimitBurst:     5,
	}
}

// DefaultServerConfig returns the built-in admin server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WriteTimeoutMs: 5000,
	}
}

// DefaultSlackConfig returns the built-in Slack settings (disabled).
func DefaultSlackConfig() SlackConfig {
	return SlackConfig{TokenEnv: "SLACK_BOT_TOKEN"}
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// coreYAMLConfig represents the complete core.yaml file structure.
// Every section is optional; omitted sections fall back to built-in
// defaults.
type coreYAMLConfig struct {
	Safety *SafetyConfig `yaml:"safety"`
	Queue  *QueueConfig  `yaml:"queue"`
	Device *DeviceConfig `yaml:"device"`
	Server *ServerConfig `yaml:"server"`
	Slack  *SlackConfig  `yaml:"slack"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load core.yaml from configDir
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML into section structs
//  4. Merge user-defined sections over built-in defaults
//  5. Validate every section
//  6. Return Config ready for use
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"workers", cfg.Queue.WorkerCount,
		"max_queued", cfg.Queue.MaxQueued,
		"device_base_url", cfg.Device.BaseURL,
		"slack_enabled", cfg.SlackEnabled())
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var raw coreYAMLConfig
	if err := loadYAML(configDir, "core.yaml", &raw); err != nil {
		return nil, NewLoadError("core.yaml", err)
	}

	cfg := &Config{
		configDir: configDir,
		Safety:    DefaultSafetyConfig(),
		Queue:     DefaultQueueConfig(),
		Device:    DefaultDeviceConfig(),
		Server:    DefaultServerConfig(),
		Slack:     DefaultSlackConfig(),
	}

	// Merge user YAML over defaults: non-zero user values override.
	sections := []struct {
		name string
		dst  any
		src  any
	}{
		{"safety", &cfg.Safety, raw.Safety},
		{"queue", &cfg.Queue, raw.Queue},
		{"device", &cfg.Device, raw.Device},
		{"server", &cfg.Server, raw.Server},
		{"slack", &cfg.Slack, raw.Slack},
	}
	for _, s := range sections {
		if s.src == nil || isNilPointer(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s config: %w", s.name, err)
		}
	}

	// EmergencyStopEnabled is a bool mergo can't distinguish from unset;
	// copy it explicitly so `false` in YAML still wins over a tripped
	// default (the default is false anyway, this is belt and braces).
	if raw.Safety != nil {
		cfg.Safety.EmergencyStopEnabled = raw.Safety.EmergencyStopEnabled
	}

	return cfg, nil
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *SafetyConfig:
		return p == nil
	case *QueueConfig:
		return p == nil
	case *DeviceConfig:
		return p == nil
	case *ServerConfig:
		return p == nil
	case *SlackConfig:
		return p == nil
	}
	return v == nil
}

func loadYAML(configDir, filename string, target any) error {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution
	// errors, allowing the YAML parser to handle the content (or fail
	// with a clearer error message).
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validator performs comprehensive validation on loaded configuration.
// Every section is checked and all problems are reported together, so a
// bad config file surfaces every mistake in one startup failure instead
// of one per restart.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every configuration section.
func (v *Validator) ValidateAll() error {
	var errs []error
	errs = append(errs, v.validateSafety()...)
	errs = append(errs, v.validateQueue()...)
	errs = append(errs, v.validateDevice()...)
	errs = append(errs, v.validateServer()...)
	errs = append(errs, v.validateSlack()...)
	return errors.Join(errs...)
}

func (v *Validator) validateSafety() []error {
	var errs []error
	s := v.cfg.Safety
	if s.MaxIntensity < 1 || s.MaxIntensity > 100 {
		errs = append(errs, NewValidationError("safety", "max_intensity",
			fmt.Errorf("%w: %d outside [1,100]", ErrInvalidValue, s.MaxIntensity)))
	}
	if s.MaxDurationMs < 300 {
		errs = append(errs, NewValidationError("safety", "max_duration_ms",
			fmt.Errorf("%w: %d below the 300ms command floor", ErrInvalidValue, s.MaxDurationMs)))
	}
	if s.MaxCommandsPerMinute < 0 {
		errs = append(errs, NewValidationError("safety", "max_commands_per_minute",
			fmt.Errorf("%w: must be non-negative (0 disables)", ErrInvalidValue)))
	}
	if s.MaxCommandsPerUser < 0 {
		errs = append(errs, NewValidationError("safety", "max_commands_per_user",
			fmt.Errorf("%w: must be non-negative (0 disables)", ErrInvalidValue)))
	}
	for deviceID, limit := range s.MaxCommandsPerMinutePerDevice {
		if limit < 0 {
			errs = append(errs, NewValidationError("safety", "max_commands_per_minute_per_device",
				fmt.Errorf("%w: device %q has negative limit", ErrInvalidValue, deviceID)))
		}
	}
	return errs
}

func (v *Validator) validateQueue() []error {
	var errs []error
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		errs = append(errs, NewValidationError("queue", "worker_count",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue)))
	}
	if q.MaxQueued < 1 {
		errs = append(errs, NewValidationError("queue", "max_queued",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue)))
	}
	if q.RetryBackoffFactor < 1 {
		errs = append(errs, NewValidationError("queue", "retry_backoff_factor",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue)))
	}
	if q.MaxRetries < 0 {
		errs = append(errs, NewValidationError("queue", "max_retries",
			fmt.Errorf("%w: must be non-negative", ErrInvalidValue)))
	}
	if q.ItemBudgetMs <= 0 {
		errs = append(errs, NewValidationError("queue", "item_budget_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	return errs
}

func (v *Validator) validateDevice() []error {
	var errs []error
	d := v.cfg.Device
	if d.BaseURL == "" {
		errs = append(errs, NewValidationError("device", "base_url", ErrMissingRequiredField))
	} else if u, err := url.Parse(d.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, NewValidationError("device", "base_url",
			fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidValue, d.BaseURL)))
	}
	if d.RequestTimeoutMs <= 0 {
		errs = append(errs, NewValidationError("device", "request_timeout_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if d.RateLimitPerSecond < 0 {
		errs = append(errs, NewValidationError("device", "rate_limit_per_second",
			fmt.Errorf("%w: must be non-negative (0 disables pacing)", ErrInvalidValue)))
	}
	return errs
}

func (v *Validator) validateServer() []error {
	var errs []error
	s := v.cfg.Server
	if s.ListenAddr == "" {
		errs = append(errs, NewValidationError("server", "listen_addr", ErrMissingRequiredField))
	}
	if s.WriteTimeoutMs <= 0 {
		errs = append(errs, NewValidationError("server", "write_timeout_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	return errs
}

func (v *Validator) validateSlack() []error {
	var errs []error
	s := v.cfg.Slack
	if s.Enabled != nil && *s.Enabled {
		if s.Channel == "" {
			errs = append(errs, NewValidationError("slack", "channel",
				fmt.Errorf("%w: required when slack is enabled", ErrMissingRequiredField)))
		}
		if s.TokenEnv == "" {
			errs = append(errs, NewValidationError("slack", "token_env",
				fmt.Errorf("%w: required when slack is enabled", ErrMissingRequiredField)))
		}
	}
	return errs
}

package safety

import "time"

// rateWindow is the fixed 60-second window spec §4.4 defines
// maxCommandsPerMinute/maxCommandsPerUser against. Unlike mapping
// cooldowns, this window is not user-configurable.
const rateWindow = 60 * time.Second

// GlobalConfig is the Safety Arbiter's static configuration (spec §4.4):
// the hard caps every CommandAction is clamped against, and the
// sliding-window rate limits applied regardless of any mapping's own
// cooldown.
type GlobalConfig struct {
	MaxIntensity int           // [1,100]
	MaxDuration  time.Duration // absolute ceiling on command duration

	GlobalRateLimit int // maxCommandsPerMinute, 0 = unlimited
	UserRateLimit   int // maxCommandsPerUser, 0 = unlimited

	// DeviceRateLimits optionally narrows the global rate for specific
	// devices (commands per minute by device id).
	DeviceRateLimits map[string]int

	EmergencyStopEnabled bool // initial latch state at boot
}

// RateWindow returns the fixed window rate limits are evaluated over.
func (GlobalConfig) RateWindow() time.Duration { return rateWindow }

// DefaultGlobalConfig returns conservative defaults used when a YAML
// config omits the safety section entirely.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		MaxIntensity:    100,
		MaxDuration:     30 * time.Second,
		GlobalRateLimit: 30,
		UserRateLimit:   5,
	}
}

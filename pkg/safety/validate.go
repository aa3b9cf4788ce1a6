package safety

import (
	"time"

	"github.com/streamhub/core/pkg/model"
)

// Decision is the outcome of validating one CommandItem immediately
// before dispatch.
type Decision struct {
	Allowed   bool
	Reason    model.Reason
	Intensity int
	Duration  time.Duration
}

const minCommandDuration = 300 * time.Millisecond

// Arbiter is the Safety Arbiter: global config, the emergency-stop latch,
// and the rate ledger, combined into the single Validate checkpoint every
// CommandItem passes through before the Device Backend Adapter sees it.
type Arbiter struct {
	cfg   GlobalConfig
	latch *Latch
	rates *RateLedger
}

// NewArbiter constructs an Arbiter, creating and owning its Latch.
func NewArbiter(cfg GlobalConfig, clock model.Clock) *Arbiter {
	return &Arbiter{
		cfg:   cfg,
		latch: NewLatch(cfg.EmergencyStopEnabled),
		rates: NewRateLedger(clock, cfg.RateWindow()),
	}
}

// Latch exposes the shared emergency-stop latch so the Queue can hold a
// reference and check it at its own dispatch-time checkpoint.
func (a *Arbiter) Latch() *Latch { return a.latch }

// Validate runs the spec §4.4 checks, in order: emergency stop, global
// rate, per-device rate, per-user rate, then intensity/duration clamping.
// Intensity and duration are always clamped, never a deny reason. The
// rate ledger is updated on dispatch success (RecordDispatch), not here —
// a command blocked by validation must not consume rate budget.
func (a *Arbiter) Validate(item model.CommandItem, mappingSafety *model.MappingSafety) Decision {
	if a.latch.Tripped() {
		return Decision{Allowed: false, Reason: model.ReasonEmergencyStop}
	}
	if !a.rates.AllowGlobal(a.cfg.GlobalRateLimit) {
		return Decision{Allowed: false, Reason: model.ReasonGlobalRate}
	}
	if !a.rates.AllowDevice(item.DeviceID, a.cfg.DeviceRateLimits[item.DeviceID]) {
		return Decision{Allowed: false, Reason: model.ReasonGlobalRate}
	}
	if !a.rates.AllowUser(item.OriginUserID, a.cfg.UserRateLimit) {
		return Decision{Allowed: false, Reason: model.ReasonUserRate}
	}

	maxIntensity := a.cfg.MaxIntensity
	if mappingSafety != nil && mappingSafety.MaxIntensity != nil && *mappingSafety.MaxIntensity < maxIntensity {
		maxIntensity = *mappingSafety.MaxIntensity
	}
	intensity := clampInt(item.Intensity, 1, maxIntensity)

	maxDuration := a.cfg.MaxDuration
	if mappingSafety != nil && mappingSafety.MaxDuration != nil {
		if candidate := time.Duration(*mappingSafety.MaxDuration) * time.Millisecond; candidate < maxDuration {
			maxDuration = candidate
		}
	}
	duration := clampDuration(item.Duration, minCommandDuration, maxDuration)

	return Decision{Allowed: true, Intensity: intensity, Duration: duration}
}

// RecordDispatch registers one successful dispatch for userID on
// deviceID against the rate ledger. Call only after the Device Backend
// Adapter confirms success, per spec §4.4's "ledger updates happen
// after successful dispatch" rule.
func (a *Arbiter) RecordDispatch(userID, deviceID string) {
	a.rates.Record(userID, deviceID)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

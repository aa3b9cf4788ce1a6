package model

// Reason classifies why a command item was dropped or failed, or why a
// mapping did not fire. The taxonomy matches spec §7's error table exactly
// so that observability counters, admin alerts, and tests can all key off
// the same vocabulary.
type Reason string

// Reason values, grouped by the component that raises them.
const (
	ReasonInvalidMapping   Reason = "invalid_mapping"
	ReasonRegexUnsafe      Reason = "regex_unsafe"
	ReasonRegexSlow        Reason = "regex_slow"
	ReasonCooldownActive   Reason = "cooldown_active"
	ReasonEmergencyStop    Reason = "emergency_stop"
	ReasonQueueFull        Reason = "queue_full"
	ReasonCancelled        Reason = "cancelled"
	ReasonGlobalRate       Reason = "global_rate"
	ReasonUserRate         Reason = "user_rate"
	ReasonAuth             Reason = "auth"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonServerError      Reason = "server_error"
	ReasonNetwork          Reason = "network"
	ReasonTimeout          Reason = "timeout"
	ReasonExceededRetries  Reason = "exceeded_retries"
)

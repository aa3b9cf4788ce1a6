package model

// Pattern is a named ordered program of command/pause steps (spec §3). It is
// the wire/storage representation; the Pattern/Flow Engine does not compile
// it further (unlike Mapping, there is no regex to pre-compile).
type Pattern struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// StepKind discriminates the Step tagged union.
type StepKind string

// Step kinds.
const (
	StepPause   StepKind = "pause"
	StepCommand StepKind = "command"
)

// Step is one entry in a Pattern's program: either a Pause or a Command.
// Exactly the fields relevant to Kind are populated.
type Step struct {
	Kind StepKind `json:"kind"`

	// Pause fields.
	DurationMs int64 `json:"durationMs,omitempty"`

	// Command fields.
	CommandKind     CommandKind `json:"commandKind,omitempty"`
	Intensity       int         `json:"intensity,omitempty"`
	CommandDuration int64       `json:"commandDuration,omitempty"` // milliseconds
	DelayMs         int64       `json:"delayMs,omitempty"`         // added on top of cumulative schedule
}

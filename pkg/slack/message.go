package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/streamhub/core/pkg/telemetry"
)

// BuildAuthFailureMessage builds the alert blocks for a device backend
// auth rejection.
func BuildAuthFailureMessage(o telemetry.Outcome) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType, ":no_entry: Device backend auth failure", true, false))

	body := fmt.Sprintf(
		"The device backend rejected credentials while dispatching command `%s` to device `%s`.\nCommands to this backend will keep failing until the API key is fixed.",
		o.ItemID, o.DeviceID)
	section := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false), nil, nil)

	context := goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("kind: `%s` · intensity: %d · attempts: %d", o.Kind, o.Intensity, o.Attempts), false, false))

	return []goslack.Block{header, section, context}
}

// BuildEmergencyStopMessage builds the alert blocks for an
// emergency-stop trip.
func BuildEmergencyStopMessage(reason string) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType, ":octagonal_sign: Emergency stop triggered", true, false))

	body := fmt.Sprintf(
		"All queued commands were dropped and new submissions are refused.\nReason: *%s*\nClear the stop from the admin dashboard to resume dispatch.",
		reason)
	section := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false), nil, nil)

	return []goslack.Block{header, section}
}

package router

import (
	"time"

	"github.com/streamhub/core/pkg/model"
)

// RawEvent is the loosely-typed payload the ingress adapter delivers.
// Streaming-platform adapters disagree on field names for the same
// concepts (userId vs uniqueId, userName vs username, teamLevel vs
// teamMemberLevel, coins vs giftCoins); RawEvent accepts both spellings
// of each, and Normalize collapses them. This is the ONLY place in the
// core that knows about the dual schema.
type RawEvent struct {
	Kind string `json:"kind"`

	UserID   string `json:"userId,omitempty"`
	UniqueID string `json:"uniqueId,omitempty"`

	UserName string `json:"userName,omitempty"`
	Username string `json:"username,omitempty"`

	TeamLevel       *int `json:"teamLevel,omitempty"`
	TeamMemberLevel *int `json:"teamMemberLevel,omitempty"`

	// FollowStartedAt is the ingress-supplied follow-start timestamp, as
	// Unix milliseconds. Zero means the adapter didn't supply it.
	FollowStartedAt int64 `json:"followStartedAt,omitempty"`

	GiftName  string `json:"giftName,omitempty"`
	Coins     *int   `json:"coins,omitempty"`
	GiftCoins *int   `json:"giftCoins,omitempty"`
	Repeat    int    `json:"repeat,omitempty"`

	Message string `json:"message,omitempty"`
	Likes   int    `json:"likes,omitempty"`
}

// Normalize collapses a RawEvent into the core's immutable Event,
// resolving every dual-named field to a single canonical one. receivedAt
// stamps the event; the caller supplies it so normalization stays a pure
// function.
func Normalize(raw RawEvent, receivedAt time.Time) model.Event {
	user := model.User{
		ID:          firstNonEmpty(raw.UserID, raw.UniqueID),
		DisplayName: firstNonEmpty(raw.UserName, raw.Username),
	}
	if raw.TeamLevel != nil {
		user.TeamLevel = raw.TeamLevel
	} else if raw.TeamMemberLevel != nil {
		user.TeamLevel = raw.TeamMemberLevel
	}
	if raw.FollowStartedAt > 0 {
		t := time.UnixMilli(raw.FollowStartedAt)
		user.FollowStarted = &t
	}

	coins := 0
	if raw.GiftCoins != nil {
		coins = *raw.GiftCoins
	} else if raw.Coins != nil {
		coins = *raw.Coins
	}

	return model.Event{
		Kind: model.EventKind(raw.Kind),
		User: user,
		Payload: model.Payload{
			GiftName:   raw.GiftName,
			GiftCoins:  coins,
			GiftRepeat: raw.Repeat,
			Message:    raw.Message,
			Likes:      raw.Likes,
		},
		ReceivedAt: receivedAt,
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

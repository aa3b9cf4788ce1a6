// Package model holds the data types shared by the mapping, pattern, queue,
// safety, and device packages: events, mappings, patterns, command items,
// and the drop/fail reason vocabulary used across the core.
package model

import "time"

// EventKind identifies the category of an ingress event.
type EventKind string

// Event kinds the core understands. New kinds require a matching case in
// every mapping condition evaluator; unknown kinds simply match no mapping.
const (
	EventChat          EventKind = "chat"
	EventGift          EventKind = "gift"
	EventFollow        EventKind = "follow"
	EventShare         EventKind = "share"
	EventSubscribe     EventKind = "subscribe"
	EventLike          EventKind = "like"
	EventGoalProgress  EventKind = "goal-progress"
	EventGoalComplete  EventKind = "goal-complete"
)

// User identifies the viewer that produced an event. Ingress payloads use
// two different field-naming schemes for the same concepts; by the time a
// User reaches the core it has already been normalized (see package router).
type User struct {
	ID             string
	DisplayName    string
	TeamLevel      *int
	FollowStarted  *time.Time // nil if the ingress adapter didn't supply it
}

// Payload carries the kind-specific fields of an event. Only the fields
// relevant to Kind are populated; the rest are zero values.
type Payload struct {
	GiftName   string
	GiftCoins  int
	GiftRepeat int
	Message    string
	Likes      int
}

// Event is the immutable record produced by the ingress adapter and consumed
// by the Mapping Engine. Events are never mutated after construction.
type Event struct {
	Kind       EventKind
	User       User
	Payload    Payload
	ReceivedAt time.Time
}

// Package router implements the Event Router (R): the thin layer that
// receives ingress events, normalizes them, runs the Mapping Engine, and
// forwards each resulting action into the Pattern engine or directly
// into the command queue.
package router

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/streamhub/core/pkg/mapping"
	"github.com/streamhub/core/pkg/model"
	"github.com/streamhub/core/pkg/pattern"
)

// Submitter is the subset of the Queue's API the Router needs, shared
// with the Pattern engine's expansion path.
type Submitter interface {
	Submit(item model.CommandItem) error
}

// Router fans incoming events out to the effect pipeline. OnEvent is
// safe for concurrent use: the underlying engines take their own locks,
// and the Router itself is stateless between events.
type Router struct {
	mappings *mapping.MappingSet
	patterns *pattern.PatternSet
	engine   *pattern.Engine
	queue    Submitter
	clock    model.Clock
}

// New wires a Router over the three engines.
func New(mappings *mapping.MappingSet, patterns *pattern.PatternSet, engine *pattern.Engine, queue Submitter, clock model.Clock) *Router {
	return &Router{
		mappings: mappings,
		patterns: patterns,
		engine:   engine,
		queue:    queue,
		clock:    clock,
	}
}

// OnEvent is the ingress push interface (spec §6.1). All actions the
// event produces are enqueued, in priority order, before OnEvent
// returns — so one event's actions never interleave with a later
// event's at the enqueue point.
func (r *Router) OnEvent(raw RawEvent) {
	ev := Normalize(raw, r.clock.Now())
	log := slog.With("event_kind", ev.Kind, "user_id", ev.User.ID)

	matches := r.mappings.Evaluate(ev)
	for _, match := range matches {
		r.execute(ev, match, log)
	}
}

func (r *Router) execute(ev model.Event, match mapping.Match, log *slog.Logger) {
	cfg := match.Mapping.Config
	switch match.Action.Kind {
	case model.ActionCommand:
		cmd := match.Action.Command
		now := r.clock.Now()
		item := model.CommandItem{
			ID:                 uuid.NewString(),
			DeviceID:           cmd.DeviceID,
			Kind:               cmd.Kind,
			Intensity:          cmd.Intensity,
			Duration:           cmd.Duration,
			Priority:           cmd.Priority,
			ScheduledNotBefore: now,
			SubmittedAt:        now,
			OriginUserID:       ev.User.ID,
			OriginEventKind:    ev.Kind,
			Safety:             cfg.Safety,
			Status:             model.StatusPending,
		}
		if err := r.queue.Submit(item); err != nil {
			log.Warn("Command refused by queue", "mapping_id", cfg.ID, "error", err)
		}

	case model.ActionPattern:
		pa := match.Action.Pattern
		p, ok := r.patterns.Get(pa.PatternID)
		if !ok {
			log.Warn("Mapping references unknown pattern", "mapping_id", cfg.ID, "pattern_id", pa.PatternID)
			return
		}
		origin := pattern.Origin{
			UserID:    ev.User.ID,
			EventKind: ev.Kind,
			Safety:    cfg.Safety,
		}
		if _, err := r.engine.Expand(p, pa.DeviceID, pa.Priority, origin, r.queue); err != nil {
			log.Warn("Pattern expansion stopped early", "mapping_id", cfg.ID, "pattern_id", pa.PatternID, "error", err)
		}
	}
}

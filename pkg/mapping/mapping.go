// Package mapping implements the Mapping Engine (M): admission and
// compilation of user-defined mapping rules, and their evaluation against
// incoming events.
package mapping

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/streamhub/core/pkg/model"
)

// Mapping is the compiled, in-memory form of a model.MappingConfig: the
// message-pattern regex (if any) is pre-compiled once here, at admission,
// never during event evaluation.
type Mapping struct {
	Config  model.MappingConfig
	Message *regexp.Regexp // nil if Conditions.MessagePattern is empty
}

// Match is one Mapping that fired for a given Event.
type Match struct {
	Mapping *Mapping
	Action  model.Action
}

// ErrInvalid is wrapped by every admission-time rejection so callers can
// translate any of them to a single "invalid_mapping" admin response.
var ErrInvalid = errors.New("invalid mapping")

// Admit validates cfg and compiles it into a Mapping. All invalid fields
// are reported at once rather than first-failure-wins, and it is the only
// place a message pattern is compiled; Evaluate only ever uses the
// already-compiled regexp.
func Admit(cfg model.MappingConfig) (*Mapping, error) {
	var errs []error
	if cfg.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	switch cfg.Action.Kind {
	case model.ActionCommand:
		if cfg.Action.Command == nil {
			errs = append(errs, errors.New("command action has no command"))
		} else {
			cmd := cfg.Action.Command
			if cmd.Kind != model.CommandShock && cmd.Kind != model.CommandVibrate && cmd.Kind != model.CommandSound {
				errs = append(errs, fmt.Errorf("unknown command kind %q", cmd.Kind))
			}
			if cmd.Intensity < 1 || cmd.Intensity > 100 {
				errs = append(errs, fmt.Errorf("intensity %d outside [1,100]", cmd.Intensity))
			}
			if cmd.Duration < 300*time.Millisecond || cmd.Duration > 30*time.Second {
				errs = append(errs, fmt.Errorf("duration %s outside [300ms,30s]", cmd.Duration))
			}
			if cmd.Priority < 0 || cmd.Priority > 10 {
				errs = append(errs, fmt.Errorf("priority %d outside [0,10]", cmd.Priority))
			}
		}
	case model.ActionPattern:
		if cfg.Action.Pattern == nil {
			errs = append(errs, errors.New("pattern action has no pattern"))
		} else if cfg.Action.Pattern.PatternID == "" {
			errs = append(errs, errors.New("pattern action has no pattern id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown action kind %q", cfg.Action.Kind))
	}
	if cfg.Cooldown.GlobalMs < 0 || cfg.Cooldown.PerDeviceMs < 0 || cfg.Cooldown.PerUserMs < 0 {
		errs = append(errs, errors.New("cooldowns must be non-negative"))
	}

	m := &Mapping{Config: cfg}
	if cfg.Conditions.MessagePattern != "" {
		re, err := compileSafeRegex(cfg.Conditions.MessagePattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("regex_unsafe: %w", err))
		}
		m.Message = re
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalid, cfg.ID, errors.Join(errs...))
	}
	return m, nil
}

// CounterSink receives per-reason counter increments for events the
// engine swallows silently (cooldown suppression), so the observability
// side-channel still sees them.
type CounterSink interface {
	Inc(reason model.Reason)
}

// MappingSet is the RW-mutex-guarded live set of admitted mappings plus
// the cooldown ledger they share. It is the entry point the Router calls
// on every event.
type MappingSet struct {
	mu       sync.RWMutex
	byID     map[string]*Mapping
	cooldown *CooldownLedger
	counters CounterSink
}

// NewMappingSet constructs an empty set backed by clock for cooldown
// comparisons.
func NewMappingSet(clock model.Clock) *MappingSet {
	return &MappingSet{
		byID:     make(map[string]*Mapping),
		cooldown: NewCooldownLedger(clock),
	}
}

// SetCounters wires the observability counter sink. Optional; a nil sink
// disables counting, nothing else.
func (s *MappingSet) SetCounters(c CounterSink) { s.counters = c }

// Put admits cfg and installs (or replaces) it in the set.
func (s *MappingSet) Put(cfg model.MappingConfig) error {
	m, err := Admit(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cfg.ID] = m
	return nil
}

// Remove deletes a mapping by id. It is a no-op if the id is unknown.
func (s *MappingSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Get returns the mapping with the given id, if present.
func (s *MappingSet) Get(id string) (*Mapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	return m, ok
}

// All returns a snapshot slice of every admitted mapping, sorted by id,
// for the admin listing endpoints.
func (s *MappingSet) All() []*Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Mapping, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// Evaluate returns every Mapping that fires for ev, with cooldowns
// registered for each firing mapping and the gift-specificity rule
// applied, in priority order (highest first, tie-broken by id).
func (s *MappingSet) Evaluate(ev model.Event) []Match {
	s.mu.RLock()
	candidates := make([]*Mapping, 0, len(s.byID))
	for _, m := range s.byID {
		candidates = append(candidates, m)
	}
	s.mu.RUnlock()

	var matches []Match
	for _, m := range candidates {
		if !m.Config.Enabled || m.Config.EventKind != ev.Kind {
			continue
		}
		if !conditionsMatch(m, ev) {
			continue
		}
		deviceID := actionDeviceID(m.Config.Action)
		if s.cooldown.Active(m.Config.ID, m.Config.Cooldown, deviceID, ev.User.ID) {
			if s.counters != nil {
				s.counters.Inc(model.ReasonCooldownActive)
			}
			continue
		}
		s.cooldown.Register(m.Config.ID, m.Config.Cooldown, deviceID, ev.User.ID)
		matches = append(matches, Match{Mapping: m, Action: m.Config.Action})
	}

	matches = applyGiftSpecificity(matches, ev)

	sort.SliceStable(matches, func(i, j int) bool {
		pi, pj := priorityOf(matches[i].Action), priorityOf(matches[j].Action)
		if pi != pj {
			return pi > pj
		}
		return matches[i].Mapping.Config.ID < matches[j].Mapping.Config.ID
	})
	return matches
}

// applyGiftSpecificity drops catch-all gift mappings (empty giftName
// condition) when a concrete giftName mapping also matched this event,
// per the resolved Open Question in DESIGN.md. It runs after cooldown
// filtering, so a concrete mapping on cooldown never suppresses a
// catch-all that is free to fire.
func applyGiftSpecificity(matches []Match, ev model.Event) []Match {
	if ev.Kind != model.EventGift {
		return matches
	}
	hasSpecific := false
	for _, mt := range matches {
		if mt.Mapping.Config.Conditions.GiftName != "" {
			hasSpecific = true
			break
		}
	}
	if !hasSpecific {
		return matches
	}
	out := matches[:0]
	for _, mt := range matches {
		if mt.Mapping.Config.Conditions.GiftName == "" {
			continue
		}
		out = append(out, mt)
	}
	return out
}

func priorityOf(a model.Action) int {
	switch a.Kind {
	case model.ActionCommand:
		if a.Command != nil {
			return a.Command.Priority
		}
	case model.ActionPattern:
		if a.Pattern != nil {
			return a.Pattern.Priority
		}
	}
	return 0
}

func actionDeviceID(a model.Action) string {
	switch a.Kind {
	case model.ActionCommand:
		if a.Command != nil {
			return a.Command.DeviceID
		}
	case model.ActionPattern:
		if a.Pattern != nil {
			return a.Pattern.DeviceID
		}
	}
	return ""
}

// conditionsMatch evaluates every populated field of a Mapping's
// Conditions against ev. A zero-valued field is always satisfied.
func conditionsMatch(m *Mapping, ev model.Event) bool {
	c := m.Config.Conditions

	if len(c.Whitelist) > 0 && !matchesUser(c.Whitelist, ev.User) {
		return false
	}
	if len(c.Blacklist) > 0 && matchesUser(c.Blacklist, ev.User) {
		return false
	}
	if c.TeamLevelMin != nil {
		if ev.User.TeamLevel == nil || *ev.User.TeamLevel < *c.TeamLevelMin {
			return false
		}
	}
	if c.FollowerAgeMinDays != nil {
		if ev.User.FollowStarted == nil {
			return false
		}
		ageDays := ev.ReceivedAt.Sub(*ev.User.FollowStarted).Hours() / 24
		if ageDays < *c.FollowerAgeMinDays {
			return false
		}
	}

	switch ev.Kind {
	case model.EventGift:
		if c.GiftName != "" && !strings.EqualFold(c.GiftName, ev.Payload.GiftName) {
			return false
		}
		if c.MinCoins != nil && ev.Payload.GiftCoins < *c.MinCoins {
			return false
		}
		if c.MaxCoins != nil && ev.Payload.GiftCoins > *c.MaxCoins {
			return false
		}
	case model.EventChat:
		if m.Message != nil && !matchMessage(m.Message, ev.Payload.Message) {
			return false
		}
	case model.EventLike:
		if c.MinLikes != nil && ev.Payload.Likes < *c.MinLikes {
			return false
		}
	}
	return true
}

// matchesUser reports whether the user's id or display name appears in
// list. Both identifiers are accepted because streamers copy either one
// out of the ingress dashboard when building their lists.
func matchesUser(list []string, u model.User) bool {
	for _, item := range list {
		if strings.EqualFold(item, u.ID) || strings.EqualFold(item, u.DisplayName) {
			return true
		}
	}
	return false
}

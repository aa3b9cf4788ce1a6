package pattern

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamhub/core/pkg/model"
)

// Submitter is the subset of the Queue's API the Pattern engine needs.
// Declaring it here (rather than importing package queue) keeps pattern
// and queue decoupled in both directions: queue depends on model only,
// pattern depends on model plus this narrow interface.
type Submitter interface {
	Submit(item model.CommandItem) error
}

// Origin identifies who/what triggered a pattern expansion, carried onto
// every CommandItem it produces, along with the triggering mapping's
// local safety caps.
type Origin struct {
	UserID    string
	EventKind model.EventKind
	Safety    *model.MappingSafety
}

// PatternSet is the RW-mutex-guarded live set of admitted patterns.
type PatternSet struct {
	mu   sync.RWMutex
	byID map[string]*model.Pattern
}

// NewPatternSet returns an empty set.
func NewPatternSet() *PatternSet {
	return &PatternSet{byID: make(map[string]*model.Pattern)}
}

// Put validates and installs (or replaces) a pattern.
func (s *PatternSet) Put(p model.Pattern) error {
	if p.ID == "" {
		return fmt.Errorf("invalid pattern: id is required")
	}
	for i, step := range p.Steps {
		if step.Kind != model.StepPause && step.Kind != model.StepCommand {
			return fmt.Errorf("invalid pattern %s: step %d has unknown kind %q", p.ID, i, step.Kind)
		}
	}
	cp := p
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = &cp
	return nil
}

// Remove deletes a pattern by id.
func (s *PatternSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Get returns the pattern with the given id.
func (s *PatternSet) Get(id string) (*model.Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// All returns every admitted pattern, sorted by id.
func (s *PatternSet) All() []*model.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Pattern, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Engine expands patterns into scheduled CommandItems and tracks their
// executions for cancellation.
type Engine struct {
	patterns *PatternSet
	registry *Registry
	clock    model.Clock
}

// NewEngine constructs a pattern Engine over patterns, owning registry.
func NewEngine(patterns *PatternSet, registry *Registry, clock model.Clock) *Engine {
	return &Engine{patterns: patterns, registry: registry, clock: clock}
}

// Expand implements spec §4.2: it walks p's steps maintaining a
// cumulative delay, emits one CommandItem per Command step into submit,
// and returns the execution id that CancelExecution later references. An
// empty pattern (or one with no Command steps) enqueues nothing and
// returns a disposable execution id that is never registered.
func (e *Engine) Expand(p *model.Pattern, deviceID string, priority int, origin Origin, submit Submitter) (string, error) {
	executionID := uuid.NewString()
	base := e.clock.Now()

	tok := newToken()
	var cumulativeDelay time.Duration
	enqueued := 0

	// Register before the first Submit: once an item is enqueued a
	// worker may settle it immediately, and the settle path must find
	// the execution record to release it.
	hasCommands := false
	for _, step := range p.Steps {
		if step.Kind == model.StepCommand {
			hasCommands = true
			break
		}
	}
	if hasCommands {
		e.registry.put(&model.PatternExecution{
			ExecutionID: executionID,
			PatternID:   p.ID,
			DeviceID:    deviceID,
			StartedAt:   base,
			Token:       tok,
		})
	}

	for i, step := range p.Steps {
		switch step.Kind {
		case model.StepPause:
			cumulativeDelay += time.Duration(step.DurationMs) * time.Millisecond
		case model.StepCommand:
			stepIndex := i
			notBefore := base.Add(cumulativeDelay + time.Duration(step.DelayMs)*time.Millisecond)
			item := model.CommandItem{
				ID:                 uuid.NewString(),
				DeviceID:           deviceID,
				Kind:               step.CommandKind,
				Intensity:          step.Intensity,
				Duration:           time.Duration(step.CommandDuration) * time.Millisecond,
				Priority:           priority,
				ScheduledNotBefore: notBefore,
				SubmittedAt:        base,
				OriginUserID:       origin.UserID,
				OriginEventKind:    origin.EventKind,
				Safety:             origin.Safety,
				ExecutionID:        executionID,
				StepIndex:          &stepIndex,
				CancelToken:        tok,
				Status:             model.StatusPending,
			}
			if err := submit.Submit(item); err != nil {
				if enqueued == 0 {
					e.registry.Forget(executionID)
				}
				return executionID, fmt.Errorf("pattern %s step %d: %w", p.ID, i, err)
			}
			enqueued++
			cumulativeDelay += time.Duration(step.CommandDuration) * time.Millisecond
		}
	}

	return executionID, nil
}

// CancelExecution cancels executionID's not-yet-dispatched items. A
// no-op on an unknown id (spec §8 idempotence).
func (e *Engine) CancelExecution(executionID string) {
	e.registry.Cancel(executionID)
}

// Settled tells the engine an execution's items have all reached a
// terminal state, so its record can be released.
func (e *Engine) Settled(executionID string) {
	e.registry.Forget(executionID)
}

// CancelAll cancels every tracked execution. It implements
// queue.ExecutionCanceller.
func (e *Engine) CancelAll() {
	e.registry.CancelAll()
}

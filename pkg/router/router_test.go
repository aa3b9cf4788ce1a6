package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/core/pkg/mapping"
	"github.com/streamhub/core/pkg/model"
	"github.com/streamhub/core/pkg/pattern"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type captureQueue struct {
	mu    sync.Mutex
	items []model.CommandItem
	err   error
}

func (q *captureQueue) Submit(item model.CommandItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

func newTestRouter(t *testing.T) (*Router, *mapping.MappingSet, *pattern.PatternSet, *captureQueue) {
	t.Helper()
	clock := newFakeClock()
	mappings := mapping.NewMappingSet(clock)
	patterns := pattern.NewPatternSet()
	engine := pattern.NewEngine(patterns, pattern.NewRegistry(), clock)
	q := &captureQueue{}
	return New(mappings, patterns, engine, q, clock), mappings, patterns, q
}

func commandMapping(id string, priority int) model.MappingConfig {
	return model.MappingConfig{
		ID:        id,
		Enabled:   true,
		EventKind: model.EventGift,
		Action: model.Action{
			Kind: model.ActionCommand,
			Command: &model.CommandAction{
				DeviceID:  "dev-1",
				Kind:      model.CommandVibrate,
				Intensity: 50,
				Duration:  time.Second,
				Priority:  priority,
			},
		},
	}
}

func TestOnEventDirectCommand(t *testing.T) {
	r, mappings, _, q := newTestRouter(t)
	cfg := commandMapping("m1", 5)
	cfg.Safety = &model.MappingSafety{MaxIntensity: intPtr(40)}
	require.NoError(t, mappings.Put(cfg))

	r.OnEvent(RawEvent{Kind: "gift", UserID: "u1", GiftName: "Rose", GiftCoins: intPtr(1)})

	require.Len(t, q.items, 1)
	item := q.items[0]
	assert.Equal(t, "dev-1", item.DeviceID)
	assert.Equal(t, model.CommandVibrate, item.Kind)
	assert.Equal(t, 50, item.Intensity)
	assert.Equal(t, time.Second, item.Duration)
	assert.Equal(t, 5, item.Priority)
	assert.Equal(t, "u1", item.OriginUserID)
	assert.Equal(t, model.EventGift, item.OriginEventKind)
	assert.Empty(t, item.ExecutionID)
	assert.Nil(t, item.StepIndex)
	require.NotNil(t, item.Safety, "mapping-local caps ride along for the arbiter")
	assert.Equal(t, 40, *item.Safety.MaxIntensity)
	assert.NotEmpty(t, item.ID)
}

func TestOnEventPatternAction(t *testing.T) {
	r, mappings, patterns, q := newTestRouter(t)

	require.NoError(t, patterns.Put(model.Pattern{
		ID: "pulse",
		Steps: []model.Step{
			{Kind: model.StepCommand, CommandKind: model.CommandShock, Intensity: 20, CommandDuration: 400},
			{Kind: model.StepPause, DurationMs: 100},
			{Kind: model.StepCommand, CommandKind: model.CommandShock, Intensity: 40, CommandDuration: 400},
		},
	}))
	require.NoError(t, mappings.Put(model.MappingConfig{
		ID:        "m1",
		Enabled:   true,
		EventKind: model.EventGift,
		Action: model.Action{
			Kind:    model.ActionPattern,
			Pattern: &model.PatternAction{DeviceID: "dev-2", PatternID: "pulse", Priority: 7},
		},
	}))

	r.OnEvent(RawEvent{Kind: "gift", UniqueID: "u1", GiftName: "Rose"})

	require.Len(t, q.items, 2)
	assert.Equal(t, q.items[0].ExecutionID, q.items[1].ExecutionID)
	assert.Equal(t, "dev-2", q.items[0].DeviceID)
	assert.Equal(t, 7, q.items[0].Priority)
	assert.True(t, q.items[0].ScheduledNotBefore.Before(q.items[1].ScheduledNotBefore))
}

func TestOnEventUnknownPattern(t *testing.T) {
	r, mappings, _, q := newTestRouter(t)
	require.NoError(t, mappings.Put(model.MappingConfig{
		ID:        "m1",
		Enabled:   true,
		EventKind: model.EventGift,
		Action: model.Action{
			Kind:    model.ActionPattern,
			Pattern: &model.PatternAction{DeviceID: "dev-1", PatternID: "missing"},
		},
	}))

	// Must not panic; nothing enqueued.
	r.OnEvent(RawEvent{Kind: "gift", UserID: "u1", GiftName: "Rose"})
	assert.Empty(t, q.items)
}

func TestOnEventEnqueuesInPriorityOrder(t *testing.T) {
	r, mappings, _, q := newTestRouter(t)
	require.NoError(t, mappings.Put(commandMapping("low", 2)))
	require.NoError(t, mappings.Put(commandMapping("high", 9)))

	r.OnEvent(RawEvent{Kind: "gift", UserID: "u1", GiftName: "Rose"})

	require.Len(t, q.items, 2)
	assert.Equal(t, 9, q.items[0].Priority)
	assert.Equal(t, 2, q.items[1].Priority)
}

func TestOnEventQueueRefusalIsSwallowed(t *testing.T) {
	r, mappings, _, q := newTestRouter(t)
	q.err = errors.New("queue full")
	require.NoError(t, mappings.Put(commandMapping("m1", 5)))

	// The router records and moves on; a refused submission is fatal for
	// this event only.
	r.OnEvent(RawEvent{Kind: "gift", UserID: "u1", GiftName: "Rose"})
}

func intPtr(v int) *int { return &v }

func TestNormalize(t *testing.T) {
	receivedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("primary schema", func(t *testing.T) {
		level := 3
		ev := Normalize(RawEvent{
			Kind:            "gift",
			UserID:          "u1",
			UserName:        "Alice",
			TeamLevel:       &level,
			GiftName:        "Rose",
			GiftCoins:       intPtr(42),
			Repeat:          2,
			FollowStartedAt: receivedAt.Add(-48 * time.Hour).UnixMilli(),
		}, receivedAt)

		assert.Equal(t, model.EventGift, ev.Kind)
		assert.Equal(t, "u1", ev.User.ID)
		assert.Equal(t, "Alice", ev.User.DisplayName)
		require.NotNil(t, ev.User.TeamLevel)
		assert.Equal(t, 3, *ev.User.TeamLevel)
		require.NotNil(t, ev.User.FollowStarted)
		assert.Equal(t, receivedAt.Add(-48*time.Hour).UnixMilli(), ev.User.FollowStarted.UnixMilli())
		assert.Equal(t, "Rose", ev.Payload.GiftName)
		assert.Equal(t, 42, ev.Payload.GiftCoins)
		assert.Equal(t, 2, ev.Payload.GiftRepeat)
		assert.Equal(t, receivedAt, ev.ReceivedAt)
	})

	t.Run("alternate schema", func(t *testing.T) {
		level := 5
		ev := Normalize(RawEvent{
			Kind:            "chat",
			UniqueID:        "u2",
			Username:        "bob",
			TeamMemberLevel: &level,
			Message:         "!hello",
		}, receivedAt)

		assert.Equal(t, "u2", ev.User.ID)
		assert.Equal(t, "bob", ev.User.DisplayName)
		require.NotNil(t, ev.User.TeamLevel)
		assert.Equal(t, 5, *ev.User.TeamLevel)
		assert.Equal(t, "!hello", ev.Payload.Message)
	})

	t.Run("primary fields win when both present", func(t *testing.T) {
		primary, alternate := 1, 9
		ev := Normalize(RawEvent{
			Kind:            "gift",
			UserID:          "primary",
			UniqueID:        "alternate",
			UserName:        "Primary",
			Username:        "alternate",
			TeamLevel:       &primary,
			TeamMemberLevel: &alternate,
			GiftCoins:       intPtr(10),
			Coins:           intPtr(99),
		}, receivedAt)

		assert.Equal(t, "primary", ev.User.ID)
		assert.Equal(t, "Primary", ev.User.DisplayName)
		assert.Equal(t, 1, *ev.User.TeamLevel)
		assert.Equal(t, 10, ev.Payload.GiftCoins)
	})

	t.Run("coins fallback", func(t *testing.T) {
		ev := Normalize(RawEvent{Kind: "gift", UniqueID: "u1", Coins: intPtr(7)}, receivedAt)
		assert.Equal(t, 7, ev.Payload.GiftCoins)
	})

	t.Run("missing optionals stay nil", func(t *testing.T) {
		ev := Normalize(RawEvent{Kind: "follow", UserID: "u1"}, receivedAt)
		assert.Nil(t, ev.User.TeamLevel)
		assert.Nil(t, ev.User.FollowStarted)
		assert.Zero(t, ev.Payload.GiftCoins)
	})
}

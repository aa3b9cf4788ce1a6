package mapping

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/core/pkg/model"
)

// fakeClock is a manually advanced clock for deterministic cooldown tests.
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

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func commandMapping(id string, kind model.EventKind, priority int) model.MappingConfig {
	return model.MappingConfig{
		ID:        id,
		Name:      id,
		Enabled:   true,
		EventKind: kind,
		Action: model.Action{
			Kind: model.ActionCommand,
			Command: &model.CommandAction{
				DeviceID:  "dev-1",
				Kind:      model.CommandVibrate,
				Intensity: 50,
				Duration:  1000 * time.Millisecond,
				Priority:  priority,
			},
		},
	}
}

func giftEvent(user, giftName string, coins int) model.Event {
	return model.Event{
		Kind:       model.EventGift,
		User:       model.User{ID: user, DisplayName: user},
		Payload:    model.Payload{GiftName: giftName, GiftCoins: coins},
		ReceivedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.MappingConfig)
		wantErr string
	}{
		{
			name:   "valid command mapping",
			mutate: func(*model.MappingConfig) {},
		},
		{
			name:    "missing id",
			mutate:  func(m *model.MappingConfig) { m.ID = "" },
			wantErr: "id is required",
		},
		{
			name:    "intensity above cap",
			mutate:  func(m *model.MappingConfig) { m.Action.Command.Intensity = 150 },
			wantErr: "intensity 150 outside [1,100]",
		},
		{
			name:    "duration below floor",
			mutate:  func(m *model.MappingConfig) { m.Action.Command.Duration = 100 * time.Millisecond },
			wantErr: "outside [300ms,30s]",
		},
		{
			name:    "priority out of range",
			mutate:  func(m *model.MappingConfig) { m.Action.Command.Priority = 11 },
			wantErr: "priority 11 outside [0,10]",
		},
		{
			name:    "unknown action kind",
			mutate:  func(m *model.MappingConfig) { m.Action.Kind = "teleport" },
			wantErr: "unknown action kind",
		},
		{
			name:    "pattern action without pattern id",
			mutate: func(m *model.MappingConfig) {
				m.Action = model.Action{Kind: model.ActionPattern, Pattern: &model.PatternAction{DeviceID: "dev-1"}}
			},
			wantErr: "pattern action has no pattern id",
		},
		{
			name:    "negative cooldown",
			mutate:  func(m *model.MappingConfig) { m.Cooldown.GlobalMs = -1 },
			wantErr: "cooldowns must be non-negative",
		},
		{
			name:    "unsafe regex",
			mutate:  func(m *model.MappingConfig) { m.Conditions.MessagePattern = "(a+)+$" },
			wantErr: "regex_unsafe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := commandMapping("m1", model.EventGift, 5)
			tt.mutate(&cfg)

			m, err := Admit(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				require.NotNil(t, m)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAdmitReportsAllProblemsAtOnce(t *testing.T) {
	cfg := commandMapping("", model.EventGift, 5)
	cfg.Action.Command.Intensity = 0
	cfg.Action.Command.Duration = time.Minute

	_, err := Admit(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
	assert.Contains(t, err.Error(), "intensity 0 outside [1,100]")
	assert.Contains(t, err.Error(), "outside [300ms,30s]")
}

func TestEvaluateEventKindFilter(t *testing.T) {
	set := NewMappingSet(newFakeClock())
	require.NoError(t, set.Put(commandMapping("gift-rule", model.EventGift, 5)))
	require.NoError(t, set.Put(commandMapping("follow-rule", model.EventFollow, 5)))

	matches := set.Evaluate(giftEvent("u1", "Rose", 1))
	require.Len(t, matches, 1)
	assert.Equal(t, "gift-rule", matches[0].Mapping.Config.ID)
}

func TestEvaluateSkipsDisabled(t *testing.T) {
	set := NewMappingSet(newFakeClock())
	cfg := commandMapping("m1", model.EventGift, 5)
	cfg.Enabled = false
	require.NoError(t, set.Put(cfg))

	assert.Empty(t, set.Evaluate(giftEvent("u1", "Rose", 1)))
}

func TestEvaluatePriorityOrdering(t *testing.T) {
	set := NewMappingSet(newFakeClock())
	require.NoError(t, set.Put(commandMapping("b-low", model.EventGift, 1)))
	require.NoError(t, set.Put(commandMapping("a-high", model.EventGift, 9)))
	require.NoError(t, set.Put(commandMapping("c-mid", model.EventGift, 5)))
	require.NoError(t, set.Put(commandMapping("a-mid", model.EventGift, 5)))

	matches := set.Evaluate(giftEvent("u1", "Rose", 1))
	require.Len(t, matches, 4)
	ids := []string{
		matches[0].Mapping.Config.ID,
		matches[1].Mapping.Config.ID,
		matches[2].Mapping.Config.ID,
		matches[3].Mapping.Config.ID,
	}
	// Priority descending, ties broken by id ascending.
	assert.Equal(t, []string{"a-high", "a-mid", "c-mid", "b-low"}, ids)
}

func TestGiftSpecificity(t *testing.T) {
	t.Run("specific mapping suppresses catch-all", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		catchAll := commandMapping("catch-all", model.EventGift, 5)
		specific := commandMapping("rose-only", model.EventGift, 5)
		specific.Conditions.GiftName = "Rose"
		require.NoError(t, set.Put(catchAll))
		require.NoError(t, set.Put(specific))

		matches := set.Evaluate(giftEvent("u1", "Rose", 1))
		require.Len(t, matches, 1)
		assert.Equal(t, "rose-only", matches[0].Mapping.Config.ID)
	})

	t.Run("catch-all fires when no specific matches", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		catchAll := commandMapping("catch-all", model.EventGift, 5)
		specific := commandMapping("rose-only", model.EventGift, 5)
		specific.Conditions.GiftName = "Rose"
		require.NoError(t, set.Put(catchAll))
		require.NoError(t, set.Put(specific))

		matches := set.Evaluate(giftEvent("u1", "Tulip", 1))
		require.Len(t, matches, 1)
		assert.Equal(t, "catch-all", matches[0].Mapping.Config.ID)
	})

	t.Run("cooldown-suppressed specific leaves catch-all in play", func(t *testing.T) {
		clock := newFakeClock()
		set := NewMappingSet(clock)
		catchAll := commandMapping("catch-all", model.EventGift, 5)
		specific := commandMapping("rose-only", model.EventGift, 5)
		specific.Conditions.GiftName = "Rose"
		specific.Cooldown.GlobalMs = 60000
		require.NoError(t, set.Put(catchAll))
		require.NoError(t, set.Put(specific))

		// First event: specific matches, suppresses the catch-all, and
		// registers its cooldown.
		matches := set.Evaluate(giftEvent("u1", "Rose", 1))
		require.Len(t, matches, 1)
		assert.Equal(t, "rose-only", matches[0].Mapping.Config.ID)

		// Second event inside the specific mapping's cooldown: the
		// catch-all is back in play.
		clock.Advance(time.Second)
		matches = set.Evaluate(giftEvent("u2", "Rose", 1))
		require.Len(t, matches, 1)
		assert.Equal(t, "catch-all", matches[0].Mapping.Config.ID)
	})
}

func TestCooldownSuppression(t *testing.T) {
	clock := newFakeClock()
	set := NewMappingSet(clock)
	cfg := commandMapping("m1", model.EventGift, 5)
	cfg.Cooldown.PerUserMs = 5000
	require.NoError(t, set.Put(cfg))

	require.Len(t, set.Evaluate(giftEvent("u1", "Rose", 1)), 1)

	// 1s later, same user: suppressed.
	clock.Advance(time.Second)
	assert.Empty(t, set.Evaluate(giftEvent("u1", "Rose", 1)))

	// Different user: per-user cooldown doesn't apply.
	require.Len(t, set.Evaluate(giftEvent("u2", "Rose", 1)), 1)

	// After the window, the first user can fire again.
	clock.Advance(5 * time.Second)
	assert.Len(t, set.Evaluate(giftEvent("u1", "Rose", 1)), 1)
}

type countingSink struct {
	mu     sync.Mutex
	counts map[model.Reason]int
}

func (c *countingSink) Inc(reason model.Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[model.Reason]int)
	}
	c.counts[reason]++
}

func TestCooldownSuppressionCountsReason(t *testing.T) {
	clock := newFakeClock()
	set := NewMappingSet(clock)
	sink := &countingSink{}
	set.SetCounters(sink)

	cfg := commandMapping("m1", model.EventGift, 5)
	cfg.Cooldown.GlobalMs = 10000
	require.NoError(t, set.Put(cfg))

	set.Evaluate(giftEvent("u1", "Rose", 1))
	clock.Advance(time.Second)
	set.Evaluate(giftEvent("u1", "Rose", 1))

	assert.Equal(t, 1, sink.counts[model.ReasonCooldownActive])
}

func TestConditions(t *testing.T) {
	chatEvent := func(user, message string) model.Event {
		return model.Event{
			Kind:       model.EventChat,
			User:       model.User{ID: user, DisplayName: "Display-" + user},
			Payload:    model.Payload{Message: message},
			ReceivedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		}
	}

	t.Run("gift name is case-insensitive", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		cfg := commandMapping("m1", model.EventGift, 5)
		cfg.Conditions.GiftName = "rose"
		require.NoError(t, set.Put(cfg))

		assert.Len(t, set.Evaluate(giftEvent("u1", "ROSE", 1)), 1)
		assert.Empty(t, set.Evaluate(giftEvent("u1", "Tulip", 1)))
	})

	t.Run("coin range is inclusive", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		cfg := commandMapping("m1", model.EventGift, 5)
		minCoins, maxCoins := 10, 100
		cfg.Conditions.MinCoins = &minCoins
		cfg.Conditions.MaxCoins = &maxCoins
		require.NoError(t, set.Put(cfg))

		assert.Empty(t, set.Evaluate(giftEvent("u1", "Rose", 9)))
		assert.Len(t, set.Evaluate(giftEvent("u1", "Rose", 10)), 1)
		assert.Len(t, set.Evaluate(giftEvent("u1", "Rose", 100)), 1)
		assert.Empty(t, set.Evaluate(giftEvent("u1", "Rose", 101)))
	})

	t.Run("message pattern", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		cfg := commandMapping("m1", model.EventChat, 5)
		cfg.Conditions.MessagePattern = "^!hello"
		require.NoError(t, set.Put(cfg))

		assert.Len(t, set.Evaluate(chatEvent("u1", "!hello world")), 1)
		assert.Empty(t, set.Evaluate(chatEvent("u1", "hi")))
	})

	t.Run("whitelist matches id or display name", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		cfg := commandMapping("m1", model.EventChat, 5)
		cfg.Conditions.Whitelist = []string{"display-u1", "u9"}
		require.NoError(t, set.Put(cfg))

		assert.Len(t, set.Evaluate(chatEvent("u1", "hi")), 1, "display name matched")
		assert.Len(t, set.Evaluate(chatEvent("u9", "hi")), 1, "id matched")
		assert.Empty(t, set.Evaluate(chatEvent("u2", "hi")))
	})

	t.Run("blacklist rejects", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		cfg := commandMapping("m1", model.EventChat, 5)
		cfg.Conditions.Blacklist = []string{"u1"}
		require.NoError(t, set.Put(cfg))

		assert.Empty(t, set.Evaluate(chatEvent("u1", "hi")))
		assert.Len(t, set.Evaluate(chatEvent("u2", "hi")), 1)
	})

	t.Run("team level minimum", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		cfg := commandMapping("m1", model.EventChat, 5)
		minLevel := 3
		cfg.Conditions.TeamLevelMin = &minLevel
		require.NoError(t, set.Put(cfg))

		ev := chatEvent("u1", "hi")
		assert.Empty(t, set.Evaluate(ev), "missing team level fails")

		level := 2
		ev.User.TeamLevel = &level
		assert.Empty(t, set.Evaluate(ev))

		level = 3
		assert.Len(t, set.Evaluate(ev), 1)
	})

	t.Run("follower age minimum", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		cfg := commandMapping("m1", model.EventChat, 5)
		minDays := 7.0
		cfg.Conditions.FollowerAgeMinDays = &minDays
		require.NoError(t, set.Put(cfg))

		ev := chatEvent("u1", "hi")
		assert.Empty(t, set.Evaluate(ev), "missing follow timestamp fails")

		young := ev.ReceivedAt.Add(-3 * 24 * time.Hour)
		ev.User.FollowStarted = &young
		assert.Empty(t, set.Evaluate(ev))

		old := ev.ReceivedAt.Add(-10 * 24 * time.Hour)
		ev.User.FollowStarted = &old
		assert.Len(t, set.Evaluate(ev), 1)
	})

	t.Run("minimum likes", func(t *testing.T) {
		set := NewMappingSet(newFakeClock())
		cfg := commandMapping("m1", model.EventLike, 5)
		minLikes := 50
		cfg.Conditions.MinLikes = &minLikes
		require.NoError(t, set.Put(cfg))

		likeEvent := func(likes int) model.Event {
			return model.Event{
				Kind:    model.EventLike,
				User:    model.User{ID: "u1"},
				Payload: model.Payload{Likes: likes},
			}
		}
		assert.Empty(t, set.Evaluate(likeEvent(49)))
		assert.Len(t, set.Evaluate(likeEvent(50)), 1)
	})
}

func TestMappingSetCRUD(t *testing.T) {
	set := NewMappingSet(newFakeClock())
	require.NoError(t, set.Put(commandMapping("b", model.EventGift, 5)))
	require.NoError(t, set.Put(commandMapping("a", model.EventGift, 5)))

	all := set.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Config.ID, "All returns mappings sorted by id")

	_, ok := set.Get("a")
	assert.True(t, ok)

	set.Remove("a")
	_, ok = set.Get("a")
	assert.False(t, ok)

	// Removing an unknown id is a no-op.
	set.Remove("zzz")
}

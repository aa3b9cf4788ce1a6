package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/streamhub/core/pkg/model"
)

func TestCooldownLedgerTiers(t *testing.T) {
	t.Run("global tier blocks everyone", func(t *testing.T) {
		clock := newFakeClock()
		ledger := NewCooldownLedger(clock)
		cd := model.Cooldown{GlobalMs: 5000}

		ledger.Register("m1", cd, "dev-1", "u1")

		assert.True(t, ledger.Active("m1", cd, "dev-1", "u1"))
		assert.True(t, ledger.Active("m1", cd, "dev-2", "u2"), "global tier ignores device and user")
		assert.False(t, ledger.Active("m2", cd, "dev-1", "u1"), "other mappings unaffected")

		clock.Advance(5001 * time.Millisecond)
		assert.False(t, ledger.Active("m1", cd, "dev-1", "u1"))
	})

	t.Run("per-device tier", func(t *testing.T) {
		clock := newFakeClock()
		ledger := NewCooldownLedger(clock)
		cd := model.Cooldown{PerDeviceMs: 5000}

		ledger.Register("m1", cd, "dev-1", "u1")

		assert.True(t, ledger.Active("m1", cd, "dev-1", "u2"))
		assert.False(t, ledger.Active("m1", cd, "dev-2", "u1"))
	})

	t.Run("per-user tier", func(t *testing.T) {
		clock := newFakeClock()
		ledger := NewCooldownLedger(clock)
		cd := model.Cooldown{PerUserMs: 5000}

		ledger.Register("m1", cd, "dev-1", "u1")

		assert.True(t, ledger.Active("m1", cd, "dev-2", "u1"))
		assert.False(t, ledger.Active("m1", cd, "dev-1", "u2"))
	})

	t.Run("zero cooldown never blocks", func(t *testing.T) {
		clock := newFakeClock()
		ledger := NewCooldownLedger(clock)
		cd := model.Cooldown{}

		ledger.Register("m1", cd, "dev-1", "u1")
		assert.False(t, ledger.Active("m1", cd, "dev-1", "u1"))
	})

	t.Run("tiers are independent", func(t *testing.T) {
		clock := newFakeClock()
		ledger := NewCooldownLedger(clock)
		cd := model.Cooldown{GlobalMs: 1000, PerUserMs: 10000}

		ledger.Register("m1", cd, "dev-1", "u1")
		clock.Advance(2 * time.Second)

		// Global expired, per-user still holds for u1 only.
		assert.True(t, ledger.Active("m1", cd, "dev-1", "u1"))
		assert.False(t, ledger.Active("m1", cd, "dev-1", "u2"))
	})
}

func TestCooldownLedgerGC(t *testing.T) {
	clock := newFakeClock()
	ledger := NewCooldownLedger(clock)
	cd := model.Cooldown{PerUserMs: 5000}

	for _, user := range []string{"u1", "u2", "u3"} {
		ledger.Register("m1", cd, "dev-1", user)
	}
	shard := ledger.shardFor("m1")
	assert.Len(t, shard.last, 3)

	// Entries past the stale horizon are collected on the next Register.
	clock.Advance(2 * time.Hour)
	ledger.Register("m1", cd, "dev-1", "u4")

	shard.mu.RLock()
	defer shard.mu.RUnlock()
	assert.Len(t, shard.last, 1, "only the fresh entry survives")
	_, ok := shard.last["u:u4"]
	assert.True(t, ok)
}

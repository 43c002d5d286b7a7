package txn_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"go.htxn.dev/core/txn"
)

func TestRateLimiterDisabledAlwaysAdmits(t *testing.T) {
	var rl = txn.NewRateLimiter(0, clockwork.NewFakeClock())
	var ok, _ = rl.Admit(1 << 30)
	assert.True(t, ok)
	assert.False(t, rl.Enabled())
}

func TestRateLimiterAdmitsWithinBudgetThenThrottles(t *testing.T) {
	var clock = clockwork.NewFakeClock()
	var rl = txn.NewRateLimiter(1, clock) // 1 byte/ms

	clock.Advance(10 * time.Millisecond)
	var ok, _ = rl.Admit(10)
	assert.True(t, ok, "10ms at 1 byte/ms has earned a 10-byte budget")
	rl.RecordEgress(10)

	ok, retryAfter := rl.Admit(10)
	assert.False(t, ok, "the epoch's budget is already spent")
	assert.Greater(t, retryAfter, time.Duration(0))

	clock.Advance(10 * time.Millisecond)
	ok, _ = rl.Admit(10)
	assert.True(t, ok, "another 10ms earns back the budget spent")
}

func TestRateLimiterResetStartsFreshEpoch(t *testing.T) {
	var clock = clockwork.NewFakeClock()
	var rl = txn.NewRateLimiter(1, clock)

	rl.RecordEgress(5)
	clock.Advance(100 * time.Millisecond)
	rl.Reset()

	// Immediately after Reset, stale elapsed time must not grant a burst:
	// admitting far more than the rate allows in zero elapsed time fails.
	var ok, _ = rl.Admit(1000)
	assert.False(t, ok)
}

func TestRateLimiterSetRateResetsEpoch(t *testing.T) {
	var clock = clockwork.NewFakeClock()
	var rl = txn.NewRateLimiter(1, clock)
	rl.RecordEgress(5)

	rl.SetRate(2)
	clock.Advance(time.Millisecond)
	var ok, _ = rl.Admit(2)
	assert.True(t, ok, "SetRate resets accounting so the old rate's debt doesn't linger")
}

package txn

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter paces egress flushes to at most bytesPerMillisecond, modeled
// as a scheduled acquisition of budget with the wake-up owned by the
// caller: Admit either grants the request outright or reports how long to
// wait before retrying, mirroring the "scheduled acquisition... guaranteed
// release on all exit paths" framing of §9's design notes for this
// component. clockwork.Clock (rather than time.Now/time.Since) is used
// throughout so tests can advance time deterministically instead of
// sleeping on a wall clock.
type RateLimiter struct {
	bytesPerMillisecond float64
	clock               clockwork.Clock
	epoch               time.Time
	egressedInEpoch     int64
}

// NewRateLimiter returns a RateLimiter. bytesPerMillisecond <= 0 disables
// pacing entirely: Admit always grants the full request.
func NewRateLimiter(bytesPerMillisecond float64, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		bytesPerMillisecond: bytesPerMillisecond,
		clock:               clock,
		epoch:               clock.Now(),
	}
}

// Enabled reports whether pacing is configured.
func (r *RateLimiter) Enabled() bool { return r.bytesPerMillisecond > 0 }

// Reset begins a new accounting epoch, used on resume from a paused state
// so stale elapsed time doesn't grant an unearned burst of budget.
func (r *RateLimiter) Reset() {
	r.epoch = r.clock.Now()
	r.egressedInEpoch = 0
}

// Admit reports whether n bytes may be flushed right now. If not, it
// returns the duration the caller should wait before retrying.
func (r *RateLimiter) Admit(n int) (ok bool, retryAfter time.Duration) {
	if !r.Enabled() {
		return true, 0
	}
	var elapsedMs = float64(r.clock.Since(r.epoch)) / float64(time.Millisecond)
	var budget = elapsedMs*r.bytesPerMillisecond - float64(r.egressedInEpoch)
	if budget >= float64(n) {
		return true, 0
	}
	var overBudget = float64(n) - budget
	return false, time.Duration(overBudget/r.bytesPerMillisecond*float64(time.Millisecond)) + time.Millisecond
}

// RecordEgress debits n bytes from the current epoch's budget.
func (r *RateLimiter) RecordEgress(n int) {
	r.egressedInEpoch += int64(n)
}

// SetRate reconfigures the pacing rate, resetting the epoch so the new rate
// takes effect immediately rather than being skewed by past accounting.
func (r *RateLimiter) SetRate(bytesPerMillisecond float64) {
	r.bytesPerMillisecond = bytesPerMillisecond
	r.Reset()
}

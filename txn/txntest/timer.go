package txntest

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"go.htxn.dev/core/txn"
)

type timerEntry struct {
	at       time.Time
	cb       func()
	canceled bool
}

func (e *timerEntry) Cancel() { e.canceled = true }

// FakeTimer is a txn.Timer backed by a clockwork.FakeClock, so tests can
// advance time deterministically (Advance) and observe exactly which
// callbacks fire, instead of racing a real wall clock.
type FakeTimer struct {
	Clock   clockwork.FakeClock
	entries []*timerEntry
}

func NewFakeTimer() *FakeTimer {
	return &FakeTimer{Clock: clockwork.NewFakeClock()}
}

func (f *FakeTimer) Schedule(d time.Duration, cb func()) txn.TimerHandle {
	var e = &timerEntry{at: f.Clock.Now().Add(d), cb: cb}
	f.entries = append(f.entries, e)
	return e
}

// Advance moves the fake clock forward by d and fires every non-canceled
// callback whose deadline has passed, in deadline order.
func (f *FakeTimer) Advance(d time.Duration) {
	f.Clock.Advance(d)
	var now = f.Clock.Now()
	var pending = f.entries[:0:0]
	sort.SliceStable(f.entries, func(i, j int) bool { return f.entries[i].at.Before(f.entries[j].at) })
	var remaining []*timerEntry
	for _, e := range f.entries {
		if e.canceled {
			continue
		}
		if !e.at.After(now) {
			pending = append(pending, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	f.entries = remaining
	for _, e := range pending {
		e.cb()
	}
}

// Pending returns the number of scheduled, non-canceled, non-fired callbacks.
func (f *FakeTimer) Pending() int {
	var n int
	for _, e := range f.entries {
		if !e.canceled {
			n++
		}
	}
	return n
}

var _ txn.Timer = (*FakeTimer)(nil)

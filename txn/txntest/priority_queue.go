package txntest

import "go.htxn.dev/core/txn"

type pqEntry struct {
	priority     txn.Priority
	onWriteReady func(maxBytes int, weightRatio float64) bool
	enqueued     bool
}

// FakePriorityQueue is a minimal PriorityQueue: it tracks registrations and
// their pending-egress bit without implementing real tree-based scheduling,
// and exposes RunAll to drive every pending handle once, in registration
// order, for tests that don't care about priority ordering itself.
type FakePriorityQueue struct {
	entries []*pqEntry
}

func NewFakePriorityQueue() *FakePriorityQueue { return &FakePriorityQueue{} }

func (q *FakePriorityQueue) Add(p txn.Priority, onWriteReady func(maxBytes int, weightRatio float64) bool) txn.PriorityHandle {
	var e = &pqEntry{priority: p, onWriteReady: onWriteReady}
	q.entries = append(q.entries, e)
	return e
}

func (q *FakePriorityQueue) Remove(h txn.PriorityHandle) {
	var e = h.(*pqEntry)
	for i, o := range q.entries {
		if o == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *FakePriorityQueue) SetPendingEgress(h txn.PriorityHandle)   { h.(*pqEntry).enqueued = true }
func (q *FakePriorityQueue) ClearPendingEgress(h txn.PriorityHandle) { h.(*pqEntry).enqueued = false }
func (q *FakePriorityQueue) IsEnqueued(h txn.PriorityHandle) bool    { return h.(*pqEntry).enqueued }
func (q *FakePriorityQueue) UpdatePriority(h txn.PriorityHandle, p txn.Priority) {
	h.(*pqEntry).priority = p
}

// RunAll invokes onWriteReady(maxBytes, 1.0) once for every currently
// pending entry, looping until none remain pending or 64 rounds have run
// (a safety valve against a test bug that keeps re-marking itself pending).
func (q *FakePriorityQueue) RunAll(maxBytes int) {
	for round := 0; round < 64; round++ {
		var any bool
		for _, e := range q.entries {
			if !e.enqueued {
				continue
			}
			any = true
			if !e.onWriteReady(maxBytes, 1.0) {
				e.enqueued = false
			}
		}
		if !any {
			return
		}
	}
}

var _ txn.PriorityQueue = (*FakePriorityQueue)(nil)

package txn

// Priority describes a Transaction's position in the external priority
// tree: a dependency on another stream, a relative weight, and whether
// that dependency is exclusive (this stream becomes the sole child of
// Dependency, reparenting Dependency's prior children beneath it).
type Priority struct {
	Dependency StreamID
	Weight     uint8
	Exclusive  bool
}

// Equal reports whether two Priority values describe the same placement,
// used to suppress a redundant SendPriority frame (§8 round-trip property:
// two identical update_and_send_priority calls emit exactly one frame).
func (p Priority) Equal(o Priority) bool {
	return p.Dependency == o.Dependency && p.Weight == o.Weight && p.Exclusive == o.Exclusive
}

// DefaultPriority is used for transactions that don't specify one.
var DefaultPriority = Priority{Dependency: 0, Weight: 16, Exclusive: false}

// PriorityHandle is an opaque reference into an external priority queue.
// The Transaction never inspects it; it's returned by PriorityQueue.Add
// and passed back verbatim to the queue's other methods.
type PriorityHandle interface{}

// PriorityQueue is the external scheduling structure a session maintains
// across all of its transactions. The Transaction only enqueues/dequeues
// itself when it has egress work or becomes blocked; the queue decides
// scheduling order and invokes onWriteReady on runnable handles in
// priority order. The queue does not own the transaction: it holds only
// the weak PriorityHandle reference.
type PriorityQueue interface {
	// Add registers a new participant at the given priority and returns its
	// opaque handle. onWriteReady is invoked by the queue's traversal with
	// (maxBytes, weightRatio) and must return whether more egress work
	// remains for this participant.
	Add(p Priority, onWriteReady func(maxBytes int, weightRatio float64) (more bool)) PriorityHandle
	// Remove deregisters h. It is always safe to call, including when h is
	// already not enqueued.
	Remove(h PriorityHandle)
	// SetPendingEgress marks h as runnable.
	SetPendingEgress(h PriorityHandle)
	// ClearPendingEgress marks h as not runnable.
	ClearPendingEgress(h PriorityHandle)
	// IsEnqueued reports whether h is currently runnable.
	IsEnqueued(h PriorityHandle) bool
	// UpdatePriority reparents/reweights h without emitting a wire frame;
	// that's the caller's responsibility (see Transaction.OnPriorityUpdate
	// vs Transaction.UpdateAndSendPriority).
	UpdatePriority(h PriorityHandle, p Priority)
}

package txn

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ExAttributes marks a Transaction as an extended transaction bound to a
// control stream rather than to an independent request/response exchange
// (eg a CONNECT-style tunnel, or an HTTP/2 "extended CONNECT" bootstrap
// for WebTransport/gRPC-bidi). Unidirectional ex-transactions pin the
// non-applicable state machine terminal at construction (see New).
type ExAttributes struct {
	// Unidirectional, if true, means only one of ingress/egress carries
	// real traffic; the other is pinned terminal immediately.
	Unidirectional bool
	// RemotelyInitiated distinguishes a peer-opened ex-transaction (egress
	// is pinned terminal when Unidirectional) from a locally-opened one
	// (ingress is pinned terminal when Unidirectional).
	RemotelyInitiated bool
	// ControlStreamID names the stream this ex-transaction is bound to.
	ControlStreamID StreamID
}

// NewPushedTransaction constructs a server-push sub-transaction associated
// with parent. Per §4.6, a pushed transaction is only legal on a Downstream
// parent, only while the parent's own egress EOM has not yet been sent, and
// only while the parent is not running in partial-reliability mode (push
// promises have no offset of their own to skip/reject against).
func NewPushedTransaction(id StreamID, parent *Transaction, transport Transport, handler Handler, pq PriorityQueue, timer Timer, opts Options) (*Transaction, error) {
	var release = parent.guard.acquire()
	defer release()

	if parent.direction != Downstream {
		return nil, newProtocolError(DirectionEgress, errors.New("push is only legal on a downstream transaction"))
	}
	if parent.egress.State() == EgressEOMQueued || parent.egress.State().IsTerminal() {
		return nil, newProtocolError(DirectionEgress, errors.New("push is not legal once egress EOM has been sent"))
	}
	if parent.partiallyReliable {
		return nil, newProtocolError(DirectionEgress, errors.New("push is mutually exclusive with partial reliability"))
	}

	var assoc = parent.id
	opts.AssocStreamID = &assoc

	var pushed = New(id, Downstream, transport, handler, pq, timer, opts)
	if parent.pushedTransactions == nil {
		parent.pushedTransactions = make(map[StreamID]*Transaction)
	}
	parent.pushedTransactions[id] = pushed
	parent.handler.OnPushedTransaction(pushed)
	return pushed, nil
}

// NewExTransaction constructs an extended transaction bound to parent's
// control stream. Like a pushed transaction, an aborted parent cascades
// the abort to every registered ex-transaction.
func NewExTransaction(id StreamID, parent *Transaction, direction TxnDirection, attrs ExAttributes, transport Transport, handler Handler, pq PriorityQueue, timer Timer, opts Options) *Transaction {
	attrs.ControlStreamID = parent.id
	opts.ExAttributes = &attrs

	var release = parent.guard.acquire()
	defer release()

	var ex = New(id, direction, transport, handler, pq, timer, opts)
	if parent.exTransactions == nil {
		parent.exTransactions = make(map[StreamID]*Transaction)
	}
	parent.exTransactions[id] = ex
	parent.handler.OnExTransaction(ex)
	return ex
}

// cascadeAbort aborts every pushed and ex sub-transaction registered
// against t, collecting any non-nil errors their abort sequences raise
// (a sub-transaction's own Transport.SendAbort failure, or an error from
// its own cascade).
func (t *Transaction) cascadeAbort(code ErrorCode) error {
	var merr *multierror.Error
	for id, pushed := range t.pushedTransactions {
		if err := pushed.SendAbort(code); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "aborting pushed transaction %d", id))
		}
		delete(t.pushedTransactions, id)
	}
	for id, ex := range t.exTransactions {
		if err := ex.SendAbort(code); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "aborting ex transaction %d", id))
		}
		delete(t.exTransactions, id)
	}
	return merr.ErrorOrNil()
}

// shouldNotifyError reports whether err should reach t.handler.OnError.
// A bidirectional (ordinary) transaction always surfaces its errors. A
// unidirectional ex-transaction, per §4.6, only surfaces errors on its
// active direction: the one side that actually carries traffic has no use
// for hearing about failures tagged to the side that was pinned terminal
// at construction.
func (t *Transaction) shouldNotifyError(err *TxnError) bool {
	if t.exAttrs == nil || !t.exAttrs.Unidirectional {
		return true
	}
	var active = DirectionEgress
	if t.exAttrs.RemotelyInitiated {
		active = DirectionIngress
	}
	return err.Direction == DirectionBoth || err.Direction == active
}

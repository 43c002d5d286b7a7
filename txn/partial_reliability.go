package txn

import "github.com/pkg/errors"

// SkipBodyTo is the sender-side half of partial reliability: it tells the
// egress transport to stop sending body bytes below offset, typically
// because a later write has made everything before it moot (eg a live
// stream dropping stale frames). Requires egress headers already delivered
// and a Transport implementing PartialReliabilityTransport; trims whatever
// of that range is still sitting in the deferred egress buffer and, once
// the transport's SkipBodyTo succeeds, returns the requested offset.
func (t *Transaction) SkipBodyTo(offset int64) (int64, error) {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return 0, nil
	}
	if !t.egressHeadersDelivered {
		return 0, t.failEgress(newProtocolError(DirectionEgress,
			errors.New("skipBodyTo before egress headers have been sent")))
	}
	var pr, ok = t.transport.(PartialReliabilityTransport)
	if !ok {
		return 0, newUnsupportedOperationError(DirectionEgress, "SkipBodyTo")
	}
	t.partiallyReliable = true
	t.deferredEgress.TrimToOffset(offset)
	if err := pr.SkipBodyTo(t, offset); err != nil {
		return 0, t.failEgress(newTransportError(DirectionEgress, err))
	}
	return offset, nil
}

// RejectBodyTo is the receiver-side half of partial reliability: it tells
// the ingress transport the local side no longer wants body bytes below
// offset, advancing ingress_body_offset as if they had been delivered and
// consumed.
func (t *Transaction) RejectBodyTo(offset int64) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	var pr, ok = t.transport.(PartialReliabilityTransport)
	if !ok {
		return newUnsupportedOperationError(DirectionIngress, "RejectBodyTo")
	}
	t.partiallyReliable = true
	t.ingressBodyOffset = offset
	if err := pr.RejectBodyTo(t, offset); err != nil {
		return t.failIngress(newTransportError(DirectionIngress, err))
	}
	return nil
}

// OnBodySkipped is delivered by the transport when the peer has confirmed a
// SkipBodyTo request: the local side will never receive that body range.
func (t *Transaction) OnBodySkipped(offset int64) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.partiallyReliable {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.New("onBodySkipped without partial reliability enabled")))
	}
	t.ingressBodyOffset = offset
	t.handler.OnBodySkipped(offset)
	return nil
}

// OnBodyRejected is delivered by the transport when the peer has rejected
// (permanently withheld) body content up to offset, the sender-side
// notification counterpart to RejectBodyTo.
func (t *Transaction) OnBodyRejected(offset int64) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.partiallyReliable {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.New("onBodyRejected without partial reliability enabled")))
	}
	t.handler.OnBodyRejected(offset)
	return nil
}

// Peek exposes unconsumed ingress body bytes without buffering them as
// HTTPEvents, for codecs that support zero-copy inspection. Requires a
// Transport implementing PeekConsumeTransport. The peeked bytes are
// delivered to the handler via OnBodyPeek, tagged with the current ingress
// body offset; Peek itself never advances that offset, only Consume does.
func (t *Transaction) Peek() error {
	var release = t.guard.acquire()
	defer release()
	var pc, ok = t.transport.(PeekConsumeTransport)
	if !ok {
		return newUnsupportedOperationError(DirectionIngress, "Peek")
	}
	var err = pc.Peek(func(data []byte) {
		t.handler.OnBodyPeek(t.ingressBodyOffset, data)
	})
	if err != nil {
		return t.failIngress(newTransportError(DirectionIngress, err))
	}
	return nil
}

// Consume advances the ingress transport's read position by n bytes after
// a Peek, without delivering those bytes through OnBody.
func (t *Transaction) Consume(n int) error {
	var release = t.guard.acquire()
	defer release()
	var pc, ok = t.transport.(PeekConsumeTransport)
	if !ok {
		return newUnsupportedOperationError(DirectionIngress, "Consume")
	}
	if err := pc.Consume(n); err != nil {
		return t.failIngress(newTransportError(DirectionIngress, err))
	}
	if err := t.accountIngressBody(n); err != nil {
		return t.failIngress(err)
	}
	if !t.unframedBodyStarted {
		t.unframedBodyStarted = true
		t.handler.OnUnframedBodyStarted()
	}
	return nil
}

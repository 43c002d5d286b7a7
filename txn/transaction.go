package txn

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Transaction is one request/response exchange multiplexed onto a shared
// connection. It validates ingress/egress events against the state
// machines in state_machine.go, buffers and flow-controls body bytes in
// both directions, coordinates pause/resume with the handler, and owns the
// detach/destroy lifecycle. See SPEC_FULL.md §2 for the component diagram
// this type composes.
type Transaction struct {
	id        StreamID
	direction TxnDirection
	ctx       context.Context

	ingress IngressSM
	egress  EgressSM

	useFlowControl bool
	recvWindow     *Window
	sendWindow     *Window

	deferredIngress *DeferredIngressQueue
	maxDeferredIngress int

	deferredEgress    *DeferredEgressBuffer
	egressBufferLimit int
	pendingTrailers   Headers

	rateLimiter       *RateLimiter
	egressRateLimited bool

	handlerEgressPaused bool
	transportBackpressure bool
	ingressPaused       bool
	inResume            bool

	aborted  bool
	detached bool

	pendingByteEvents int

	priority       Priority
	pq             PriorityQueue
	priorityHandle PriorityHandle
	cumulativeRatio float64
	egressCalls     int64

	assocStreamID *StreamID
	exAttrs       *ExAttributes

	expectedIngressLength  *int64
	remainingIngressLength int64
	expectedResponseLength *int64
	actualResponseLength   int64

	lastResponseStatus int
	firstHeaderByteSent bool

	pushedTransactions map[StreamID]*Transaction
	exTransactions     map[StreamID]*Transaction

	ingressBodyOffset        int64
	egressBodyBytesCommitted int64
	partiallyReliable        bool
	egressHeadersDelivered   bool
	unframedBodyStarted      bool

	transport Transport
	handler   Handler
	timer     Timer

	idleTimeout   time.Duration
	timerHandle   TimerHandle

	guard destructionGuard

	log *log.Entry
}

// New returns a Transaction wired to the given Transport and Handler,
// registered with pq, and scheduled against timer for idle-timeout
// enforcement. It is the session's job to call New on receipt of request
// headers (downstream) or on an explicit local open (upstream).
func New(id StreamID, direction TxnDirection, transport Transport, handler Handler, pq PriorityQueue, timer Timer, opts Options) *Transaction {
	var t = &Transaction{
		id:                 id,
		direction:          direction,
		ctx:                context.Background(),
		useFlowControl:     opts.UseFlowControl,
		maxDeferredIngress: opts.MaxDeferredIngress,
		egressBufferLimit:  opts.EgressBufferLimit,
		priority:           opts.Priority,
		assocStreamID:      opts.AssocStreamID,
		exAttrs:            opts.ExAttributes,
		transport:          transport,
		handler:            handler,
		pq:                 pq,
		timer:              timer,
		idleTimeout:        opts.IdleTimeout,
		pushedTransactions: make(map[StreamID]*Transaction),
		exTransactions:     make(map[StreamID]*Transaction),
	}
	t.deferredEgress = NewDeferredEgressBuffer(0)
	t.rateLimiter = NewRateLimiter(opts.EgressRateLimitBytesPerMs, nil)
	t.log = log.WithFields(log.Fields{"txn": id, "direction": direction})

	if t.useFlowControl {
		t.recvWindow = NewWindow(opts.RecvInitialWindow)
		t.sendWindow = NewWindow(opts.SendInitialWindow)
	}

	if pq != nil {
		t.priorityHandle = pq.Add(t.priority, t.onWriteReady)
	}

	// ex_attributes pre-marks the non-applicable direction terminal: a
	// unidirectional ex-transaction that's remotely initiated never sends,
	// and vice versa (§4.6 "Push and Ex sub-transactions").
	if t.exAttrs != nil && t.exAttrs.Unidirectional {
		if t.exAttrs.RemotelyInitiated {
			t.egress.state = EgressSendingDone
		} else {
			t.ingress.state = IngressReceivingDone
		}
	}

	handler.SetTransaction(t)
	t.refreshTimer()
	return t
}

// ID returns the Transaction's stream identifier.
func (t *Transaction) ID() StreamID { return t.id }

// Direction returns whether this Transaction represents a locally issued
// request (Upstream) or one this process is answering (Downstream).
func (t *Transaction) Direction() TxnDirection { return t.direction }

// IngressState returns the current ingress state machine state.
func (t *Transaction) IngressState() IngressState { return t.ingress.State() }

// EgressState returns the current egress state machine state.
func (t *Transaction) EgressState() EgressState { return t.egress.State() }

// Aborted reports whether this Transaction has been aborted.
func (t *Transaction) Aborted() bool { return t.aborted }

// ---------------------------------------------------------------------
// Ingress path (§4.6 "Ingress path")
// ---------------------------------------------------------------------

// OnHeaders delivers a headers frame from the codec. statusCode is only
// meaningful for Upstream transactions (the status of a received
// response); Downstream callers pass 0.
func (t *Transaction) OnHeaders(headers Headers, statusCode int) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}

	if t.direction == Upstream {
		return t.onUpstreamHeaders(headers, statusCode)
	}

	if !t.ingress.Fire(EventOnHeaders) {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("onHeaders invalid from state %s", t.ingress.State())))
	}
	t.setExpectedIngressLength(headers)
	t.refreshTimer()
	return t.dispatchIngress(HTTPEvent{Event: EventOnHeaders, Headers: headers})
}

// setExpectedIngressLength records Content-Length for the onEOM byte-count
// check, when present and the body isn't chunked (chunked framing carries
// its own length per chunk and has no single Content-Length to check against).
func (t *Transaction) setExpectedIngressLength(headers Headers) {
	if headers.Get("Transfer-Encoding") != "" {
		return
	}
	var v = headers.Get("Content-Length")
	if v == "" {
		return
	}
	var n, err = strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return
	}
	t.expectedIngressLength = &n
	t.remainingIngressLength = n
}

// onUpstreamHeaders implements the §9 departure from the strict ingress
// table: an Upstream transaction may receive onHeaders repeatedly so long
// as every repeat but the last reports a 1xx (interim) status. This is
// special-cased here, above the table, rather than relaxing the table
// itself, per §9's explicit instruction.
func (t *Transaction) onUpstreamHeaders(headers Headers, statusCode int) error {
	if err := t.validateMonotonicStatus(statusCode); err != nil {
		return t.failIngress(err)
	}

	if t.ingress.State() == IngressStart {
		if !t.ingress.Fire(EventOnHeaders) {
			return t.failIngress(newProtocolError(DirectionIngress,
				errors.Errorf("onHeaders invalid from state %s", t.ingress.State())))
		}
	} else if t.ingress.State() != IngressHeadersReceived || !isInterimStatus(t.lastResponseStatus) {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("repeated onHeaders invalid from state %s (last status %d)",
				t.ingress.State(), t.lastResponseStatus)))
	}

	t.lastResponseStatus = statusCode
	if !isInterimStatus(statusCode) {
		t.setExpectedIngressLength(headers)
	}
	t.refreshTimer()
	return t.dispatchIngress(HTTPEvent{Event: EventOnHeaders, Headers: headers, StatusCode: statusCode})
}

func (t *Transaction) validateMonotonicStatus(statusCode int) *TxnError {
	if t.lastResponseStatus >= 100 && !isInterimStatus(t.lastResponseStatus) {
		return newProtocolError(DirectionIngress,
			errors.Errorf("status already final (%d), cannot receive further headers", t.lastResponseStatus))
	}
	return nil
}

func isInterimStatus(code int) bool { return code >= 100 && code < 200 }

// OnBody delivers a body chunk from the codec (non-chunked framing).
func (t *Transaction) OnBody(data []byte) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.ingress.Fire(EventOnBody) {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("onBody invalid from state %s", t.ingress.State())))
	}
	if err := t.accountIngressBody(len(data)); err != nil {
		return t.failIngress(err)
	}
	t.refreshTimer()
	return t.dispatchIngress(HTTPEvent{Event: EventOnBody, Body: data, Offset: t.ingressBodyOffset})
}

// accountIngressBody advances ingress offset/length bookkeeping and, under
// flow control, reserves the body against recvWindow. A peer that sends more
// body than the advertised window grants is a protocol violation, not
// something to silently absorb: the egress side refuses to exceed
// sendWindow.Available() before it ever calls Reserve, so the ingress side
// must raise the symmetric error instead of letting available go negative
// unnoticed.
func (t *Transaction) accountIngressBody(n int) *TxnError {
	t.ingressBodyOffset += int64(n)
	// Not guarded by remainingIngressLength > 0: once a declared
	// Content-Length has been fully consumed, any further bytes must drive
	// it negative rather than pin at zero, so onEOM's mismatch check (which
	// tests != 0) still catches a peer that keeps sending past what it
	// declared.
	t.remainingIngressLength -= int64(n)
	if t.useFlowControl && !t.recvWindow.Reserve(int64(n)) {
		return newFlowControlError(DirectionIngress,
			errors.Errorf("peer sent %d bytes exceeding recv window (available %d)", n, t.recvWindow.Available()))
	}
	return nil
}

// OnChunkHeader delivers a chunk-length marker (HTTP/1.1 chunked framing).
func (t *Transaction) OnChunkHeader(length int) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if t.partiallyReliable {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.New("chunk framing is incompatible with partial reliability")))
	}
	if !t.ingress.Fire(EventOnChunkHeader) {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("onChunkHeader invalid from state %s", t.ingress.State())))
	}
	t.refreshTimer()
	return t.dispatchIngress(HTTPEvent{Event: EventOnChunkHeader, ChunkLength: length})
}

// OnChunkComplete closes out the chunk opened by the most recent OnChunkHeader+OnBody.
func (t *Transaction) OnChunkComplete() error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.ingress.Fire(EventOnChunkComplete) {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("onChunkComplete invalid from state %s", t.ingress.State())))
	}
	t.refreshTimer()
	return t.dispatchIngress(HTTPEvent{Event: EventOnChunkComplete})
}

// OnTrailers delivers a trailer block from the codec.
func (t *Transaction) OnTrailers(trailers Headers) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if t.partiallyReliable {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.New("trailers are incompatible with partial reliability")))
	}
	if !t.ingress.Fire(EventOnTrailers) {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("onTrailers invalid from state %s", t.ingress.State())))
	}
	t.refreshTimer()
	return t.dispatchIngress(HTTPEvent{Event: EventOnTrailers, Trailers: trailers})
}

// OnUpgrade delivers a protocol-upgrade notification from the codec.
func (t *Transaction) OnUpgrade(protocol string) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.ingress.Fire(EventOnUpgrade) {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("onUpgrade invalid from state %s", t.ingress.State())))
	}
	t.refreshTimer()
	return t.dispatchIngress(HTTPEvent{Event: EventOnUpgrade, Headers: Headers{"Upgrade": []string{protocol}}})
}

// OnEOM delivers end-of-message from the codec, closing out ingress.
func (t *Transaction) OnEOM() error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.ingress.Fire(EventOnEOM) {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("onEOM invalid from state %s", t.ingress.State())))
	}
	if t.expectedIngressLength != nil && t.remainingIngressLength != 0 {
		return t.failIngress(newProtocolError(DirectionIngress,
			errors.Errorf("content-length mismatch: %d bytes remaining at EOM", t.remainingIngressLength)))
	}
	return t.dispatchIngress(HTTPEvent{Event: EventOnEOM})
}

// mustQueueIngress implements §9's must_queue(): a single conditional
// deciding enqueue vs immediate dispatch for every ingress event.
func (t *Transaction) mustQueueIngress() bool {
	return t.ingressPaused || (t.deferredIngress != nil && !t.deferredIngress.Empty())
}

func (t *Transaction) dispatchIngress(ev HTTPEvent) error {
	if t.mustQueueIngress() {
		if t.deferredIngress == nil {
			t.deferredIngress = NewDeferredIngressQueue(t.maxDeferredIngress)
		}
		if !t.deferredIngress.Enqueue(ev) {
			// There's nowhere to put ev: dropping it here would silently
			// break the §5 strict-ordering delivery guarantee regardless of
			// flow control, so max_deferred_ingress overflow is always a
			// resource error, the same as the no-flow-control case. With
			// flow control on, recv-window credit for ev's bytes is also
			// never freed, so a WINDOW_UPDATE never reaches the peer for
			// them — configuring max_deferred_ingress below recv_window's
			// capacity is what drives a well-behaved peer into this path.
			addTrace(t.ctx, "deferred ingress queue full (%d bytes), aborting", t.deferredIngress.Bytes())
			return t.failIngress(newResourceError(DirectionIngress,
				errors.New("ingress buffer full")))
		}
		return nil
	}
	t.invokeIngressHandler(ev)
	return nil
}

func (t *Transaction) invokeIngressHandler(ev HTTPEvent) {
	switch ev.Event {
	case EventOnHeaders:
		t.handler.OnHeadersComplete(ev.Headers, ev.StatusCode)
	case EventOnBody:
		if t.partiallyReliable {
			t.handler.OnBodyWithOffset(ev.Offset, ev.Body)
		} else {
			t.handler.OnBody(ev.Body)
		}
		if t.transport != nil {
			t.transport.NotifyIngressBodyProcessed(len(ev.Body))
		}
	case EventOnChunkHeader:
		t.handler.OnChunkHeader(ev.ChunkLength)
	case EventOnChunkComplete:
		t.handler.OnChunkComplete()
	case EventOnTrailers:
		t.handler.OnTrailers(ev.Trailers)
	case EventOnUpgrade:
		t.handler.OnUpgrade(ev.Headers.Get("Upgrade"))
	case EventOnEOM:
		t.handler.OnEOM()
		t.ingress.Fire(eventIngressEOMFlushed)
		t.cancelTimer()
		t.checkDetach()
	}
}

// drainDeferredIngress releases buffered events FIFO, holding a
// destruction guard across the whole pass because the handler may pause
// or abort the transaction mid-drain (§4.3).
func (t *Transaction) drainDeferredIngress() {
	var release = t.guard.acquire()
	defer release()
	for !t.ingressPaused && !t.aborted && t.deferredIngress != nil && !t.deferredIngress.Empty() {
		var ev, _ = t.deferredIngress.Dequeue()
		t.invokeIngressHandler(ev)
	}
}

// PauseIngress is called by the handler to stop delivery of further
// ingress callbacks; subsequent events are buffered for a later ResumeIngress.
func (t *Transaction) PauseIngress() {
	var release = t.guard.acquire()
	defer release()
	if t.ingressPaused {
		return
	}
	t.ingressPaused = true
	t.transport.PauseIngress(t)
}

// ResumeIngress is called by the handler to resume ingress delivery and
// drain anything buffered while paused.
func (t *Transaction) ResumeIngress() {
	var release = t.guard.acquire()
	defer release()
	if !t.ingressPaused {
		return
	}
	t.ingressPaused = false
	t.transport.ResumeIngress(t)
	t.drainDeferredIngress()
}

// ---------------------------------------------------------------------
// Egress path (§4.6 "Egress path")
// ---------------------------------------------------------------------

// SendHeaders hands headers to the transport immediately: headers are
// never flow-controlled. statusCode is only meaningful for Downstream
// transactions (the status of an outgoing response); Upstream callers
// (sending a request) pass 0.
func (t *Transaction) SendHeaders(headers Headers, statusCode int) error {
	return t.sendHeaders(headers, statusCode, false, nil)
}

// SendHeadersWithEOM sends headers and immediately closes egress with no
// body, eg for a 204 or 304 response.
func (t *Transaction) SendHeadersWithEOM(headers Headers, statusCode int) error {
	return t.sendHeaders(headers, statusCode, true, nil)
}

func (t *Transaction) sendHeaders(headers Headers, statusCode int, eom bool, trailers Headers) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}

	var interim = t.direction == Downstream && isInterimStatus(statusCode)

	if !t.egress.Fire(EventSendHeaders) {
		if !(t.direction == Downstream && t.egress.State() == EgressHeadersSent && isInterimStatus(t.lastResponseStatus)) {
			return t.failEgress(newProtocolError(DirectionEgress,
				errors.Errorf("sendHeaders invalid from state %s", t.egress.State())))
		}
		// Interim 1xx retransmission of headers, modeled at this layer per
		// §9's instruction to special-case interim responses above the
		// table rather than relaxing it.
	}

	var bytesWritten, err = t.transport.SendHeaders(t, headers, statusCode, eom)
	if err != nil {
		return t.failEgress(newTransportError(DirectionEgress, err))
	}
	_ = bytesWritten
	t.firstHeaderByteSent = true
	if !interim {
		t.egressHeadersDelivered = true
	}

	if t.direction == Downstream {
		t.lastResponseStatus = statusCode
	}
	t.refreshTimer()

	if eom && !interim {
		if !t.egress.Fire(EventSendEOM) {
			return t.failEgress(newProtocolError(DirectionEgress,
				errors.Errorf("sendHeadersWithEOM invalid from state %s", t.egress.State())))
		}
		// The eom bit already rode the header frame itself (the transport
		// call above), so there's nothing left to flush: finish immediately
		// rather than queuing a redundant SendEOM through the deferred path.
		t.finishEgressSendingDone()
		return nil
	}
	return nil
}

// SendBody appends body bytes to the deferred egress buffer and requests
// scheduling; it never writes synchronously to the transport.
func (t *Transaction) SendBody(body []byte) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.egress.Fire(EventSendBody) {
		return t.failEgress(newProtocolError(DirectionEgress,
			errors.Errorf("sendBody invalid from state %s", t.egress.State())))
	}
	t.deferredEgress.AppendBody(body)
	t.actualResponseLength += int64(len(body))
	t.transport.NotifyEgressBodyBuffered(len(body))
	t.markPendingEgress()
	t.recomputeEgressPause()
	return nil
}

// SendChunkHeader queues a chunk-length marker, only meaningful for
// non-multiplexing codecs that need explicit chunk framing on the wire.
func (t *Transaction) SendChunkHeader(length int) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if t.partiallyReliable {
		return t.failEgress(newProtocolError(DirectionEgress,
			errors.New("chunk framing is incompatible with partial reliability")))
	}
	if !t.egress.Fire(EventSendChunkHeader) {
		return t.failEgress(newProtocolError(DirectionEgress,
			errors.Errorf("sendChunkHeader invalid from state %s", t.egress.State())))
	}
	t.deferredEgress.AppendChunkHeader(length)
	t.markPendingEgress()
	return nil
}

// SendChunkTerminator closes out the chunk opened by the most recent
// SendChunkHeader+SendBody pair.
func (t *Transaction) SendChunkTerminator() error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.egress.Fire(EventSendChunkTerminator) {
		return t.failEgress(newProtocolError(DirectionEgress,
			errors.Errorf("sendChunkTerminator invalid from state %s", t.egress.State())))
	}
	t.deferredEgress.AppendChunkTerminator()
	t.markPendingEgress()
	return nil
}

// SendTrailers stores trailers to be flushed together with SendEOM.
func (t *Transaction) SendTrailers(trailers Headers) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if t.partiallyReliable {
		return t.failEgress(newProtocolError(DirectionEgress,
			errors.New("trailers are incompatible with partial reliability")))
	}
	if !t.egress.Fire(EventSendTrailers) {
		return t.failEgress(newProtocolError(DirectionEgress,
			errors.Errorf("sendTrailers invalid from state %s", t.egress.State())))
	}
	t.pendingTrailers = trailers
	return nil
}

// SendEOM marks egress complete and triggers a flush attempt.
func (t *Transaction) SendEOM() error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if !t.egress.Fire(EventSendEOM) {
		return t.failEgress(newProtocolError(DirectionEgress,
			errors.Errorf("sendEOM invalid from state %s", t.egress.State())))
	}
	return t.finishEgressEOM(t.pendingTrailers)
}

// finishEgressEOM latches eom_queued and marks the transaction pending
// egress; per §4.6 send_body never writes synchronously, and the same
// holds for the EOM flag it rides alongside — actual transmission happens
// only when the external scheduler next calls onWriteReady.
func (t *Transaction) finishEgressEOM(trailers Headers) error {
	t.deferredEgress.SetEOMQueued(trailers)
	t.markPendingEgress()
	return nil
}

func (t *Transaction) markPendingEgress() {
	if t.pq != nil {
		t.pq.SetPendingEgress(t.priorityHandle)
	}
	t.transport.NotifyPendingEgress()
}

// onWriteReady is invoked by the external priority queue's traversal for
// each runnable handle. It returns whether more egress work remains.
func (t *Transaction) onWriteReady(maxBytes int, weightRatio float64) bool {
	var release = t.guard.acquire()
	defer release()
	if t.aborted || t.detached {
		return false
	}
	t.cumulativeRatio += weightRatio
	t.egressCalls++
	var more, err = t.flush(maxBytes)
	if err != nil {
		t.failEgress(err)
		return false
	}
	return more
}

// flush is §4.6's on_write_ready(max_bytes, weight_ratio), split from its
// weight-ratio bookkeeping (handled by onWriteReady above) since that
// part is meaningless outside of an actual priority-queue traversal.
func (t *Transaction) flush(maxBytes int) (more bool, txnErr *TxnError) {
	if t.transportBackpressure {
		return true, nil
	}
	if t.egressRateLimited {
		return true, nil
	}

	for {
		var seg, ok = t.deferredEgress.front()
		if !ok {
			break
		}
		switch seg.kind {
		case segChunkHeader:
			if _, err := t.transport.SendChunkHeader(t, seg.chunkLen); err != nil {
				return false, newTransportError(DirectionEgress, err)
			}
			t.deferredEgress.popFront()
			continue
		case segChunkTerminator:
			if _, err := t.transport.SendChunkTerminator(t); err != nil {
				return false, newTransportError(DirectionEgress, err)
			}
			t.deferredEgress.popFront()
			continue
		}

		// segBody: bound by maxBytes, the send window, and the rate limiter.
		var budget = seg.bodyRemaining()
		if maxBytes >= 0 && maxBytes < budget {
			budget = maxBytes
		}
		if t.useFlowControl {
			var avail = int(t.sendWindow.Available())
			if avail < 0 {
				avail = 0
			}
			if avail < budget {
				budget = avail
			}
		}
		if budget <= 0 {
			break
		}
		if ok, retryAfter := t.rateLimiter.Admit(budget); !ok {
			t.egressRateLimited = true
			t.scheduleRateLimiterWakeup(retryAfter)
			break
		}

		var isFinalSegment = budget == seg.bodyRemaining() && t.deferredEgress.onlySegmentLeft()
		var eomOnThisWrite = isFinalSegment && t.deferredEgress.EOMQueued() && len(t.deferredEgress.Trailers()) == 0
		var chunk = t.deferredEgress.consumeBodyPrefix(budget)

		var _, err = t.transport.SendBody(t, chunk, eomOnThisWrite, t.partiallyReliable)
		if err != nil {
			return false, newTransportError(DirectionEgress, err)
		}
		if t.useFlowControl {
			t.sendWindow.Reserve(int64(len(chunk)))
		}
		t.rateLimiter.RecordEgress(len(chunk))
		t.egressBodyBytesCommitted += int64(len(chunk))
		if maxBytes >= 0 {
			maxBytes -= len(chunk)
		}

		if eomOnThisWrite {
			t.finishEgressSendingDone()
			break
		}
		if maxBytes == 0 {
			break
		}
	}

	if t.deferredEgress.Empty() && t.deferredEgress.EOMQueued() && t.egress.State() == EgressEOMQueued {
		// The buffer drained exactly as the final body write above, or the
		// stream has trailers / no body at all: finalize via a dedicated
		// SendEOM transport call rather than folding the flag onto send_body.
		if _, err := t.transport.SendEOM(t, t.deferredEgress.Trailers()); err != nil {
			return false, newTransportError(DirectionEgress, err)
		}
		t.finishEgressSendingDone()
	}

	t.refreshTimer()
	t.recomputeEgressPause()

	more = !t.deferredEgress.Empty() || t.egressRateLimited
	if !more && t.pq != nil {
		t.pq.ClearPendingEgress(t.priorityHandle)
	}
	return more, nil
}

func (t *Transaction) finishEgressSendingDone() {
	t.egress.Fire(eventEgressEOMFlushed)
	t.cancelTimer()
	t.checkDetach()
}

func (t *Transaction) scheduleRateLimiterWakeup(d time.Duration) {
	if t.timer == nil {
		return
	}
	t.timer.Schedule(d, func() {
		var release = t.guard.acquire()
		defer release()
		if t.aborted || t.detached {
			return
		}
		t.egressRateLimited = false
		if _, err := t.flush(-1); err != nil {
			t.failEgress(err)
		}
	})
}

// ---------------------------------------------------------------------
// Egress pause/resume coordination (§4.6 "Pause/Resume coordination")
// ---------------------------------------------------------------------

// TransportEgressBackpressure is called by the transport to signal (or
// clear) remote flow-control back-pressure, one of the three inputs to
// the effective "handler should pause" computation.
func (t *Transaction) TransportEgressBackpressure(active bool) {
	var release = t.guard.acquire()
	defer release()
	t.transportBackpressure = active
	t.recomputeEgressPause()
	if !active && !t.deferredEgress.Empty() {
		t.markPendingEgress()
	}
}

// recomputeEgressPause derives the effective "handler should pause egress"
// bit from transport back-pressure, local buffer-limit overrun, and send
// window exhaustion, and delivers a debounced OnEgressPaused/OnEgressResumed
// transition if it has changed (§8: the two callbacks differ in count by
// at most one and strictly alternate beginning with paused).
func (t *Transaction) recomputeEgressPause() {
	var shouldPause = t.transportBackpressure ||
		(t.egressBufferLimit > 0 && t.deferredEgress.Len() >= t.egressBufferLimit) ||
		(t.useFlowControl && t.sendWindow.Available() <= 0)

	if shouldPause == t.handlerEgressPaused || t.inResume {
		return
	}
	t.handlerEgressPaused = shouldPause
	if shouldPause {
		t.handler.OnEgressPaused()
	} else {
		t.inResume = true
		t.handler.OnEgressResumed()
		t.inResume = false
	}
}

// ---------------------------------------------------------------------
// Window updates from the peer
// ---------------------------------------------------------------------

// OnSendWindowUpdate applies a WINDOW_UPDATE-style credit increase to the
// send window, releasing buffered egress bytes if any are blocked on it.
func (t *Transaction) OnSendWindowUpdate(delta int32) error {
	var release = t.guard.acquire()
	defer release()
	if !t.useFlowControl || t.aborted {
		return nil
	}
	t.sendWindow.Free(int64(delta))
	t.recomputeEgressPause()
	if !t.deferredEgress.Empty() {
		t.markPendingEgress()
	}
	return nil
}

// OnRecvWindowSetCapacity applies a SETTINGS-style capacity change to the
// recv window (eg a peer advertising a new initial window size).
func (t *Transaction) OnRecvWindowSetCapacity(capacity int32) error {
	var release = t.guard.acquire()
	defer release()
	if !t.useFlowControl {
		return nil
	}
	if err := t.recvWindow.SetCapacity(int64(capacity)); err != nil {
		return t.failIngress(err.(*TxnError))
	}
	return nil
}

// AcknowledgeIngressBody releases n bytes of recv-window credit back to
// the peer via a window update, called once the handler has actually
// consumed (not just received) that many bytes.
func (t *Transaction) AcknowledgeIngressBody(n int) error {
	var release = t.guard.acquire()
	defer release()
	if !t.useFlowControl || t.aborted {
		return nil
	}
	t.recvWindow.Free(int64(n))
	var _, err = t.transport.SendWindowUpdate(t, int32(n))
	if err != nil {
		return t.failIngress(newTransportError(DirectionIngress, err))
	}
	return nil
}

// ---------------------------------------------------------------------
// Timeout (§4.6 "Timeout")
// ---------------------------------------------------------------------

func (t *Transaction) refreshTimer() {
	if t.timer == nil || t.idleTimeout <= 0 {
		return
	}
	t.cancelTimer()
	t.timerHandle = t.timer.Schedule(t.idleTimeout, t.onIdleTimeout)
}

func (t *Transaction) cancelTimer() {
	if t.timerHandle != nil {
		t.timerHandle.Cancel()
		t.timerHandle = nil
	}
}

func (t *Transaction) onIdleTimeout() {
	var release = t.guard.acquire()
	defer release()
	if t.aborted || t.detached {
		return
	}
	t.log.Warn("idle timeout")
	t.handler.OnError(newTimeoutError(DirectionIngress))
	t.transport.TransactionTimeout(t)
	t.sendAbortLocked(Cancel)
}

// ---------------------------------------------------------------------
// Error propagation and abort (§4.6 "Abort semantics", §7)
// ---------------------------------------------------------------------

func (t *Transaction) failIngress(err *TxnError) error {
	return t.fail(err)
}

func (t *Transaction) failEgress(err *TxnError) error {
	return t.fail(err)
}

// fail implements the §7 propagation policy for protocol/resource errors:
// emit on_error, send an abort to the transport, pin both state machines,
// schedule detach. The transport abort is sent even when egress has
// already reached SendingDone.
func (t *Transaction) fail(err *TxnError) error {
	if t.aborted {
		return nil
	}
	t.log.WithError(err).Warn("transaction failed")
	if t.shouldNotifyError(err) {
		t.handler.OnError(err)
	}
	t.sendAbortLocked(err.Code)
	return err
}

// SendAbort is the handler-facing entry point for §4.6's send_abort. It
// returns the first error encountered tearing down this transaction or any
// of its pushed/ex sub-transactions.
func (t *Transaction) SendAbort(code ErrorCode) error {
	var release = t.guard.acquire()
	defer release()
	return t.sendAbortLocked(code)
}

// sendAbortLocked performs the abort sequence; callers must already hold
// a destructionGuard acquisition.
func (t *Transaction) sendAbortLocked(code ErrorCode) error {
	if t.aborted {
		return nil
	}
	t.aborted = true
	t.cancelTimer()
	t.deferredIngress = nil
	t.deferredEgress = NewDeferredEgressBuffer(t.egressBodyBytesCommitted)
	t.pendingTrailers = nil

	t.ingress.state = IngressReceivingDone
	t.egress.state = EgressSendingDone

	var transportErr error
	if t.transport != nil {
		_, transportErr = t.transport.SendAbort(t, code)
	}

	var cascadeErr = t.cascadeAbort(code)
	t.checkDetach()

	if transportErr != nil {
		return transportErr
	}
	return cascadeErr
}

// checkDetach implements §3's detach invariant: both state machines
// terminal, no pending byte events, detach exactly once.
func (t *Transaction) checkDetach() {
	if t.detached {
		return
	}
	if !t.ingress.State().IsTerminal() || !t.egress.State().IsTerminal() {
		return
	}
	if t.pendingByteEvents != 0 {
		return
	}
	t.guard.markDeleting(t.doDetach)
}

func (t *Transaction) doDetach() {
	if t.detached {
		return
	}
	t.detached = true
	if t.pq != nil {
		t.pq.Remove(t.priorityHandle)
	}
	t.handler.DetachTransaction()
	if t.transport != nil {
		t.transport.Detach(t)
	}
}

// ---------------------------------------------------------------------
// Delivery tracking (pending_byte_events)
// ---------------------------------------------------------------------

// BeginByteEvent increments the outstanding delivery-tracking counter;
// must be paired with EndByteEvent. Detach is held back while any byte
// event is outstanding (§3 invariant).
func (t *Transaction) BeginByteEvent() {
	var release = t.guard.acquire()
	defer release()
	t.pendingByteEvents++
}

// EndByteEvent decrements the outstanding delivery-tracking counter and
// re-checks the detach condition.
func (t *Transaction) EndByteEvent() {
	var release = t.guard.acquire()
	defer release()
	if t.pendingByteEvents > 0 {
		t.pendingByteEvents--
	}
	t.checkDetach()
}

// ---------------------------------------------------------------------
// Priority (§4.6 "Priority")
// ---------------------------------------------------------------------

// UpdateAndSendPriority updates local priority and emits a priority frame,
// unless p is unchanged from the current priority (§8 round-trip property).
func (t *Transaction) UpdateAndSendPriority(p Priority) error {
	var release = t.guard.acquire()
	defer release()
	if t.aborted {
		return nil
	}
	if p.Equal(t.priority) {
		return nil
	}
	t.priority = p
	if t.pq != nil {
		t.pq.UpdatePriority(t.priorityHandle, p)
	}
	var _, err = t.transport.SendPriority(t, p)
	if err != nil {
		return t.failEgress(newTransportError(DirectionEgress, err))
	}
	return nil
}

// OnPriorityUpdate applies a priority change received from the peer,
// without emitting a frame of our own.
func (t *Transaction) OnPriorityUpdate(p Priority) {
	var release = t.guard.acquire()
	defer release()
	t.priority = p
	if t.pq != nil {
		t.pq.UpdatePriority(t.priorityHandle, p)
	}
}

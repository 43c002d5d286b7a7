package txn

import (
	"net"
	"net/http"
	"time"
)

// Headers is the wire-agnostic representation of an HTTP header block.
// http.Header is reused rather than inventing a parallel multimap type:
// it's the one representation every HTTP/1.x, HTTP/2, and HTTP/3 codec in
// the Go ecosystem already converges on at the point headers cross into
// application-facing code.
type Headers = http.Header

// StreamID is the opaque per-session stream identifier assigned by the
// session. Its numeric parity encodes whether the stream was locally or
// remotely initiated, per the codec's own convention (eg HTTP/2 odd/even).
type StreamID uint64

// Direction (of Transaction initiation, not of an error) distinguishes a
// transaction that represents an outbound request this process issued
// (Upstream) from one representing an inbound request this process is
// answering (Downstream).
type TxnDirection int

const (
	Downstream TxnDirection = iota
	Upstream
)

func (d TxnDirection) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Transport is the codec-facing collaborator consumed by a Transaction.
// All methods are non-blocking; the core never waits on a Transport call
// to return anything but an immediate accept/reject of the write.
type Transport interface {
	PauseIngress(t *Transaction)
	ResumeIngress(t *Transaction)
	TransactionTimeout(t *Transaction)
	Detach(t *Transaction)

	SendHeaders(t *Transaction, headers Headers, statusCode int, eom bool) (bytesWritten int, err error)
	SendBody(t *Transaction, body []byte, eom bool, trackLastByte bool) (bytesWritten int, err error)
	SendChunkHeader(t *Transaction, length int) (bytesWritten int, err error)
	SendChunkTerminator(t *Transaction) (bytesWritten int, err error)
	SendEOM(t *Transaction, trailers Headers) (bytesWritten int, err error)
	SendAbort(t *Transaction, code ErrorCode) (bytesWritten int, err error)
	SendPriority(t *Transaction, p Priority) (bytesWritten int, err error)
	SendWindowUpdate(t *Transaction, delta int32) (bytesWritten int, err error)

	NotifyPendingEgress()
	NotifyIngressBodyProcessed(n int)
	NotifyEgressBodyBuffered(n int)

	GetCodec() string
	GetLocalAddress() net.Addr
	GetPeerAddress() net.Addr
	IsDraining() bool
	IsReplaySafe() bool
}

// PeekConsumeTransport is an optional Transport capability for codecs that
// can expose unconsumed ingress body bytes without buffering them as
// HTTPEvents. A Transaction calling Peek/Consume against a Transport which
// doesn't implement this interface gets ErrUnsupportedOperation back.
type PeekConsumeTransport interface {
	Peek(cb func([]byte)) error
	Consume(n int) error
}

// PartialReliabilityTransport is an optional Transport capability for
// codecs (eg HTTP/3 datagram-adjacent extensions) that can skip or reject
// body ranges by offset rather than delivering every byte.
type PartialReliabilityTransport interface {
	SkipBodyTo(t *Transaction, offset int64) error
	RejectBodyTo(t *Transaction, offset int64) error
}

// DeliveryTrackingTransport is an optional Transport capability letting the
// core learn when egress bytes have actually left the machine (as opposed
// to merely being handed to the transport), used to debit
// pending_byte_events precisely.
type DeliveryTrackingTransport interface {
	TrackEgressBodyDelivery(offset int64) error
}

// Timer is the wheel-timer collaborator. The core never implements timer
// wheels itself (§1 Non-goals); it only schedules and cancels callbacks.
type Timer interface {
	Schedule(d time.Duration, cb func()) TimerHandle
}

// TimerHandle cancels a scheduled callback. Cancel is a no-op if the
// callback already fired or was already cancelled.
type TimerHandle interface {
	Cancel()
}

// Handler is the application-facing collaborator a Transaction drives.
// Ingress callbacks are delivered in the exact order the corresponding
// events arrived from the codec (§5 Ordering guarantees). A Handler
// unable to represent a given optional callback is expected to no-op it;
// RecordingHandler (txntest) implements every callback by recording it.
type Handler interface {
	// SetTransaction is called exactly once, before any other callback,
	// giving the handler its (weak) back-reference.
	SetTransaction(t *Transaction)

	OnHeadersComplete(headers Headers, statusCode int)
	OnBody(data []byte)
	OnBodyWithOffset(offset int64, data []byte)
	OnChunkHeader(length int)
	OnChunkComplete()
	OnTrailers(trailers Headers)
	OnEOM()
	OnUpgrade(protocol string)

	OnError(err *TxnError)
	OnGoaway(code ErrorCode)

	OnEgressPaused()
	OnEgressResumed()

	OnPushedTransaction(pushed *Transaction)
	OnExTransaction(ex *Transaction)

	OnUnframedBodyStarted()
	OnBodyPeek(offset int64, data []byte)
	OnBodySkipped(offset int64)
	OnBodyRejected(offset int64)

	// DetachTransaction is the single terminal callback every Transaction
	// delivers exactly once, after both state machines are terminal and
	// pending_byte_events has reached zero.
	DetachTransaction()
}

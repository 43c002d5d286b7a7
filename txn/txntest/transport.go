// Package txntest provides in-memory fakes for the collaborator
// interfaces in package txn (Transport, Handler, Timer, PriorityQueue),
// so that state-machine and flow-control behavior can be exercised without
// a real codec or network connection.
package txntest

import (
	"net"
	"sync"

	"go.htxn.dev/core/txn"
)

// WriteRecord captures one call the Transaction made against a FakeTransport.
type WriteRecord struct {
	Kind        string // "headers", "body", "chunkHeader", "chunkTerminator", "eom", "abort", "priority", "windowUpdate"
	Headers     txn.Headers
	StatusCode  int
	Body        []byte
	EOM         bool
	ChunkLength int
	Trailers    txn.Headers
	ErrorCode   txn.ErrorCode
	Priority    txn.Priority
	WindowDelta int32
}

// FakeTransport is a Transport that records every call instead of writing
// to a wire, and lets a test script write failures (SendErr) and peek/
// consume/partial-reliability behavior.
type FakeTransport struct {
	mu sync.Mutex

	Codec        string
	Local, Peer  net.Addr
	Draining     bool
	ReplaySafe   bool

	Records []WriteRecord

	PausedCount, ResumedCount, TimeoutCount, DetachCount int

	IngressBodyProcessed int
	EgressBodyBuffered   int
	PendingEgressCalls   int

	// SendErr, if non-nil, is returned by every Send* method, simulating a
	// transport-level write failure.
	SendErr error

	// PeekData, if set, is handed to the callback passed to Peek.
	PeekData []byte
	// SkipOffset/RejectOffset record the last PartialReliability call.
	SkipOffset, RejectOffset int64
}

// NewFakeTransport returns a FakeTransport with a plausible default codec
// name and loopback addresses.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Codec: "fake/1.1",
		Local: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080},
		Peer:  &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9090},
	}
}

func (f *FakeTransport) record(r WriteRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Records = append(f.Records, r)
}

func (f *FakeTransport) PauseIngress(t *txn.Transaction)      { f.PausedCount++ }
func (f *FakeTransport) ResumeIngress(t *txn.Transaction)     { f.ResumedCount++ }
func (f *FakeTransport) TransactionTimeout(t *txn.Transaction) { f.TimeoutCount++ }
func (f *FakeTransport) Detach(t *txn.Transaction)            { f.DetachCount++ }

func (f *FakeTransport) SendHeaders(t *txn.Transaction, headers txn.Headers, statusCode int, eom bool) (int, error) {
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	f.record(WriteRecord{Kind: "headers", Headers: headers, StatusCode: statusCode, EOM: eom})
	return 0, nil
}

func (f *FakeTransport) SendBody(t *txn.Transaction, body []byte, eom bool, trackLastByte bool) (int, error) {
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	var cp = append([]byte(nil), body...)
	f.record(WriteRecord{Kind: "body", Body: cp, EOM: eom})
	return len(body), nil
}

func (f *FakeTransport) SendChunkHeader(t *txn.Transaction, length int) (int, error) {
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	f.record(WriteRecord{Kind: "chunkHeader", ChunkLength: length})
	return 0, nil
}

func (f *FakeTransport) SendChunkTerminator(t *txn.Transaction) (int, error) {
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	f.record(WriteRecord{Kind: "chunkTerminator"})
	return 0, nil
}

func (f *FakeTransport) SendEOM(t *txn.Transaction, trailers txn.Headers) (int, error) {
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	f.record(WriteRecord{Kind: "eom", Trailers: trailers})
	return 0, nil
}

func (f *FakeTransport) SendAbort(t *txn.Transaction, code txn.ErrorCode) (int, error) {
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	f.record(WriteRecord{Kind: "abort", ErrorCode: code})
	return 0, nil
}

func (f *FakeTransport) SendPriority(t *txn.Transaction, p txn.Priority) (int, error) {
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	f.record(WriteRecord{Kind: "priority", Priority: p})
	return 0, nil
}

func (f *FakeTransport) SendWindowUpdate(t *txn.Transaction, delta int32) (int, error) {
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	f.record(WriteRecord{Kind: "windowUpdate", WindowDelta: delta})
	return 0, nil
}

func (f *FakeTransport) NotifyPendingEgress()              { f.PendingEgressCalls++ }
func (f *FakeTransport) NotifyIngressBodyProcessed(n int)  { f.IngressBodyProcessed += n }
func (f *FakeTransport) NotifyEgressBodyBuffered(n int)    { f.EgressBodyBuffered += n }

func (f *FakeTransport) GetCodec() string          { return f.Codec }
func (f *FakeTransport) GetLocalAddress() net.Addr { return f.Local }
func (f *FakeTransport) GetPeerAddress() net.Addr  { return f.Peer }
func (f *FakeTransport) IsDraining() bool          { return f.Draining }
func (f *FakeTransport) IsReplaySafe() bool        { return f.ReplaySafe }

// Peek implements txn.PeekConsumeTransport.
func (f *FakeTransport) Peek(cb func([]byte)) error {
	cb(f.PeekData)
	return nil
}

// Consume implements txn.PeekConsumeTransport.
func (f *FakeTransport) Consume(n int) error {
	if n <= len(f.PeekData) {
		f.PeekData = f.PeekData[n:]
	}
	return nil
}

// SkipBodyTo implements txn.PartialReliabilityTransport.
func (f *FakeTransport) SkipBodyTo(t *txn.Transaction, offset int64) error {
	f.SkipOffset = offset
	return nil
}

// RejectBodyTo implements txn.PartialReliabilityTransport.
func (f *FakeTransport) RejectBodyTo(t *txn.Transaction, offset int64) error {
	f.RejectOffset = offset
	return nil
}

var (
	_ txn.Transport                   = (*FakeTransport)(nil)
	_ txn.PeekConsumeTransport        = (*FakeTransport)(nil)
	_ txn.PartialReliabilityTransport = (*FakeTransport)(nil)
)

package txntest

import (
	"sync"

	"go.htxn.dev/core/txn"
)

// CallRecord captures one Handler callback invocation, flattened to a
// single struct so tests can assert on call order with testify's
// ElementsMatch/Equal rather than juggling N separate counters.
type CallRecord struct {
	Method     string
	Headers    txn.Headers
	StatusCode int
	Body       []byte
	Offset     int64
	ChunkLen   int
	Trailers   txn.Headers
	Protocol   string
	Err        *txn.TxnError
	Code       txn.ErrorCode
	Pushed     *txn.Transaction
	Ex         *txn.Transaction
}

// RecordingHandler is a txn.Handler that appends every callback to Calls
// in order, for tests that assert on ordering and payloads. Ingress is
// auto-resumed by default; set PauseOnHeaders etc. to exercise pause/resume.
type RecordingHandler struct {
	mu    sync.Mutex
	Calls []CallRecord

	Txn *txn.Transaction

	PauseOnHeaders bool
}

func NewRecordingHandler() *RecordingHandler { return &RecordingHandler{} }

func (h *RecordingHandler) record(c CallRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, c)
}

// CallsNamed returns the Method names of every recorded call, in order.
func (h *RecordingHandler) CallsNamed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names = make([]string, len(h.Calls))
	for i, c := range h.Calls {
		names[i] = c.Method
	}
	return names
}

func (h *RecordingHandler) SetTransaction(t *txn.Transaction) {
	h.Txn = t
	h.record(CallRecord{Method: "SetTransaction"})
}

func (h *RecordingHandler) OnHeadersComplete(headers txn.Headers, statusCode int) {
	h.record(CallRecord{Method: "OnHeadersComplete", Headers: headers, StatusCode: statusCode})
	if h.PauseOnHeaders {
		h.Txn.PauseIngress()
	}
}

func (h *RecordingHandler) OnBody(data []byte) {
	h.record(CallRecord{Method: "OnBody", Body: append([]byte(nil), data...)})
}

func (h *RecordingHandler) OnBodyWithOffset(offset int64, data []byte) {
	h.record(CallRecord{Method: "OnBodyWithOffset", Offset: offset, Body: append([]byte(nil), data...)})
}

func (h *RecordingHandler) OnChunkHeader(length int) {
	h.record(CallRecord{Method: "OnChunkHeader", ChunkLen: length})
}

func (h *RecordingHandler) OnChunkComplete() {
	h.record(CallRecord{Method: "OnChunkComplete"})
}

func (h *RecordingHandler) OnTrailers(trailers txn.Headers) {
	h.record(CallRecord{Method: "OnTrailers", Trailers: trailers})
}

func (h *RecordingHandler) OnEOM() {
	h.record(CallRecord{Method: "OnEOM"})
}

func (h *RecordingHandler) OnUpgrade(protocol string) {
	h.record(CallRecord{Method: "OnUpgrade", Protocol: protocol})
}

func (h *RecordingHandler) OnError(err *txn.TxnError) {
	h.record(CallRecord{Method: "OnError", Err: err})
}

func (h *RecordingHandler) OnGoaway(code txn.ErrorCode) {
	h.record(CallRecord{Method: "OnGoaway", Code: code})
}

func (h *RecordingHandler) OnEgressPaused() {
	h.record(CallRecord{Method: "OnEgressPaused"})
}

func (h *RecordingHandler) OnEgressResumed() {
	h.record(CallRecord{Method: "OnEgressResumed"})
}

func (h *RecordingHandler) OnPushedTransaction(pushed *txn.Transaction) {
	h.record(CallRecord{Method: "OnPushedTransaction", Pushed: pushed})
}

func (h *RecordingHandler) OnExTransaction(ex *txn.Transaction) {
	h.record(CallRecord{Method: "OnExTransaction", Ex: ex})
}

func (h *RecordingHandler) OnUnframedBodyStarted() {
	h.record(CallRecord{Method: "OnUnframedBodyStarted"})
}

func (h *RecordingHandler) OnBodyPeek(offset int64, data []byte) {
	h.record(CallRecord{Method: "OnBodyPeek", Offset: offset, Body: append([]byte(nil), data...)})
}

func (h *RecordingHandler) OnBodySkipped(offset int64) {
	h.record(CallRecord{Method: "OnBodySkipped", Offset: offset})
}

func (h *RecordingHandler) OnBodyRejected(offset int64) {
	h.record(CallRecord{Method: "OnBodyRejected", Offset: offset})
}

func (h *RecordingHandler) DetachTransaction() {
	h.record(CallRecord{Method: "DetachTransaction"})
}

var _ txn.Handler = (*RecordingHandler)(nil)

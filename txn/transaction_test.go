package txn_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.htxn.dev/core/txn"
	"go.htxn.dev/core/txn/txntest"
)

func newHarness(opts txn.Options) (*txn.Transaction, *txntest.FakeTransport, *txntest.RecordingHandler, *txntest.FakePriorityQueue, *txntest.FakeTimer) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var tx = txn.New(1, txn.Downstream, transport, handler, pq, timer, opts)
	return tx, transport, handler, pq, timer
}

func TestSimpleDownstreamGET(t *testing.T) {
	var tx, transport, handler, pq, _ = newHarness(txn.DefaultOptions())

	require.NoError(t, tx.OnHeaders(txn.Headers{":method": {"GET"}, ":path": {"/"}}, 0))
	require.NoError(t, tx.OnEOM())

	require.NoError(t, tx.SendHeaders(txn.Headers{"Content-Type": {"text/plain"}}, 200))
	require.NoError(t, tx.SendBody([]byte("hello")))
	require.NoError(t, tx.SendEOM())

	// Only the headers should have reached the transport yet: send_body never
	// writes synchronously, only the scheduler's onWriteReady does.
	assert.Len(t, transport.Records, 1)

	pq.RunAll(1 << 20)

	// The body write rides the EOM flag since it's the only remaining
	// segment and there are no trailers, so no separate "eom" record.
	require.Len(t, transport.Records, 2)
	assert.Equal(t, "headers", transport.Records[0].Kind)
	assert.Equal(t, 200, transport.Records[0].StatusCode)
	assert.Equal(t, "body", transport.Records[1].Kind)
	assert.Equal(t, []byte("hello"), transport.Records[1].Body)
	assert.True(t, transport.Records[1].EOM)

	assert.Equal(t, []string{
		"SetTransaction", "OnHeadersComplete", "OnEOM", "DetachTransaction",
	}, handler.CallsNamed())
	assert.Equal(t, 1, transport.DetachCount)
}

func TestChunkedResponseWithTrailers(t *testing.T) {
	var tx, transport, _, pq, _ = newHarness(txn.DefaultOptions())

	require.NoError(t, tx.OnHeaders(txn.Headers{":method": {"GET"}, ":path": {"/"}}, 0))
	require.NoError(t, tx.OnEOM())

	require.NoError(t, tx.SendHeaders(txn.Headers{}, 200))
	require.NoError(t, tx.SendChunkHeader(5))
	require.NoError(t, tx.SendBody([]byte("hello")))
	require.NoError(t, tx.SendChunkTerminator())
	require.NoError(t, tx.SendTrailers(txn.Headers{"X-Trailer": {"ok"}}))
	require.NoError(t, tx.SendEOM())

	pq.RunAll(1 << 20)

	var kinds []string
	for _, r := range transport.Records {
		kinds = append(kinds, r.Kind)
	}
	assert.Equal(t, []string{"headers", "chunkHeader", "body", "chunkTerminator", "eom"}, kinds)
	assert.Equal(t, txn.Headers{"X-Trailer": {"ok"}}, transport.Records[4].Trailers)
}

func TestFlowControlledStallAndResume(t *testing.T) {
	var opts = txn.DefaultOptions()
	opts.UseFlowControl = true
	opts.SendInitialWindow = 4
	var tx, transport, handler, pq, _ = newHarness(opts)

	require.NoError(t, tx.OnHeaders(txn.Headers{":method": {"GET"}, ":path": {"/"}}, 0))
	require.NoError(t, tx.OnEOM())

	require.NoError(t, tx.SendHeaders(txn.Headers{}, 200))
	require.NoError(t, tx.SendBody([]byte("0123456789")))
	require.NoError(t, tx.SendEOM())

	pq.RunAll(1 << 20)

	// Only the 4 bytes the send window allowed should have gone out; EOM is
	// held back since the buffer isn't drained, and the handler sees paused.
	require.Len(t, transport.Records, 2)
	assert.Equal(t, []byte("0123"), transport.Records[1].Body)
	assert.False(t, transport.Records[1].EOM)
	assert.Contains(t, handler.CallsNamed(), "OnEgressPaused")

	// Window.Free caps available credit at capacity, so each update only
	// releases up to the 4-byte capacity, not the full outstanding amount.
	require.NoError(t, tx.OnSendWindowUpdate(4))
	pq.RunAll(1 << 20)

	require.Len(t, transport.Records, 3)
	assert.Equal(t, []byte("4567"), transport.Records[2].Body)
	assert.False(t, transport.Records[2].EOM)

	require.NoError(t, tx.OnSendWindowUpdate(4))
	pq.RunAll(1 << 20)

	require.Len(t, transport.Records, 4)
	assert.Equal(t, []byte("89"), transport.Records[3].Body)
	assert.True(t, transport.Records[3].EOM)
	assert.Contains(t, handler.CallsNamed(), "OnEgressResumed")
}

func TestProtocolViolationBodyBeforeHeaders(t *testing.T) {
	var tx, _, handler, _, _ = newHarness(txn.DefaultOptions())

	var err = tx.OnBody([]byte("oops"))
	require.Error(t, err)

	var txnErr, ok = err.(*txn.TxnError)
	require.True(t, ok)
	assert.Equal(t, txn.KindProtocol, txnErr.Kind)
	assert.Equal(t, txn.DirectionIngress, txnErr.Direction)

	assert.True(t, tx.Aborted())
	assert.Contains(t, handler.CallsNamed(), "OnError")
}

func TestIdleTimeoutDuringIngressBody(t *testing.T) {
	var opts = txn.DefaultOptions()
	opts.IdleTimeout = 10 * time.Second
	var tx, transport, handler, _, timer = newHarness(opts)

	require.NoError(t, tx.OnHeaders(txn.Headers{":method": {"POST"}, ":path": {"/"}}, 0))
	timer.Advance(9 * time.Second)
	require.NoError(t, tx.OnBody([]byte("still alive")))

	timer.Advance(10 * time.Second)

	assert.True(t, tx.Aborted())
	assert.Equal(t, 1, transport.TimeoutCount)
	assert.Contains(t, handler.CallsNamed(), "OnError")
}

func TestOnBodyExceedingRecvWindowIsFlowControlError(t *testing.T) {
	var opts = txn.DefaultOptions()
	opts.UseFlowControl = true
	opts.RecvInitialWindow = 4
	var tx, _, handler, _, _ = newHarness(opts)

	require.NoError(t, tx.OnHeaders(txn.Headers{":method": {"POST"}, ":path": {"/"}}, 0))

	var err = tx.OnBody([]byte("toolong"))
	require.Error(t, err)

	var txnErr, ok = err.(*txn.TxnError)
	require.True(t, ok)
	assert.Equal(t, txn.KindProtocol, txnErr.Kind)
	assert.Equal(t, txn.FlowControlError, txnErr.Code)
	assert.Equal(t, txn.DirectionIngress, txnErr.Direction)

	assert.True(t, tx.Aborted(), "a peer that overruns the advertised recv window is aborted, not silently absorbed")
	assert.Contains(t, handler.CallsNamed(), "OnError")
}

func TestDeferredIngressOverflowIsResourceErrorEvenWithFlowControl(t *testing.T) {
	var opts = txn.DefaultOptions()
	opts.UseFlowControl = true
	opts.RecvInitialWindow = 1 << 20
	opts.MaxDeferredIngress = 4
	var tx, _, handler, _, _ = newHarness(opts)

	require.NoError(t, tx.OnHeaders(txn.Headers{":method": {"POST"}, ":path": {"/"}}, 0))
	tx.PauseIngress()

	var err = tx.OnBody([]byte("toolong"))
	require.Error(t, err)

	var txnErr, ok = err.(*txn.TxnError)
	require.True(t, ok)
	assert.Equal(t, txn.KindResource, txnErr.Kind)
	assert.Equal(t, txn.DirectionIngress, txnErr.Direction)

	assert.True(t, tx.Aborted(), "an event that can't be buffered must not be silently dropped")
	assert.Contains(t, handler.CallsNamed(), "OnError")
}

func TestContentLengthOverrunAfterExactFulfillmentIsDetected(t *testing.T) {
	var tx, _, handler, _, _ = newHarness(txn.DefaultOptions())

	require.NoError(t, tx.OnHeaders(txn.Headers{":method": {"POST"}, ":path": {"/"}, "Content-Length": {"10"}}, 0))
	require.NoError(t, tx.OnBody([]byte("0123456789"))) // exactly fulfills content-length
	require.NoError(t, tx.OnBody([]byte("extra")))      // peer keeps sending anyway

	var err = tx.OnEOM()
	require.Error(t, err)

	var txnErr, ok = err.(*txn.TxnError)
	require.True(t, ok)
	assert.Equal(t, txn.KindProtocol, txnErr.Kind)
	assert.True(t, tx.Aborted(), "bytes sent past a fulfilled content-length must not be silently absorbed")
	assert.Contains(t, handler.CallsNamed(), "OnError")
}

func TestOnSendWindowUpdateIgnoredWithoutFlowControl(t *testing.T) {
	var tx, _, _, _, _ = newHarness(txn.DefaultOptions())
	assert.NoError(t, tx.OnSendWindowUpdate(100))
}

package txn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.htxn.dev/core/txn"
	"go.htxn.dev/core/txn/txntest"
)

func TestPushedTransactionCascadeAbort(t *testing.T) {
	var parentTransport = txntest.NewFakeTransport()
	var parentHandler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var parent = txn.New(1, txn.Downstream, parentTransport, parentHandler, pq, timer, txn.DefaultOptions())

	require.NoError(t, parent.OnHeaders(txn.Headers{":method": {"GET"}}, 0))
	require.NoError(t, parent.OnEOM())
	require.NoError(t, parent.SendHeaders(txn.Headers{}, 200))

	var pushedTransport = txntest.NewFakeTransport()
	var pushedHandler = txntest.NewRecordingHandler()
	var pushed, err = txn.NewPushedTransaction(2, parent, pushedTransport, pushedHandler, pq, timer, txn.DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, pushed)

	assert.Contains(t, parentHandler.CallsNamed(), "OnPushedTransaction")

	require.NoError(t, parent.SendAbort(txn.Cancel))

	require.Len(t, pushedTransport.Records, 1)
	assert.Equal(t, "abort", pushedTransport.Records[0].Kind)
	assert.Equal(t, txn.Cancel, pushedTransport.Records[0].ErrorCode)
	assert.True(t, pushed.Aborted())
}

func TestNewPushedTransactionRejectsUpstreamParent(t *testing.T) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var parent = txn.New(1, txn.Upstream, transport, handler, pq, timer, txn.DefaultOptions())

	var _, err = txn.NewPushedTransaction(2, parent, transport, handler, pq, timer, txn.DefaultOptions())
	assert.Error(t, err)
}

func TestNewPushedTransactionRejectsAfterEgressEOMQueued(t *testing.T) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var parent = txn.New(1, txn.Downstream, transport, handler, pq, timer, txn.DefaultOptions())

	require.NoError(t, parent.SendHeadersWithEOM(txn.Headers{}, 204))

	var _, err = txn.NewPushedTransaction(2, parent, transport, handler, pq, timer, txn.DefaultOptions())
	assert.Error(t, err)
}

func TestNewPushedTransactionRejectsUnderPartialReliability(t *testing.T) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var parent = txn.New(1, txn.Downstream, transport, handler, pq, timer, txn.DefaultOptions())

	require.NoError(t, parent.SendHeaders(txn.Headers{}, 200))
	var _, skipErr = parent.SkipBodyTo(0)
	require.NoError(t, skipErr)

	var _, err = txn.NewPushedTransaction(2, parent, transport, handler, pq, timer, txn.DefaultOptions())
	assert.Error(t, err)
}

func TestExTransactionUnidirectionalErrorFiltering(t *testing.T) {
	var parentTransport = txntest.NewFakeTransport()
	var parentHandler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var parent = txn.New(1, txn.Downstream, parentTransport, parentHandler, pq, timer, txn.DefaultOptions())

	var exTransport = txntest.NewFakeTransport()
	var exHandler = txntest.NewRecordingHandler()
	var attrs = txn.ExAttributes{Unidirectional: true, RemotelyInitiated: true}
	var ex = txn.NewExTransaction(2, parent, txn.Downstream, attrs, exTransport, exHandler, pq, timer, txn.DefaultOptions())

	// RemotelyInitiated+Unidirectional pins egress terminal at construction,
	// so ingress is the active direction; an egress-tagged error must not
	// reach the handler.
	require.Error(t, ex.SendHeaders(txn.Headers{}, 200))
	assert.NotContains(t, exHandler.CallsNamed(), "OnError",
		"an egress error on a remotely-initiated unidirectional ex-transaction is off its active direction")
}

func TestExTransactionBidirectionalSurfacesAllErrors(t *testing.T) {
	var parentTransport = txntest.NewFakeTransport()
	var parentHandler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var parent = txn.New(1, txn.Downstream, parentTransport, parentHandler, pq, timer, txn.DefaultOptions())

	var exTransport = txntest.NewFakeTransport()
	var exHandler = txntest.NewRecordingHandler()
	var ex = txn.NewExTransaction(2, parent, txn.Downstream, txn.ExAttributes{}, exTransport, exHandler, pq, timer, txn.DefaultOptions())

	var err = ex.OnBody([]byte("oops"))
	require.Error(t, err)
	assert.Contains(t, exHandler.CallsNamed(), "OnError")
}

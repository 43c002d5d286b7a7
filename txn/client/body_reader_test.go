package client_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.htxn.dev/core/txn"
	"go.htxn.dev/core/txn/client"
	"go.htxn.dev/core/txn/txntest"
)

func TestBodyReaderBlocksUntilDataArrives(t *testing.T) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var tx = txn.New(1, txn.Downstream, transport, handler, pq, timer, txn.DefaultOptions())

	var r = client.NewBodyReader(tx, 0)

	var done = make(chan struct{})
	var buf [5]byte
	var n int
	var err error
	go func() {
		n, err = r.Read(buf[:])
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before any data was delivered")
	case <-time.After(20 * time.Millisecond):
	}

	r.Deliver([]byte("hello"))
	<-done

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestBodyReaderEndSignalsEOF(t *testing.T) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var tx = txn.New(1, txn.Downstream, transport, handler, pq, timer, txn.DefaultOptions())

	var r = client.NewBodyReader(tx, 0)
	r.End()

	var buf [5]byte
	var n, err = r.Read(buf[:])
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestBodyReaderPausesIngressAtHighWatermarkAndResumes(t *testing.T) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var tx = txn.New(1, txn.Downstream, transport, handler, pq, timer, txn.DefaultOptions())

	var r = client.NewBodyReader(tx, 10)
	r.Deliver([]byte("0123456789")) // exactly the watermark

	assert.Equal(t, 1, transport.PausedCount)

	var buf [10]byte
	var n, err = r.Read(buf[:])
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 1, transport.ResumedCount, "draining below half the watermark resumes ingress")
}

func TestBodyReaderFailSurfacesError(t *testing.T) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var tx = txn.New(1, txn.Downstream, transport, handler, pq, timer, txn.DefaultOptions())

	var r = client.NewBodyReader(tx, 0)
	r.Fail(assert.AnError)

	var buf [5]byte
	var _, err = r.Read(buf[:])
	assert.Equal(t, assert.AnError, err)
}

func TestBodyReaderDeliverTrailers(t *testing.T) {
	var transport = txntest.NewFakeTransport()
	var handler = txntest.NewRecordingHandler()
	var pq = txntest.NewFakePriorityQueue()
	var timer = txntest.NewFakeTimer()
	var tx = txn.New(1, txn.Downstream, transport, handler, pq, timer, txn.DefaultOptions())

	var r = client.NewBodyReader(tx, 0)
	r.DeliverTrailers(txn.Headers{"X-Trailer": {"ok"}})
	assert.Equal(t, txn.Headers{"X-Trailer": {"ok"}}, r.Trailers())
}

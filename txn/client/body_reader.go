// Package client adapts the async, callback-driven txn.Transaction into
// the synchronous io.Reader/io.Writer idioms Go HTTP client code expects,
// in the same spirit as broker/client.Reader adapting an async gRPC
// streaming RPC into an io.Reader for Go callers.
package client

import (
	"context"
	"io"
	"sync"

	"go.htxn.dev/core/txn"
)

// BodyReader presents a Transaction's ingress body as an io.ReadCloser.
// It's installed as (part of) a txn.Handler: OnBody/OnTrailers/OnEOM/
// OnError feed it, and Read blocks until either data arrives or the
// stream ends. The Transaction is paused whenever the reader's internal
// buffer backs up, so a slow io.Reader caller applies real backpressure
// all the way to the peer.
type BodyReader struct {
	t *txn.Transaction

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	trailers txn.Headers
	err      error
	eof      bool

	highWatermark int
	paused        bool
}

// NewBodyReader returns a BodyReader bound to t. highWatermark bounds how
// many bytes of unread body are buffered before ingress is paused; <= 0
// means 1MiB.
func NewBodyReader(t *txn.Transaction, highWatermark int) *BodyReader {
	if highWatermark <= 0 {
		highWatermark = 1 << 20
	}
	var r = &BodyReader{t: t, highWatermark: highWatermark}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Deliver feeds one ingress body chunk to the reader. Call this from a
// Handler's OnBody (or OnBodyWithOffset, ignoring offset for a reader that
// doesn't need partial-reliability semantics).
func (r *BodyReader) Deliver(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, data...)
	if len(r.buf) >= r.highWatermark && !r.paused {
		r.paused = true
		r.t.PauseIngress()
	}
	r.cond.Broadcast()
}

// DeliverTrailers records trailers observed at OnTrailers, readable via
// Trailers once Read has returned io.EOF.
func (r *BodyReader) DeliverTrailers(trailers txn.Headers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trailers = trailers
}

// End marks the body complete with no further content; call from OnEOM.
func (r *BodyReader) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eof = true
	r.cond.Broadcast()
}

// Close implements io.Closer for callers done reading early; it aborts the
// underlying transaction rather than merely releasing local resources,
// since there's no wire-level way to half-close just the read side.
func (r *BodyReader) Close() error {
	return r.t.SendAbort(txn.Cancel)
}

// Fail marks the body as having ended in error; call from OnError.
func (r *BodyReader) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
	r.cond.Broadcast()
}

// Trailers returns trailers delivered via DeliverTrailers, if any.
func (r *BodyReader) Trailers() txn.Headers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trailers
}

// Read implements io.Reader, blocking until data, EOF, or an error is available.
func (r *BodyReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) == 0 && !r.eof && r.err == nil {
		r.cond.Wait()
	}
	if len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	var n = copy(p, r.buf)
	r.buf = r.buf[n:]
	if r.paused && len(r.buf) < r.highWatermark/2 {
		r.paused = false
		r.t.ResumeIngress()
	}
	return n, nil
}

// ReadAllContext drains the reader to completion or until ctx is done,
// for callers that want the whole body as a single slice.
func ReadAllContext(ctx context.Context, r *BodyReader) ([]byte, error) {
	var done = make(chan struct{})
	var out []byte
	var err error
	go func() {
		out, err = io.ReadAll(r)
		close(done)
	}()
	select {
	case <-done:
		return out, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ io.ReadCloser = (*BodyReader)(nil)

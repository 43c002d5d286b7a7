package client

import (
	"io"

	"go.htxn.dev/core/txn"
)

// BodyWriter presents a Transaction's egress body as an io.WriteCloser.
// Write hands bytes straight to Transaction.SendBody, which buffers and
// flow-controls them; Write itself never blocks on the network, matching
// the core's non-blocking egress contract, but does return the error from
// a synchronous SendBody rejection (eg egress already closed).
type BodyWriter struct {
	t         *txn.Transaction
	trailers  txn.Headers
}

// NewBodyWriter returns a BodyWriter bound to t. Callers are expected to
// have already sent headers via t.SendHeaders.
func NewBodyWriter(t *txn.Transaction) *BodyWriter {
	return &BodyWriter{t: t}
}

// SetTrailers stashes trailers to be sent alongside Close.
func (w *BodyWriter) SetTrailers(trailers txn.Headers) {
	w.trailers = trailers
}

// Write implements io.Writer.
func (w *BodyWriter) Write(p []byte) (int, error) {
	if err := w.t.SendBody(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends trailers (if any, via SendTrailers) and then SendEOM,
// implementing io.Closer.
func (w *BodyWriter) Close() error {
	if w.trailers != nil {
		if err := w.t.SendTrailers(w.trailers); err != nil {
			return err
		}
	}
	return w.t.SendEOM()
}

var _ io.WriteCloser = (*BodyWriter)(nil)

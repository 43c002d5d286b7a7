package txn

import "time"

// Options configure a Transaction at construction. All fields are
// optional; DefaultOptions returns the documented defaults from §6.
type Options struct {
	// UseFlowControl enables recv/send Windows. Default: false (flow
	// control off; windows are never consulted).
	UseFlowControl bool
	// RecvInitialWindow and SendInitialWindow seed the two Windows when
	// UseFlowControl is true.
	RecvInitialWindow int32
	SendInitialWindow int32
	// MaxDeferredIngress bounds the DeferredIngressQueue, in bytes. <= 0
	// means unbounded.
	MaxDeferredIngress int
	// EgressBufferLimit is the DeferredEgressBuffer length (bytes) at or
	// above which egress is considered backpressured and the handler is paused.
	EgressBufferLimit int
	// IdleTimeout is the duration of inactivity before the idle timer
	// fires. Zero means "use the transport's default" (ie disabled at
	// this layer; the transport is expected to substitute its own).
	IdleTimeout time.Duration
	// Priority is the initial placement in the external priority tree.
	Priority Priority
	// AssocStreamID, if non-nil, marks this Transaction as a pushed
	// transaction associated with the named stream.
	AssocStreamID *StreamID
	// ExAttributes, if non-nil, marks this Transaction as an extended
	// (control-stream-bound) transaction.
	ExAttributes *ExAttributes
	// EgressRateLimitBytesPerMs configures the RateLimiter. <= 0 disables
	// pacing.
	EgressRateLimitBytesPerMs float64
}

// DefaultOptions returns the §6 documented defaults.
func DefaultOptions() Options {
	return Options{
		UseFlowControl:      false,
		RecvInitialWindow:   65535,
		SendInitialWindow:   65535,
		MaxDeferredIngress:  1 << 20,
		EgressBufferLimit:   1 << 20,
		IdleTimeout:         0,
		Priority:            DefaultPriority,
		AssocStreamID:       nil,
		ExAttributes:        nil,
	}
}

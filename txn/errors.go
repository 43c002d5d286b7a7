package txn

import (
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode is the closed enumeration of protocol-level error kinds
// exchanged between peers (RST_STREAM / GOAWAY style codes).
type ErrorCode int

const (
	NoError ErrorCode = iota
	ProtocolError
	InternalError
	FlowControlError
	StreamClosed
	FrameSizeError
	RefusedStream
	Cancel
	CompressionError
	ConnectError
	EnhanceYourCalm
	InadequateSecurity
	HTTP1_1Required
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NoError"
	case ProtocolError:
		return "ProtocolError"
	case InternalError:
		return "InternalError"
	case FlowControlError:
		return "FlowControlError"
	case StreamClosed:
		return "StreamClosed"
	case FrameSizeError:
		return "FrameSizeError"
	case RefusedStream:
		return "RefusedStream"
	case Cancel:
		return "Cancel"
	case CompressionError:
		return "CompressionError"
	case ConnectError:
		return "ConnectError"
	case EnhanceYourCalm:
		return "EnhanceYourCalm"
	case InadequateSecurity:
		return "InadequateSecurity"
	case HTTP1_1Required:
		return "HTTP1_1Required"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// grpcCode maps an ErrorCode onto the nearest gRPC status code. This is used
// only by transports which happen to be gRPC-backed (eg an HTTP/3-over-QUIC
// codec that tunnels through a gRPC-based control plane); plain HTTP/1.x and
// HTTP/2 transports never touch this.
func (c ErrorCode) grpcCode() codes.Code {
	switch c {
	case NoError:
		return codes.OK
	case FlowControlError:
		return codes.ResourceExhausted
	case StreamClosed:
		return codes.FailedPrecondition
	case RefusedStream:
		return codes.Unavailable
	case Cancel:
		return codes.Canceled
	case ConnectError:
		return codes.Unavailable
	case EnhanceYourCalm:
		return codes.ResourceExhausted
	case InadequateSecurity:
		return codes.PermissionDenied
	case HTTP1_1Required:
		return codes.FailedPrecondition
	case ProtocolError, FrameSizeError, CompressionError:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// Direction tags which side(s) of a Transaction an error pertains to.
type Direction int

const (
	DirectionIngress Direction = iota
	DirectionEgress
	DirectionBoth
)

func (d Direction) String() string {
	switch d {
	case DirectionIngress:
		return "INGRESS"
	case DirectionEgress:
		return "EGRESS"
	case DirectionBoth:
		return "BOTH"
	default:
		return "UNKNOWN"
	}
}

// Kind categorizes a TxnError per the §7 error taxonomy, independent of the
// wire-level ErrorCode it's reported with.
type Kind int

const (
	KindProtocol Kind = iota
	KindTransport
	KindTimeout
	KindPeerAbort
	KindResource
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindPeerAbort:
		return "peer_abort"
	case KindResource:
		return "resource"
	case KindUnsupported:
		return "unsupported_operation"
	default:
		return "unknown"
	}
}

// TxnError is the error type surfaced to Handler.OnError and returned from
// Transaction methods that reject a caller's request.
type TxnError struct {
	Kind      Kind
	Code      ErrorCode
	Direction Direction
	Cause     error
}

func (e *TxnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s, %s)", e.Kind, e.Cause, e.Code, e.Direction)
	}
	return fmt.Sprintf("%s (%s, %s)", e.Kind, e.Code, e.Direction)
}

func (e *TxnError) Unwrap() error { return e.Cause }

// GRPCStatus lets *TxnError satisfy interfaces expecting a gRPC status,
// for transports that tunnel through gRPC-based control planes.
func (e *TxnError) GRPCStatus() *status.Status {
	return status.New(e.Code.grpcCode(), e.Error())
}

func newProtocolError(dir Direction, cause error) *TxnError {
	return &TxnError{Kind: KindProtocol, Code: ProtocolError, Direction: dir, Cause: errors.WithStack(cause)}
}

func newTransportError(dir Direction, cause error) *TxnError {
	return &TxnError{Kind: KindTransport, Code: InternalError, Direction: dir, Cause: cause}
}

func newTimeoutError(dir Direction) *TxnError {
	return &TxnError{Kind: KindTimeout, Code: Cancel, Direction: dir, Cause: errors.New("idle timeout")}
}

func newPeerAbortError(dir Direction, code ErrorCode) *TxnError {
	return &TxnError{Kind: KindPeerAbort, Code: code, Direction: dir, Cause: errors.Errorf("peer reset stream: %s", code)}
}

func newResourceError(dir Direction, cause error) *TxnError {
	return &TxnError{Kind: KindResource, Code: EnhanceYourCalm, Direction: dir, Cause: cause}
}

func newFlowControlError(dir Direction, cause error) *TxnError {
	return &TxnError{Kind: KindProtocol, Code: FlowControlError, Direction: dir, Cause: errors.WithStack(cause)}
}

// ErrUnsupportedOperation is returned (not raised as a fatal error) when a
// capability such as partial reliability or peek/consume is invoked against
// a Transport that does not implement the optional interface for it.
var ErrUnsupportedOperation = errors.New("unsupported operation for this codec")

func newUnsupportedOperationError(dir Direction, op string) *TxnError {
	return &TxnError{Kind: KindUnsupported, Code: NoError, Direction: dir, Cause: errors.Wrap(ErrUnsupportedOperation, op)}
}

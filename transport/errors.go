package transport

import "fmt"

// TransportError is the QUIC error code space (RFC 9000 section 20.1),
// plus the internal taxonomy of spec section 7.
type TransportError uint64

// Standard transport error codes.
const (
	NoError                  TransportError = 0x0
	InternalError            TransportError = 0x1
	ConnectionRefused        TransportError = 0x2
	FlowControlError         TransportError = 0x3
	StreamLimitError         TransportError = 0x4
	StreamStateError         TransportError = 0x5
	FinalSizeError           TransportError = 0x6
	FrameEncodingError       TransportError = 0x7
	TransportParameterError TransportError = 0x8
	ConnectionIDLimitError   TransportError = 0x9
	ProtocolViolation        TransportError = 0xa
	InvalidToken             TransportError = 0xb
	ApplicationError         TransportError = 0xc
	CryptoBufferExceeded     TransportError = 0xd
	KeyUpdateError           TransportError = 0xe
	AEADLimitReached         TransportError = 0xf
	NoViablePath             TransportError = 0x10
)

// Non-standard internal codes used for the caller-facing error taxonomy
// of spec section 7; they never appear on the wire.
const (
	BadFormat TransportError = 1<<32 + iota
	NotImplemented
	Closed
	Conflict
)

func (e TransportError) String() string {
	switch e {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalSizeError:
		return "FINAL_SIZE_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case InvalidToken:
		return "INVALID_TOKEN"
	case ApplicationError:
		return "APPLICATION_ERROR"
	case CryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case KeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case AEADLimitReached:
		return "AEAD_LIMIT_REACHED"
	case NoViablePath:
		return "NO_VIABLE_PATH"
	case BadFormat:
		return "BAD_FORMAT"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	case Closed:
		return "CLOSED"
	case Conflict:
		return "CONFLICT"
	default:
		return fmt.Sprintf("ERROR_0x%x", uint64(e))
	}
}

func errorCodeString(e uint64) string {
	return TransportError(e).String()
}

// Error is the error type returned by transport operations. It always
// carries a TransportError code so callers can map it back to a
// CONNECTION_CLOSE error code.
type Error struct {
	Code    TransportError
	Message string
}

func newError(code TransportError, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	errInvalidToken = newError(InvalidToken, "invalid retry token")
	errFlowControl  = newError(FlowControlError, "flow control violation")
	errShortBuffer  = newError(InternalError, "short buffer")
	errClosed       = newError(Closed, "stream closed")
	errStreamReset  = newError(ApplicationError, "stream reset by peer")
)

func sprint(args ...interface{}) string {
	return fmt.Sprint(args...)
}

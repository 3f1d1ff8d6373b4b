package transport

// EventType classifies an Event returned to the application via
// Conn.Events (spec section 4.10). The event queue lets callers learn
// about stream lifecycle changes without polling every stream.
type EventType uint8

const (
	EventNone EventType = iota
	EventStreamRecv
	EventStreamComplete
	EventStreamReset
	EventStreamStop
	EventHandshake
	EventConnClose
)

func (t EventType) String() string {
	switch t {
	case EventStreamRecv:
		return "stream_recv"
	case EventStreamComplete:
		return "stream_complete"
	case EventStreamReset:
		return "stream_reset"
	case EventStreamStop:
		return "stream_stop"
	case EventHandshake:
		return "handshake"
	case EventConnClose:
		return "conn_close"
	default:
		return "none"
	}
}

// Event is a single notification surfaced to the application (spec
// section 4.10).
type Event struct {
	Type      EventType
	StreamID  uint64
	ErrorCode uint64
}

func newStreamRecvEvent(id uint64) Event {
	return Event{Type: EventStreamRecv, StreamID: id}
}

func newStreamCompleteEvent(id uint64) Event {
	return Event{Type: EventStreamComplete, StreamID: id}
}

func newStreamResetEvent(id, code uint64) Event {
	return Event{Type: EventStreamReset, StreamID: id, ErrorCode: code}
}

func newStreamStopEvent(id, code uint64) Event {
	return Event{Type: EventStreamStop, StreamID: id, ErrorCode: code}
}

func newHandshakeEvent() Event {
	return Event{Type: EventHandshake}
}

func newConnCloseEvent(code uint64) Event {
	return Event{Type: EventConnClose, ErrorCode: code}
}

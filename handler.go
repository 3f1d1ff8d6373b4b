package quic

import (
	"net"

	"github.com/goburrow/quic/transport"
)

// EventConnAccept and EventConnClose are endpoint-level event types a
// Handler sees alongside every transport.Event a connection produces.
// They are aliases of existing transport.EventType values rather than a
// parallel event domain: a newly accepted/dialled connection reaches
// EventHandshake once, and EventConnClose already exists for the
// connection-level close notification.
const (
	EventConnAccept = transport.EventHandshake
	EventConnClose  = transport.EventConnClose
)

// Conn is the application-facing handle to one QUIC connection, the
// quic package's counterpart to transport.Conn with the transport-level
// methods an application never needs hidden away.
type Conn interface {
	// LocalAddr is the local socket address this connection is reachable on.
	LocalAddr() net.Addr
	// RemoteAddr is the address of the peer.
	RemoteAddr() net.Addr
	// Stream returns the existing stream with the given id, or nil if the
	// connection holds no stream with that id. It never opens a stream,
	// local or remote.
	Stream(id uint64) *transport.Stream
	// Close closes the connection, sending a CONNECTION_CLOSE frame with
	// the given error code and reason.
	Close(code uint64, reason string) error
}

// Handler serves connection and stream lifecycle events. Serve is
// invoked from the connection's own goroutine: implementations must not
// block for long, since no further events for this connection are
// delivered until Serve returns.
type Handler interface {
	Serve(c Conn, events []transport.Event)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(c Conn, events []transport.Event)

func (f HandlerFunc) Serve(c Conn, events []transport.Event) {
	f(c, events)
}

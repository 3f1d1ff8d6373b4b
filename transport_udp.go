package quic

import (
	"net"

	"github.com/goburrow/quic/transport"
)

// udpReadBufferSize is the per-ReadFrom buffer; a datagram larger than
// this is impossible on the wire since transport.MaxPacketSize bounds
// everything this stack ever sends, but a generic UDP socket can in
// principle hand back more from some other sender.
const udpReadBufferSize = 2048

// listen opens a UDP socket and starts the single goroutine that reads
// from it, dispatching each datagram by destination connection id
// (spec section 5's endpoint-layer scheduling, the Go equivalent of
// original_source/src/modules/udp_recver.c's epoll-driven receive
// callback).
func (e *endpoint) listen(addr string) error {
	pconn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.pconn = pconn
	e.mu.Unlock()

	e.wg.Add(1)
	go e.readLoop(pconn)
	return nil
}

func (e *endpoint) readLoop(pconn net.PacketConn) {
	defer e.wg.Done()
	local := pconn.LocalAddr()
	buf := make([]byte, udpReadBufferSize)
	for {
		n, remote, err := pconn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.route(data, local, remote)
	}
}

// route finds the connection a datagram's destination connection id
// belongs to and queues it there; if none is found, a Server gets a
// chance to accept a new connection from it (Client silently drops an
// unroutable datagram, since it never accepts inbound connections).
func (e *endpoint) route(data []byte, local, remote net.Addr) {
	h, ok := transport.PeekHeader(data, e.cfg.Transport.ConnectionIDLength)
	if !ok {
		e.logger.log(levelDebug, "drop malformed packet from %s", remote)
		return
	}
	if c, found := e.lookup(h.DestCID); found {
		c.push(data)
		return
	}
	e.mu.Lock()
	accept := e.accept
	e.mu.Unlock()
	if accept != nil {
		accept(data, local, remote, h)
	}
}

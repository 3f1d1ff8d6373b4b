package quic

import (
	"net"
	"sync"
	"time"

	"github.com/goburrow/quic/transport"
)

// recvBufferSize is the per-connection inbound datagram queue depth;
// the read loop drops a datagram for a connection whose queue is full
// rather than block the shared socket reader.
const recvBufferSize = 64

// remoteConn binds a transport.Conn to the UDP path it was reached on
// and the goroutine driving it, implementing the public Conn interface
// cmd/quince and any other caller of Handler.Serve sees.
type remoteConn struct {
	scid  []byte
	local net.Addr
	addr  net.Addr

	conn *transport.Conn

	recvCh    chan []byte
	closed    chan struct{}
	once      sync.Once
	prevStats transport.Stats
}

func newRemoteConn(scid []byte, local, remote net.Addr, conn *transport.Conn) *remoteConn {
	return &remoteConn{
		scid:   scid,
		local:  local,
		addr:   remote,
		conn:   conn,
		recvCh: make(chan []byte, recvBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *remoteConn) LocalAddr() net.Addr  { return c.local }
func (c *remoteConn) RemoteAddr() net.Addr { return c.addr }

func (c *remoteConn) Stream(id uint64) *transport.Stream {
	st, ok := c.conn.Stream(id)
	if !ok {
		return nil
	}
	return st
}

func (c *remoteConn) Close(code uint64, reason string) error {
	return c.conn.Close(code, true, reason)
}

// push queues an inbound datagram for this connection's goroutine,
// dropping it if the connection is not keeping up.
func (c *remoteConn) push(data []byte) {
	select {
	case c.recvCh <- data:
	default:
	}
}

func (c *remoteConn) shutdown() {
	c.once.Do(func() { close(c.closed) })
}

// endpoint is the dispatch table and socket-send path shared by Client
// and Server: one goroutine reads datagrams off the socket and routes
// them by destination connection id to a per-connection goroutine (spec
// section 5's endpoint-layer scheduling), mirroring the
// listen/dispatch split of original_source/src/server.c's session
// table, generalized from a single process to arbitrary net.PacketConn.
type endpoint struct {
	cfg *Config

	mu     sync.Mutex
	pconn  net.PacketConn
	byCID  map[string]*remoteConn
	closed bool
	wg     sync.WaitGroup

	handler Handler
	logger  *logger

	// accept, when set (Server only), is invoked for a datagram whose
	// destination connection id matches no known connection, to decide
	// whether a new one should be created.
	accept func(data []byte, local, remote net.Addr, h transport.DatagramHeader)
}

func newEndpoint(cfg *Config) *endpoint {
	return &endpoint{
		cfg:    cfg,
		byCID:  make(map[string]*remoteConn),
		logger: newLogger(),
	}
}

func (e *endpoint) setHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *endpoint) register(c *remoteConn) {
	e.mu.Lock()
	e.byCID[string(c.scid)] = c
	e.mu.Unlock()
}

func (e *endpoint) lookup(cid []byte) (*remoteConn, bool) {
	e.mu.Lock()
	c, ok := e.byCID[string(cid)]
	e.mu.Unlock()
	return c, ok
}

func (e *endpoint) remove(cid []byte) {
	e.mu.Lock()
	delete(e.byCID, string(cid))
	e.mu.Unlock()
}

// startConn registers the connection under its own source connection
// id and launches its driver goroutine. Connection ids issued later
// during the handshake are not registered here.
func (e *endpoint) startConn(c *remoteConn) {
	e.register(c)
	e.wg.Add(1)
	go e.driveConn(c)
}

// driveConn owns one transport.Conn end to end: it processes queued
// inbound datagrams, lets the connection build outgoing ones, delivers
// accumulated events to the Handler, and reschedules itself against the
// connection's next timer deadline, all without any other goroutine
// touching this transport.Conn (satisfying the "single-threaded
// cooperative module loop" the transport package assumes).
func (e *endpoint) driveConn(c *remoteConn) {
	defer e.wg.Done()
	defer e.remove(c.scid)

	sendBuf := make([]byte, transport.MaxPacketSize)
	for {
		timeout := c.conn.Timeout()
		var timer *time.Timer
		var timeoutCh <-chan time.Time
		if !timeout.IsZero() {
			d := time.Until(timeout)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timeoutCh = timer.C
		}

		select {
		case data, ok := <-c.recvCh:
			if !ok {
				stopTimer(timer)
				return
			}
			now := time.Now()
			if err := c.conn.Read(data, now); err != nil {
				e.logger.logConnError(c, err)
			}
			e.afterIO(c, sendBuf, now)
		case now := <-timeoutCh:
			c.conn.CheckTimeout(now)
			e.afterIO(c, sendBuf, now)
		case <-c.closed:
			stopTimer(timer)
			e.flushClose(c, sendBuf)
			return
		}
		stopTimer(timer)

		if c.conn.IsClosed() {
			e.flushClose(c, sendBuf)
			return
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// afterIO flushes any outgoing datagrams the last Read/timeout produced
// and hands accumulated events to the Handler.
func (e *endpoint) afterIO(c *remoteConn, sendBuf []byte, now time.Time) {
	for {
		n, err := c.conn.Write(sendBuf, now)
		if err != nil || n == 0 {
			break
		}
		e.writeTo(c.addr, sendBuf[:n])
	}
	if events := c.conn.Events(); len(events) > 0 {
		e.dispatch(c, events)
	}
	if e.cfg.Metrics != nil {
		cur := c.conn.Stats()
		e.cfg.Metrics.observe(c.prevStats, cur)
		c.prevStats = cur
	}
}

func (e *endpoint) flushClose(c *remoteConn, sendBuf []byte) {
	now := time.Now()
	n, err := c.conn.Write(sendBuf, now)
	if err == nil && n > 0 {
		e.writeTo(c.addr, sendBuf[:n])
	}
	if events := c.conn.Events(); len(events) > 0 {
		e.dispatch(c, events)
	}
}

func (e *endpoint) dispatch(c *remoteConn, events []transport.Event) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h.Serve(c, events)
	}
}

func (e *endpoint) writeTo(addr net.Addr, b []byte) {
	e.mu.Lock()
	pconn := e.pconn
	e.mu.Unlock()
	if pconn == nil {
		return
	}
	if _, err := pconn.WriteTo(b, addr); err != nil {
		e.logger.log(levelError, "write %s: %v", addr, err)
	}
}

func (e *endpoint) close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := make([]*remoteConn, 0, len(e.byCID))
	for _, c := range e.byCID {
		conns = append(conns, c)
	}
	pconn := e.pconn
	e.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	e.wg.Wait()

	if pconn != nil {
		return pconn.Close()
	}
	return nil
}

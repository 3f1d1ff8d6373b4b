package quic

import (
	"crypto/rand"
	"io"
	"net"

	"github.com/goburrow/quic/transport"
)

// Client dials outbound QUIC connections over a single UDP socket,
// mirroring the teacher's cmd/quince/client.go usage: NewClient,
// SetHandler, SetLogger, ListenAndServe, Connect, Close.
type Client struct {
	*endpoint
}

// NewClient creates a client endpoint from cfg. The returned Client is
// not listening until ListenAndServe is called.
func NewClient(cfg *Config) *Client {
	return &Client{endpoint: newEndpoint(cfg)}
}

// SetHandler registers the Handler invoked for connection and stream
// events on every connection this client dials.
func (c *Client) SetHandler(h Handler) {
	c.setHandler(h)
}

// SetLogger enables logging at the given level (see levelOff..levelTrace)
// to w.
func (c *Client) SetLogger(level int, w io.Writer) {
	c.logger.setWriter(logLevel(level), w)
}

// ListenAndServe opens the local UDP socket the client sends from and
// receives replies on. addr may be "" or "0.0.0.0:0" to bind an
// ephemeral port.
func (c *Client) ListenAndServe(addr string) error {
	return c.listen(addr)
}

// Connect dials addr, starting a new QUIC handshake over the socket
// opened by ListenAndServe.
func (c *Client) Connect(addr string) error {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	scid := make([]byte, c.cfg.Transport.ConnectionIDLength)
	if _, err := rand.Read(scid); err != nil {
		return err
	}
	tconn, err := transport.Connect(&c.cfg.Transport, scid)
	if err != nil {
		return err
	}

	c.mu.Lock()
	local := c.pconn.LocalAddr()
	c.mu.Unlock()

	rc := newRemoteConn(scid, local, remote, tconn)
	c.logger.attachLogger(rc)
	c.startConn(rc)
	return nil
}

// Close shuts down every connection this client holds and its socket.
func (c *Client) Close() error {
	return c.close()
}

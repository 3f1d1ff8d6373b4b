package quic

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goburrow/quic/transport"
)

// Server accepts inbound QUIC connections over a single UDP socket,
// creating a new transport.Conn from each client's first Initial
// packet the way original_source/src/server.c's
// quic_server_transmission_recv_cb does, generalized to Go's
// goroutine-per-connection model (spec section 5).
type Server struct {
	*endpoint

	secret [32]byte

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	// connRate/connBurst configure the per-source-address limiter on new
	// connection attempts, distinct from the session-level congestion
	// pacer in transport/congestion.go, which stays a hand-rolled token
	// bucket since its exact constants are the thing under test.
	connRate  rate.Limit
	connBurst int
}

// NewServer creates a server endpoint from cfg. The returned Server is
// not listening until ListenAndServe is called.
func NewServer(cfg *Config) *Server {
	s := &Server{
		endpoint:  newEndpoint(cfg),
		limiters:  make(map[string]*rate.Limiter),
		connRate:  10,
		connBurst: 20,
	}
	if _, err := io.ReadFull(rand.Reader, s.secret[:]); err != nil {
		panic("quic: reading retry-token secret: " + err.Error())
	}
	s.accept = s.acceptPacket
	return s
}

// SetHandler registers the Handler invoked for connection and stream
// events on every connection this server accepts.
func (s *Server) SetHandler(h Handler) {
	s.setHandler(h)
}

// SetLogger enables logging at the given level (see levelOff..levelTrace)
// to w.
func (s *Server) SetLogger(level int, w io.Writer) {
	s.logger.setWriter(logLevel(level), w)
}

// SetConnRateLimit configures the per-source-address limiter on new
// connection attempts: rps new connections per second, up to burst at
// once, before further attempts from that address are dropped.
func (s *Server) SetConnRateLimit(rps float64, burst int) {
	s.limiterMu.Lock()
	s.connRate = rate.Limit(rps)
	s.connBurst = burst
	s.limiters = make(map[string]*rate.Limiter)
	s.limiterMu.Unlock()
}

// ListenAndServe opens the UDP socket the server accepts connections on.
func (s *Server) ListenAndServe(addr string) error {
	return s.listen(addr)
}

// Close shuts down every connection this server holds and its socket.
func (s *Server) Close() error {
	return s.close()
}

func (s *Server) allow(remote net.Addr) bool {
	host := remote.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	s.limiterMu.Lock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(s.connRate, s.connBurst)
		s.limiters[host] = l
	}
	s.limiterMu.Unlock()
	return l.Allow()
}

// acceptPacket is the endpoint's accept hook, invoked only for a
// datagram whose destination connection id matched no existing
// connection. Only an Initial packet can start a connection; anything
// else for an unknown id is stale or spurious.
func (s *Server) acceptPacket(data []byte, local, remote net.Addr, h transport.DatagramHeader) {
	if h.Type != "initial" {
		return
	}
	if !s.allow(remote) {
		s.logger.log(levelInfo, "rate limited connection attempt from %s", remote)
		return
	}

	odcid := h.DestCID
	var retryScid []byte

	if s.cfg.Transport.RequireAddressValidation && len(h.Token) == 0 {
		s.sendRetry(remote, h)
		return
	}
	if len(h.Token) > 0 {
		gotOdcid, ok := s.validateToken(h.Token, remote)
		if !ok {
			s.logger.log(levelInfo, "dropping initial with invalid token from %s", remote)
			return
		}
		odcid = gotOdcid
		retryScid = append([]byte(nil), h.DestCID...)
	}

	scid := make([]byte, s.cfg.Transport.ConnectionIDLength)
	if _, err := rand.Read(scid); err != nil {
		return
	}
	tconn, err := transport.Accept(&s.cfg.Transport, scid, h.SrcCID, odcid, retryScid)
	if err != nil {
		s.logger.log(levelError, "accept from %s: %v", remote, err)
		return
	}

	rc := newRemoteConn(scid, local, remote, tconn)
	s.logger.attachLogger(rc)
	s.startConn(rc)
	rc.push(data)
}

// sendRetry mints an address-bound token and sends a Retry packet
// (RFC 9000 section 8.1.2), deferring acceptance until the client
// proves it owns its source address by echoing the token back.
func (s *Server) sendRetry(remote net.Addr, h transport.DatagramHeader) {
	scid := make([]byte, s.cfg.Transport.ConnectionIDLength)
	if _, err := rand.Read(scid); err != nil {
		return
	}
	token := s.mintToken(remote, h.DestCID)
	pkt, err := transport.BuildRetryPacket(scid, h.SrcCID, h.DestCID, token)
	if err != nil {
		s.logger.log(levelError, "build retry: %v", err)
		return
	}
	s.writeTo(remote, pkt)
}

// mintToken encodes odcid (the triggering Initial's original
// destination connection id) and an expiry, authenticated with an
// HMAC over the server secret and the client's address so a token
// minted for one source address cannot be replayed from another.
func (s *Server) mintToken(remote net.Addr, odcid []byte) []byte {
	host := remote.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	expiry := time.Now().Add(s.cfg.Transport.RetryTokenLifetime).UnixNano()

	body := make([]byte, 0, 1+len(odcid)+8)
	body = append(body, byte(len(odcid)))
	body = append(body, odcid...)
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(expiry))
	body = append(body, exp[:]...)

	mac := hmac.New(sha256.New, s.secret[:])
	mac.Write([]byte(host))
	mac.Write(body)
	return append(body, mac.Sum(nil)...)
}

// validateToken checks a token's HMAC and expiry against remote's
// address and returns the odcid it encodes.
func (s *Server) validateToken(token []byte, remote net.Addr) ([]byte, bool) {
	if len(token) < 1 {
		return nil, false
	}
	odcidLen := int(token[0])
	expOff := 1 + odcidLen
	tagOff := expOff + 8
	if len(token) < tagOff+sha256.Size {
		return nil, false
	}
	odcid := token[1:expOff]
	body := token[:tagOff]
	gotTag := token[tagOff:]

	host := remote.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	mac := hmac.New(sha256.New, s.secret[:])
	mac.Write([]byte(host))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), gotTag) {
		return nil, false
	}
	expiry := int64(binary.BigEndian.Uint64(token[expOff:tagOff]))
	if time.Now().UnixNano() > expiry {
		return nil, false
	}
	return append([]byte(nil), odcid...), true
}

package transport

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"time"
)

// connectionState is the coarse connection lifecycle (spec section 4.10,
// RFC 9000 section 10).
type connectionState int

const (
	stateHandshaking connectionState = iota
	stateEstablished
	stateClosing
	stateDraining
	stateClosed
)

func (s connectionState) String() string {
	switch s {
	case stateHandshaking:
		return "handshaking"
	case stateEstablished:
		return "established"
	case stateClosing:
		return "closing"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one QUIC connection: packet/frame codec, the three
// packet-number spaces, loss recovery, flow control and the stream set
// (spec section 4, Design Notes section 9 -- the teacher's module/offset
// layout rebuilt as a struct of cooperating components).
type Conn struct {
	cfg      *Config
	isClient bool
	state    connectionState

	scid  []byte // our own source connection id, also the first id offered to the peer
	dcid  []byte // connection id we currently address packets to
	odcid []byte // original destination cid from the client's first Initial; fixes the Initial key schedule
	rscid []byte // server's retry source cid, set only when a Retry occurred

	token []byte // retry token echoed on the client's post-Retry Initial packets

	spaces [packetSpaceCount]packetNumberSpace

	recovery lossRecovery
	connFlow connFlowControl
	streams  *streams
	framer   *framer
	cids     *connIDManager
	tls      *tlsHandshake

	localParams *Parameters
	peerParams  *Parameters

	// streamRecvHighWater tracks, per stream, the highest byte offset
	// already folded into connFlow's receive accounting, so repeated or
	// overlapping STREAM frames are not double counted against MAX_DATA
	// (RFC 9000 section 4.1).
	streamRecvHighWater map[uint64]uint64

	events []Event

	closeErr      *Error
	closeIsApp    bool
	sentConnClose bool
	recvConnClose bool
	drainDeadline time.Time

	lastRecvTime time.Time
	lastSendTime time.Time

	logHandler func(LogEvent)

	clock func() time.Time
	rng   func([]byte) (int, error)

	statsPacketsSent     uint64
	statsPacketsReceived uint64
}

// Stats is a snapshot of per-connection counters, exposed for an
// endpoint-level metrics collector (spec section 4.10's observability
// hook; the quic package's optional Prometheus collector reads this
// after every Read/Write).
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	CongestionWindow uint64
	ActiveStreams   int
}

// Stats returns the current counters and the live congestion window.
func (c *Conn) Stats() Stats {
	var lost uint64
	for i := packetSpaceInitial; i < packetSpaceCount; i++ {
		lost += c.recovery.spaces[i].lostCount
	}
	return Stats{
		PacketsSent:      c.statsPacketsSent,
		PacketsReceived:  c.statsPacketsReceived,
		PacketsLost:      lost,
		CongestionWindow: c.recovery.congestion.cwnd,
		ActiveStreams:    len(c.streams.byID),
	}
}

func connTimeNow() time.Time { return time.Now() }

func connRand(b []byte) (int, error) { return rand.Read(b) }

func newConn(cfg *Config, scid, dcid []byte, isClient bool) *Conn {
	c := &Conn{
		cfg:                 cfg,
		isClient:            isClient,
		scid:                append([]byte(nil), scid...),
		dcid:                append([]byte(nil), dcid...),
		state:               stateHandshaking,
		streamRecvHighWater: make(map[uint64]uint64),
		clock:               connTimeNow,
		rng:                 connRand,
	}
	for i := range c.spaces {
		c.spaces[i].init()
	}
	c.recovery.init(cfg)
	c.connFlow.init(cfg, &c.recovery.congestion.rtt)
	c.streams = newStreams(cfg, isClient, &c.connFlow)
	c.framer = newFramer()
	c.cids = newConnIDManager(cfg.ActiveConnectionIDLimit)
	c.cids.issued = append(c.cids.issued, &issuedConnID{id: c.scid})
	c.cids.nextSeq = 1
	return c
}

func (c *Conn) buildLocalParams() *Parameters {
	p := &Parameters{
		InitialMaxData:                 c.cfg.ConnFlowControlInitialRwnd,
		InitialMaxStreamDataBidiLocal:  c.cfg.InitialMaxStreamData,
		InitialMaxStreamDataBidiRemote: c.cfg.InitialMaxStreamData,
		InitialMaxStreamDataUni:        c.cfg.InitialMaxStreamData,
		InitialMaxStreamsBidi:          c.cfg.InitialMaxStreamsBidi,
		InitialMaxStreamsUni:           c.cfg.InitialMaxStreamsUni,
		AckDelayExponent:               c.cfg.AckDelayExponent,
		MaxAckDelay:                    c.cfg.MaxAckDelay,
		ActiveConnectionIDLimit:        c.cfg.ActiveConnectionIDLimit,
		MaxIdleTimeout:                 c.cfg.MaxIdleTimeout,
		InitialSourceCID:               c.scid,
	}
	if !c.isClient {
		p.OriginalDestinationCID = c.odcid
		if c.rscid != nil {
			p.RetrySourceCID = c.rscid
		}
	}
	return p
}

// deriveInitialKeyMaterial installs the Initial space's sealer/opener
// from dcid, the Destination Connection ID of the client's very first
// Initial packet -- stable across a Retry (RFC 9001 section 5.2).
func (c *Conn) deriveInitialKeyMaterial(dcid []byte) error {
	clientSecret, serverSecret := initialSecrets(dcid)
	writeSecret, readSecret := serverSecret, clientSecret
	if c.isClient {
		writeSecret, readSecret = clientSecret, serverSecret
	}
	sealer, err := newSealer(cipherSuiteAES128GCM, deriveKeys(writeSecret, cipherSuiteAES128GCM))
	if err != nil {
		return err
	}
	opener, err := newOpener(cipherSuiteAES128GCM, deriveKeys(readSecret, cipherSuiteAES128GCM))
	if err != nil {
		return err
	}
	c.spaces[packetSpaceInitial].sealer = sealer
	c.spaces[packetSpaceInitial].opener = opener
	return nil
}

// Connect creates a client connection and starts the handshake. scid is
// the connection id the client will be addressed by; the initial
// destination connection id is chosen at random per RFC 9000 section 7.2.
func Connect(cfg *Config, scid []byte) (*Conn, error) {
	dcid := make([]byte, MaxCIDLength)
	if _, err := rand.Read(dcid); err != nil {
		return nil, err
	}
	c := newConn(cfg, scid, dcid, true)
	c.odcid = append([]byte(nil), dcid...)
	if err := c.deriveInitialKeyMaterial(c.odcid); err != nil {
		return nil, err
	}
	c.localParams = c.buildLocalParams()
	tlsCfg, _ := cfg.TLSConfig.(*tls.Config)
	c.tls = newTLSHandshake(tlsCfg, true, c.localParams.Marshal())
	if err := c.tls.start(); err != nil {
		return nil, err
	}
	c.syncHandshakeKeys()
	c.drainOutboundCrypto()
	return c, nil
}

// Accept creates a server connection for a client-initiated handshake.
// dcid is the client's source connection id (the id we address packets
// to); odcid is the Destination Connection ID of the client's first
// Initial packet (needed even when retryScid is set, since Retry does
// not change the Initial key schedule); retryScid is the source
// connection id the server put in a Retry packet it sent earlier, or
// nil if no Retry occurred.
func Accept(cfg *Config, scid, dcid, odcid, retryScid []byte) (*Conn, error) {
	c := newConn(cfg, scid, dcid, false)
	c.odcid = append([]byte(nil), odcid...)
	if retryScid != nil {
		c.rscid = append([]byte(nil), retryScid...)
	}
	if err := c.deriveInitialKeyMaterial(c.odcid); err != nil {
		return nil, err
	}
	c.localParams = c.buildLocalParams()
	tlsCfg, _ := cfg.TLSConfig.(*tls.Config)
	c.tls = newTLSHandshake(tlsCfg, false, c.localParams.Marshal())
	if err := c.tls.start(); err != nil {
		return nil, err
	}
	c.syncHandshakeKeys()
	c.drainOutboundCrypto()
	return c, nil
}

// syncHandshakeKeys copies any newly installed sealer/opener pairs out
// of the TLS driver and applies the key-discard and handshake-complete
// consequences of newly available keys (RFC 9001 sections 4.9.1/4.1.1).
func (c *Conn) syncHandshakeKeys() {
	for sp := packetSpaceInitial; sp < packetSpaceCount; sp++ {
		if s, ok := c.tls.sealerFor(sp); ok {
			c.spaces[sp].sealer = s
		}
		if o, ok := c.tls.openerFor(sp); ok {
			c.spaces[sp].opener = o
		}
	}
	if !c.spaces[packetSpaceInitial].dropped && c.spaces[packetSpaceHandshake].canEncrypt() && c.spaces[packetSpaceHandshake].canDecrypt() {
		c.dropPacketSpace(packetSpaceInitial)
	}
	if c.tls.done() && c.state == stateHandshaking {
		c.onHandshakeComplete()
	}
}

// drainOutboundCrypto moves CRYPTO bytes the TLS stack has queued since
// the last call into each space's crypto send buffer.
func (c *Conn) drainOutboundCrypto() {
	for sp := packetSpaceInitial; sp < packetSpaceCount; sp++ {
		data := c.tls.pendingCryptoData(sp)
		if len(data) == 0 {
			continue
		}
		buf := &c.spaces[sp].cryptoSend
		buf.push(data, buf.writeOff)
	}
}

// validatePeerTransportParams checks the connection-id consistency
// invariants of RFC 9000 section 7.3, which exist to detect an
// off-path attacker tampering with connection ids during the handshake.
func (c *Conn) validatePeerTransportParams(p *Parameters) error {
	if c.isClient && !bytes.Equal(p.OriginalDestinationCID, c.odcid) {
		return newError(TransportParameterError, "original_destination_connection_id mismatch")
	}
	if len(c.rscid) > 0 && !bytes.Equal(p.RetrySourceCID, c.rscid) {
		return newError(TransportParameterError, "retry_source_connection_id mismatch")
	}
	if !bytes.Equal(p.InitialSourceCID, c.dcid) {
		return newError(TransportParameterError, "initial_source_connection_id mismatch")
	}
	return nil
}

func (c *Conn) applyPeerTransportParams(p *Parameters) {
	c.peerParams = p
	c.connFlow.setMaxSend(p.InitialMaxData)
	c.streams.setPeerParams(p)
}

// onHandshakeComplete runs once the local TLS stack reports the
// handshake done event (RFC 9000 section 4.1.1; see the handshakeDone
// frame case in recvFrame for the client's handshake-confirmed point).
func (c *Conn) onHandshakeComplete() {
	if peer, err := UnmarshalParameters(c.tls.peerTransportParams); err == nil {
		if verr := c.validatePeerTransportParams(peer); verr != nil {
			if te, ok := verr.(*Error); ok {
				c.Close(uint64(te.Code), false, te.Message)
			}
			return
		}
		c.applyPeerTransportParams(peer)
	}
	c.state = stateEstablished
	if !c.isClient {
		c.framer.queueHandshakeDone()
		c.dropPacketSpace(packetSpaceHandshake)
	}
	for i := uint64(0); i+1 < c.cfg.ActiveConnectionIDLimit; i++ {
		if f, err := c.cids.issue(); err == nil {
			c.framer.queueNewConnectionID(f)
		}
	}
	c.addEvent(newHandshakeEvent())
}

func (c *Conn) dropPacketSpace(space packetSpace) {
	c.spaces[space].drop()
	c.recovery.dropUnackedData(space)
}

// --- events / accessors -------------------------------------------------

func (c *Conn) addEvent(e Event) { c.events = append(c.events, e) }

// Events drains every event queued since the last call (spec 4.10).
func (c *Conn) Events() []Event {
	ev := c.events
	c.events = nil
	return ev
}

func (c *Conn) IsEstablished() bool { return c.state == stateEstablished }
func (c *Conn) IsClosed() bool      { return c.state == stateClosed }
func (c *Conn) State() string       { return c.state.String() }

// OpenStream creates a new locally-initiated stream.
func (c *Conn) OpenStream(uni bool) (*Stream, error) { return c.streams.openLocal(uni) }

// Stream looks up a stream by id; remote streams are materialized the
// first time a frame referencing them is received.
func (c *Conn) Stream(id uint64) (*Stream, bool) { return c.streams.get(id) }

// --- logging --------------------------------------------------------------

// OnLogEvent registers a callback invoked for every qlog-style event
// the connection produces (spec section 4.10's observability hook).
func (c *Conn) OnLogEvent(fn func(LogEvent)) { c.logHandler = fn }

func (c *Conn) logEvent(e LogEvent) {
	if c.logHandler != nil {
		c.logHandler(e)
	}
}

func (c *Conn) logPacketReceived(h *packetHeader, payloadLen int) {
	if c.logHandler == nil {
		return
	}
	h.payloadLen = payloadLen
	c.logEvent(newLogEventPacket(c.clock(), logEventPacketReceived, h))
}

func (c *Conn) logPacketSent(h *packetHeader, payloadLen int) {
	if c.logHandler == nil {
		return
	}
	h.payloadLen = payloadLen
	c.logEvent(newLogEventPacket(c.clock(), logEventPacketSent, h))
}

func (c *Conn) logPacketDropped(reason string, size int) {
	if c.logHandler == nil {
		return
	}
	e := newLogEvent(c.clock(), logEventPacketDropped)
	e.addField("reason", reason)
	e.addField("size", size)
	c.logEvent(e)
}

func (c *Conn) logFrameProcessed(f frame) {
	if c.logHandler == nil {
		return
	}
	c.logEvent(newLogEventFrame(c.clock(), logEventFramesProcessed, f))
}

// --- receive path -----------------------------------------------------

// Read ingests one UDP datagram, which may hold several coalesced QUIC
// packets (RFC 9000 section 12.2).
func (c *Conn) Read(data []byte, now time.Time) error {
	c.lastRecvTime = now
	for len(data) > 0 {
		n, err := c.recvPacket(data, now)
		if err != nil {
			c.logPacketDropped(err.Error(), len(data))
			return err
		}
		if n <= 0 {
			break
		}
		data = data[n:]
	}
	return nil
}

func (c *Conn) recvPacket(data []byte, now time.Time) (int, error) {
	dcidLen := MaxCIDLength
	if data[0]&headerFormLong == 0 {
		dcidLen = len(c.scid)
	}
	h, hlen, ok := decodeHeaderForm(data, dcidLen)
	if !ok {
		return 0, newError(FrameEncodingError, "malformed packet header")
	}
	if h.typ == packetTypeRetry {
		return c.recvPacketRetry(data, &h)
	}
	if h.isLongHeader() && !versionSupported(h.version) {
		return len(data), nil
	}
	if h.typ == packetTypeZeroRTT {
		if hlen+int(h.length) <= len(data) {
			return hlen + int(h.length), nil
		}
		return len(data), nil
	}
	space := spaceFromPacketType(h.typ)
	return c.recvPacketCrypted(data, &h, hlen, space, now)
}

// recvPacketRetry handles a server Retry packet (client-only, RFC 9000
// section 8.1.2): it verifies the integrity tag, adopts the server's
// chosen connection id, and arranges for the buffered ClientHello to be
// retransmitted under a token-bearing Initial packet.
func (c *Conn) recvPacketRetry(data []byte, h *packetHeader) (int, error) {
	if !c.isClient || c.rscid != nil || c.state != stateHandshaking {
		return len(data), nil
	}
	if !verifyRetryIntegrity(c.dcid, data) {
		return 0, newError(ProtocolViolation, "invalid retry integrity tag")
	}
	c.token = append([]byte(nil), h.token...)
	c.rscid = append([]byte(nil), h.scid...)
	c.dcid = append([]byte(nil), h.scid...)
	c.spaces[packetSpaceInitial].cryptoSend.sentOff = 0
	return len(data), nil
}

// recvPacketCrypted removes header protection, reconstructs the full
// packet number, opens the AEAD payload, and processes its frames.
func (c *Conn) recvPacketCrypted(data []byte, h *packetHeader, hlen int, space packetSpace, now time.Time) (int, error) {
	sp := &c.spaces[space]
	packetLen := len(data)
	if h.isLongHeader() {
		packetLen = hlen + int(h.length)
		if packetLen > len(data) || packetLen < hlen {
			return 0, newError(FrameEncodingError, "long header length exceeds datagram")
		}
	}
	if sp.dropped || !sp.canDecrypt() {
		return packetLen, nil
	}
	pkt := append([]byte(nil), data[:packetLen]...)
	pnOffset := hlen
	if pnOffset+4+sampleLen > len(pkt) {
		return packetLen, nil
	}
	sample := pkt[pnOffset+4 : pnOffset+4+sampleLen]
	if err := sp.opener.unprotectHeader(pkt, pnOffset, sample); err != nil {
		return packetLen, nil
	}
	pnLen := int(pkt[0]&0x03) + 1
	truncated := decodePacketNumber(pkt[pnOffset:pnOffset+pnLen], pnLen)
	fullPN := decodeFullPacketNumber(truncated, pnLen, sp.received.largest())
	if sp.isPacketReceived(fullPN) {
		return packetLen, nil
	}
	bodyOffset := pnOffset + pnLen
	aad := pkt[:bodyOffset]
	payload, err := sp.opener.open(nil, aad, pkt[bodyOffset:], fullPN)
	if err != nil {
		c.logPacketDropped("aead open failed", packetLen)
		return packetLen, nil
	}
	sp.onPacketReceived(fullPN, now)
	if c.isClient && h.isLongHeader() && c.state == stateHandshaking {
		// Address the server by the source connection id it chose.
		c.dcid = append([]byte(nil), h.scid...)
	}
	c.statsPacketsReceived++
	c.lastRecvTime = now
	h.packetNum = fullPN
	c.logPacketReceived(h, len(payload))
	if err := c.recvFrames(payload, space, now); err != nil {
		return packetLen, err
	}
	return packetLen, nil
}

// decodeFullPacketNumber reconstructs a packet number truncated to
// pnLen bytes against the largest packet number received so far in its
// space, per RFC 9000 Appendix A.3.
func decodeFullPacketNumber(truncated uint64, pnLen int, largest uint64) uint64 {
	pnWin := uint64(1) << (8 * uint(pnLen))
	pnHalfWin := pnWin / 2
	expected := largest + 1
	candidate := (expected &^ (pnWin - 1)) | truncated
	switch {
	case candidate+pnHalfWin <= expected:
		return candidate + pnWin
	case candidate > expected+pnHalfWin && candidate >= pnWin:
		return candidate - pnWin
	default:
		return candidate
	}
}

func (c *Conn) recvFrames(payload []byte, space packetSpace, now time.Time) error {
	sp := &c.spaces[space]
	for len(payload) > 0 {
		f, n, err := decodeFrame(payload)
		if err != nil {
			return err
		}
		if err := c.recvFrame(f, space, now); err != nil {
			return err
		}
		if isFrameAckEliciting(frameTypeOf(f)) {
			sp.ackElicited = true
		}
		payload = payload[n:]
	}
	return nil
}

func (c *Conn) recvFrame(f frame, space packetSpace, now time.Time) error {
	c.logFrameProcessed(f)
	switch fr := f.(type) {
	case *paddingFrame, *pingFrame:
		return nil
	case *ackFrame:
		return c.recvFrameAck(fr, space, now)
	case *cryptoFrame:
		return c.recvFrameCrypto(fr, space)
	case *streamFrame:
		return c.recvFrameStream(fr)
	case *resetStreamFrame:
		return c.recvFrameResetStream(fr)
	case *stopSendingFrame:
		return c.recvFrameStopSending(fr)
	case *maxDataFrame:
		c.connFlow.setMaxSend(fr.max)
	case *maxStreamDataFrame:
		return c.recvFrameMaxStreamData(fr)
	case *maxStreamsFrame:
		if fr.uni {
			c.streams.setPeerMaxStreamsUni(fr.max)
		} else {
			c.streams.setPeerMaxStreamsBidi(fr.max)
		}
	case *dataBlockedFrame, *streamDataBlockedFrame, *streamsBlockedFrame:
		// Informational: the peer is flow-control blocked. Nothing to act on
		// beyond what the qlog callback already surfaced.
	case *newConnectionIDFrame:
		for _, seq := range c.cids.addPeerID(fr) {
			c.framer.queueRetireConnectionID(seq)
		}
	case *retireConnectionIDFrame:
		c.cids.retireIssued(fr.seq)
	case *newTokenFrame:
		// Caching the token for a future connection attempt is a client-side
		// concern that lives above this package.
	case *connectionCloseFrame:
		return c.recvFrameConnectionClose(fr)
	case *handshakeDoneFrame:
		if c.isClient {
			c.dropPacketSpace(packetSpaceHandshake)
		}
	}
	return nil
}

// localAckDelayExponent returns the exponent this endpoint declared via
// its own transport parameters, used to encode ACK frames it sends.
func (c *Conn) localAckDelayExponent() uint8 {
	if c.localParams != nil {
		return c.localParams.AckDelayExponent
	}
	return c.cfg.AckDelayExponent
}

// peerAckDelayExponent returns the exponent the peer declared, used to
// decode the ack_delay field of ACK frames received from it.
func (c *Conn) peerAckDelayExponent() uint8 {
	if c.peerParams != nil {
		return c.peerParams.AckDelayExponent
	}
	return 3
}

func (c *Conn) recvFrameAck(f *ackFrame, space packetSpace, now time.Time) error {
	rs := &rangeSet{ranges: append([]ackRange(nil), f.ranges...)}
	delay := time.Duration(f.delay) * (1 << c.peerAckDelayExponent()) * time.Microsecond
	c.recovery.onAckReceived(rs, delay, space, now)
	c.recovery.drainAcked(space, func(acked frame) { c.onFrameAcked(acked, space) })
	c.recovery.drainLost(space, func(lost frame) { c.onFrameLost(lost, space) })
	c.streams.collectDone(now)
	return nil
}

func (c *Conn) onFrameAcked(f frame, space packetSpace) {
	switch fr := f.(type) {
	case *streamFrame:
		if st, ok := c.streams.get(fr.streamID); ok && st.send != nil {
			st.send.ack(fr)
		}
	case *cryptoFrame:
		c.spaces[space].cryptoSend.ack(fr.offset, len(fr.data))
	case *resetStreamFrame:
		if st, ok := c.streams.get(fr.streamID); ok && st.send != nil {
			st.send.resetAcked = true
		}
	}
}

func (c *Conn) onFrameLost(f frame, space packetSpace) {
	switch fr := f.(type) {
	case *streamFrame:
		if st, ok := c.streams.get(fr.streamID); ok && st.send != nil {
			st.send.lost(fr)
			c.framer.markActive(fr.streamID)
		}
	case *cryptoFrame:
		buf := &c.spaces[space].cryptoSend
		if fr.offset < buf.sentOff {
			buf.sentOff = fr.offset
		}
	case *resetStreamFrame:
		if st, ok := c.streams.get(fr.streamID); ok && st.send != nil {
			st.send.resetSent = false
		}
	case *pingFrame, *handshakeDoneFrame:
		c.recovery.spaces[space].appendRetransmission(f)
	case *maxDataFrame:
		c.framer.queueMaxData(fr.max)
	case *maxStreamDataFrame:
		c.framer.queueMaxStreamData(fr.streamID, fr.max)
	case *maxStreamsFrame:
		c.framer.queueMaxStreams(fr.max, fr.uni)
	case *newConnectionIDFrame:
		c.framer.queueNewConnectionID(fr)
	case *retireConnectionIDFrame:
		c.framer.queueRetireConnectionID(fr.seq)
	case *stopSendingFrame:
		c.framer.queueStopSending(fr.streamID, fr.errorCode)
	}
}

func (c *Conn) recvFrameCrypto(f *cryptoFrame, space packetSpace) error {
	sp := &c.spaces[space]
	if err := sp.cryptoRecv.write(f.offset, f.data); err != nil {
		return err
	}
	if sp.cryptoRecv.readable() == 0 {
		return nil
	}
	buf := make([]byte, sp.cryptoRecv.readable())
	n := sp.cryptoRecv.read(buf)
	if err := c.tls.feed(space, buf[:n]); err != nil {
		return newError(ProtocolViolation, err.Error())
	}
	c.syncHandshakeKeys()
	c.drainOutboundCrypto()
	return nil
}

// getOrCreateStream resolves a stream referenced by an incoming frame,
// materializing it if the peer is the initiator (only that stream is
// created, not the lower-numbered streams of the same type), or
// rejecting the frame if it names a local stream this endpoint does
// not hold.
func (c *Conn) getOrCreateStream(id uint64) (*Stream, error) {
	local := streamIsClientInitiated(id) == c.isClient
	if local {
		st, ok := c.streams.get(id)
		if !ok {
			return nil, newError(StreamStateError, "reference to unknown local stream")
		}
		return st, nil
	}
	return c.streams.openRemote(id)
}

func (c *Conn) recvFrameStream(f *streamFrame) error {
	st, err := c.getOrCreateStream(f.streamID)
	if err != nil {
		return err
	}
	if st.recv == nil {
		return newError(StreamStateError, "STREAM frame for a send-only stream")
	}
	if err := c.chargeConnRecv(f.streamID, f.offset+uint64(len(f.data))); err != nil {
		return err
	}
	if err := st.recv.handle(f); err != nil {
		return err
	}
	c.addEvent(newStreamRecvEvent(f.streamID))
	return nil
}

func (c *Conn) recvFrameResetStream(f *resetStreamFrame) error {
	st, err := c.getOrCreateStream(f.streamID)
	if err != nil {
		return err
	}
	if st.recv == nil {
		return newError(StreamStateError, "RESET_STREAM for a send-only stream")
	}
	if err := c.chargeConnRecv(f.streamID, f.finalSize); err != nil {
		return err
	}
	if err := st.recv.handleReset(f); err != nil {
		return err
	}
	c.addEvent(newStreamResetEvent(f.streamID, f.errorCode))
	return nil
}

// chargeConnRecv folds the newly-observed portion of a stream's byte
// range into the connection-level receive accounting, counting only
// bytes above the highest offset already seen for that stream so
// retransmitted or overlapping frames are not charged twice.
func (c *Conn) chargeConnRecv(streamID, end uint64) error {
	prev := c.streamRecvHighWater[streamID]
	if end <= prev {
		return nil
	}
	if err := c.connFlow.addRecv(int(end - prev)); err != nil {
		return err
	}
	c.streamRecvHighWater[streamID] = end
	return nil
}

func (c *Conn) recvFrameStopSending(f *stopSendingFrame) error {
	st, err := c.getOrCreateStream(f.streamID)
	if err != nil {
		return err
	}
	if st.send != nil {
		st.send.reset(f.errorCode)
		c.framer.markActive(f.streamID)
	}
	c.addEvent(newStreamStopEvent(f.streamID, f.errorCode))
	return nil
}

func (c *Conn) recvFrameMaxStreamData(f *maxStreamDataFrame) error {
	st, err := c.getOrCreateStream(f.streamID)
	if err != nil {
		return err
	}
	if st.send != nil {
		st.send.flow.setMaxSend(f.max)
		c.framer.markActive(f.streamID)
	}
	return nil
}

func (c *Conn) recvFrameConnectionClose(f *connectionCloseFrame) error {
	c.recvConnClose = true
	c.setDraining()
	c.addEvent(newConnCloseEvent(f.errorCode))
	return nil
}

func (c *Conn) setDraining() {
	if c.state == stateDraining || c.state == stateClosed {
		return
	}
	c.state = stateDraining
	c.drainDeadline = c.clock().Add(3 * c.recovery.probeTimeout())
}

// --- send path --------------------------------------------------------

func (c *Conn) maxPacketSize() int { return MaxPacketSize }

// Write assembles one outgoing UDP datagram, coalescing packets from
// every space with live keys (RFC 9000 section 12.2), and returns the
// number of bytes written. A zero-length, nil-error result means there
// is nothing to send right now.
func (c *Conn) Write(buf []byte, now time.Time) (int, error) {
	if c.state == stateClosing || c.state == stateDraining {
		return c.writeClose(buf)
	}

	total := 0
	for space := packetSpaceInitial; space < packetSpaceCount; space++ {
		if !c.spaces[space].canEncrypt() {
			continue
		}
		n, err := c.writeSpace(buf[total:], space, now)
		if err != nil {
			return total, err
		}
		total += n
	}

	if total == 0 {
		return 0, nil
	}

	if c.isClient && total < MinInitialPacketSize && c.spaces[packetSpaceInitial].canEncrypt() && !c.spaces[packetSpaceInitial].dropped {
		pad := MinInitialPacketSize - total
		if total+pad > len(buf) {
			pad = len(buf) - total
		}
		for i := 0; i < pad; i++ {
			buf[total+i] = 0
		}
		total += pad
	}

	c.lastSendTime = now
	return total, nil
}

// writeSpace assembles at most one packet for space into buf, or
// returns (0, nil) if there is nothing worth sending in it right now.
func (c *Conn) writeSpace(buf []byte, space packetSpace, now time.Time) (int, error) {
	sp := &c.spaces[space]
	if sp.dropped {
		return 0, nil
	}
	avail := len(buf) - minPayloadLength - 16
	if avail <= 0 {
		return 0, nil
	}

	var frames []frame
	used := 0

	if !sp.recvPacketNeedAck.empty() {
		var delay uint64
		if !sp.largestRecvPacketTime.IsZero() {
			delay = uint64(now.Sub(sp.largestRecvPacketTime)/time.Microsecond) >> c.localAckDelayExponent()
		}
		af := newAckFrame(&sp.recvPacketNeedAck, c.localAckDelayExponent(), delay)
		if n := af.encodedLen(); n <= avail-used {
			frames = append(frames, af)
			used += n
			sp.ackElicited = false
			sp.recvPacketNeedAck = rangeSet{}
		}
	}

	for {
		f := c.recovery.spaces[space].popRetransmission(avail - used)
		if f == nil {
			break
		}
		frames = append(frames, f)
		used += f.encodedLen()
	}

	for sp.cryptoSend.writeOff > sp.cryptoSend.sentOff {
		room := avail - used - maxCryptoFrameOverhead
		if room <= 0 {
			break
		}
		data, off := sp.cryptoSend.popSend(room)
		if len(data) == 0 {
			break
		}
		cf := newCryptoFrame(append([]byte(nil), data...), off)
		frames = append(frames, cf)
		used += cf.encodedLen()
	}

	if space == packetSpaceApplication {
		c.flushWindowUpdates()
		used += c.framer.appendTo(&frames, avail-used)
		used += c.appendStreamFrames(&frames, avail-used)
	}

	if len(frames) == 0 {
		return 0, nil
	}

	pn := sp.nextPacketNumber
	sp.nextPacketNumber++
	h := packetHeader{typ: packetTypeFromSpace(space), version: c.cfg.Version, dcid: c.dcid, scid: c.scid, packetNum: pn}
	if h.typ == packetTypeInitial {
		h.token = c.token
	}
	pnLen := packetNumberLen(pn, c.recovery.spaces[space].largestAck)

	var payload []byte
	for _, f := range frames {
		payload = f.encode(payload)
	}
	length := uint64(pnLen + len(payload) + 16)

	scratch := make([]byte, 0, len(buf))
	headerBuf, pnOffset := h.encode(scratch, pnLen, length)
	aad := append([]byte(nil), headerBuf...)
	sealed := sp.sealer.seal(nil, aad, payload, pn)
	out := append(headerBuf, sealed...)
	if pnOffset+4+sampleLen > len(out) {
		return 0, errShortBuffer
	}
	sample := out[pnOffset+4 : pnOffset+4+sampleLen]
	if err := sp.sealer.protectHeader(out, pnOffset, sample); err != nil {
		return 0, err
	}
	if len(out) > len(buf) {
		return 0, errShortBuffer
	}
	n := copy(buf, out)

	op := newOutgoingPacket(pn, now)
	op.size = uint64(n)
	for _, f := range frames {
		op.addFrame(f)
	}
	c.recovery.onPacketSent(op, space)
	c.statsPacketsSent++
	c.logPacketSent(&h, len(payload))
	return n, nil
}

// flushWindowUpdates scans for flow-control windows that have crossed
// their auto-tune threshold and queues the MAX_DATA/MAX_STREAM_DATA
// frames needed to advertise the new limit (spec section 4.5).
func (c *Conn) flushWindowUpdates() {
	if c.connFlow.shouldUpdateMaxRecv() {
		c.framer.queueMaxData(c.connFlow.maxRecvNext())
		c.connFlow.commitMaxRecv()
	}
	for id, st := range c.streams.byID {
		if st.recv == nil {
			continue
		}
		f := st.recv.flow
		if f.rwnd-f.recvOff > f.rwndSize/2 {
			continue
		}
		f.rwnd = f.recvOff + f.rwndSize
		c.framer.queueMaxStreamData(id, f.rwnd)
	}
}

// appendStreamFrames drains pending STREAM/RESET_STREAM data across
// every stream with work queued, bounded by both the per-stream and the
// connection-level send windows (RFC 9000 section 4.1).
func (c *Conn) appendStreamFrames(frames *[]frame, capa int) int {
	used := 0
	for id := range c.framer.activeStreams {
		st, ok := c.streams.get(id)
		if !ok || st.send == nil {
			c.framer.clearActive(id)
			continue
		}
		if rf := st.send.resetFrame(); rf != nil {
			if n := rf.encodedLen(); n <= capa-used {
				*frames = append(*frames, rf)
				used += n
			}
			continue
		}
		if !st.send.pending() {
			c.framer.clearActive(id)
			continue
		}
		maxLen := capa - used - maxStreamFrameOverhead
		if maxLen <= 0 {
			continue
		}
		if swnd := int(st.send.flow.getSwnd()); swnd < maxLen {
			maxLen = swnd
		}
		if cwnd := int(c.connFlow.canSend()); cwnd < maxLen {
			maxLen = cwnd
		}
		if maxLen <= 0 {
			if limit, blocked := st.send.flow.newlyBlocked(); blocked {
				c.framer.queueStreamDataBlocked(id, limit)
			}
			continue
		}
		sf := st.send.nextFrame(maxLen)
		if sf == nil {
			continue
		}
		n := sf.encodedLen()
		if n > capa-used {
			continue
		}
		c.connFlow.addSend(len(sf.data))
		*frames = append(*frames, sf)
		used += n
		if !st.send.pending() {
			c.framer.clearActive(id)
		}
	}
	if limit, blocked := c.connFlow.newlyBlocked(); blocked {
		c.framer.queueDataBlocked(limit)
	}
	return used
}

// writeClose assembles the CONNECTION_CLOSE packet sent once on
// entering the closing state, then transitions to draining (RFC 9000
// section 10.2).
func (c *Conn) writeClose(buf []byte) (int, error) {
	if c.state != stateClosing || c.sentConnClose || c.closeErr == nil {
		return 0, nil
	}
	space := packetSpaceApplication
	for s := packetSpaceInitial; s <= packetSpaceHandshake; s++ {
		if c.spaces[s].canEncrypt() && !c.spaces[s].dropped {
			space = s
			break
		}
	}
	sp := &c.spaces[space]
	if !sp.canEncrypt() {
		c.sentConnClose = true
		c.setDraining()
		return 0, nil
	}

	cf := newConnectionCloseFrame(uint64(c.closeErr.Code), 0, []byte(c.closeErr.Message), c.closeIsApp)
	pn := sp.nextPacketNumber
	sp.nextPacketNumber++
	h := packetHeader{typ: packetTypeFromSpace(space), version: c.cfg.Version, dcid: c.dcid, scid: c.scid, packetNum: pn}
	payload := cf.encode(nil)
	length := uint64(1 + len(payload) + 16)

	scratch := make([]byte, 0, len(buf))
	headerBuf, pnOffset := h.encode(scratch, 1, length)
	aad := append([]byte(nil), headerBuf...)
	sealed := sp.sealer.seal(nil, aad, payload, pn)
	out := append(headerBuf, sealed...)
	if pnOffset+4+sampleLen > len(out) {
		return 0, errShortBuffer
	}
	sample := out[pnOffset+4 : pnOffset+4+sampleLen]
	if err := sp.sealer.protectHeader(out, pnOffset, sample); err != nil {
		return 0, err
	}
	if len(out) > len(buf) {
		return 0, errShortBuffer
	}
	n := copy(buf, out)
	c.sentConnClose = true
	c.setDraining()
	return n, nil
}

// Close starts the closing handshake with the given application or
// transport error code (spec section 4.10, RFC 9000 section 10.2).
func (c *Conn) Close(code uint64, isApplication bool, reason string) error {
	if c.state == stateClosing || c.state == stateDraining || c.state == stateClosed {
		return nil
	}
	c.closeErr = newError(TransportError(code), reason)
	c.closeIsApp = isApplication
	c.state = stateClosing
	return nil
}

// --- timers -------------------------------------------------------------

// effectiveIdleTimeout is the smaller of the two endpoints' advertised
// max_idle_timeout, or whichever one is nonzero (RFC 9000 section 10.1).
func (c *Conn) effectiveIdleTimeout() time.Duration {
	local := c.cfg.MaxIdleTimeout
	if c.peerParams == nil {
		return local
	}
	peer := c.peerParams.MaxIdleTimeout
	switch {
	case local == 0:
		return peer
	case peer == 0:
		return local
	case peer < local:
		return peer
	default:
		return local
	}
}

// Timeout reports the next instant Conn needs a timer callback, the
// earliest of the loss-detection alarm, idle timeout, and (in the
// draining state) the drain deadline.
func (c *Conn) Timeout() time.Time {
	var t time.Time
	if d := c.recovery.alarmDeadline(); !d.IsZero() {
		t = d
	}
	if idle := c.effectiveIdleTimeout(); idle > 0 && !c.lastRecvTime.IsZero() {
		id := c.lastRecvTime.Add(idle)
		if t.IsZero() || id.Before(t) {
			t = id
		}
	}
	if c.state == stateDraining && !c.drainDeadline.IsZero() {
		if t.IsZero() || c.drainDeadline.Before(t) {
			t = c.drainDeadline
		}
	}
	return t
}

// checkTimeout is driven by the caller's timer; it reports whether the
// connection just transitioned to closed.
func (c *Conn) checkTimeout(now time.Time) bool {
	if c.state == stateDraining && !c.drainDeadline.IsZero() && !now.Before(c.drainDeadline) {
		c.state = stateClosed
		return true
	}
	if idle := c.effectiveIdleTimeout(); idle > 0 && !c.lastRecvTime.IsZero() && now.Sub(c.lastRecvTime) > idle {
		c.state = stateClosed
		return true
	}
	c.recovery.onLossDetectionTimeout(now)
	c.streams.sweep(now)
	return false
}

// CheckTimeout is checkTimeout exported for the endpoint layer's timer
// goroutine, which has no other way to drive loss-detection/idle-timeout
// processing since transport.Conn takes no goroutines of its own.
func (c *Conn) CheckTimeout(now time.Time) bool { return c.checkTimeout(now) }

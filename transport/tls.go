package transport

import (
	"context"
	"crypto/tls"
)

// encLevelToSpace maps the standard library's QUIC encryption levels
// onto this package's packet-number spaces (they coincide except that
// 0-RTT shares the Application space's packet numbers).
func encLevelToSpace(level tls.QUICEncryptionLevel) packetSpace {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return packetSpaceInitial
	case tls.QUICEncryptionLevelHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

func suiteFromTLS(id uint16) cipherSuite {
	if id == tls.TLS_CHACHA20_POLY1305_SHA256 {
		return cipherSuiteChaCha20Poly1305
	}
	return cipherSuiteAES128GCM
}

// keyState holds the negotiated sealer/opener pair for one packet
// space, populated once the TLS stack emits its secret events.
type keyState struct {
	sealer *sealer
	opener *opener
}

// tlsHandshake drives a crypto/tls QUICConn through the handshake,
// translating between CRYPTO frame bytes and QUIC key-installation
// events (spec section 4.9; Design Notes section 9 chose the standard
// library's native QUIC support over vendoring a TLS 1.3 stack, since
// none of the example pack carries one).
type tlsHandshake struct {
	conn      *tls.QUICConn
	isClient  bool
	keys      [packetSpaceCount]keyState
	zeroRTTKeys *keyState

	transportParams []byte
	peerTransportParams []byte

	outboundCrypto [packetSpaceCount][]byte

	handshakeComplete bool
}

func newTLSHandshake(cfg *tls.Config, isClient bool, localParams []byte) *tlsHandshake {
	qcfg := &tls.QUICConfig{TLSConfig: cfg}
	h := &tlsHandshake{isClient: isClient, transportParams: localParams}
	if isClient {
		h.conn = tls.QUICClient(qcfg)
	} else {
		h.conn = tls.QUICServer(qcfg)
	}
	h.conn.SetTransportParameters(localParams)
	return h
}

func (h *tlsHandshake) start() error {
	if err := h.conn.Start(context.Background()); err != nil {
		return err
	}
	return h.drainEvents()
}

// feed delivers received CRYPTO frame bytes for the given space to the
// TLS stack and drains every resulting event.
func (h *tlsHandshake) feed(space packetSpace, data []byte) error {
	level := spaceToEncLevel(space)
	if err := h.conn.HandleData(level, data); err != nil {
		return err
	}
	return h.drainEvents()
}

func spaceToEncLevel(space packetSpace) tls.QUICEncryptionLevel {
	switch space {
	case packetSpaceInitial:
		return tls.QUICEncryptionLevelInitial
	case packetSpaceHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func (h *tlsHandshake) drainEvents() error {
	for {
		ev := h.conn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			ks, err := newKeyState(ev.Level, ev.Suite, ev.Data, false)
			if err != nil {
				return err
			}
			h.installRead(ev.Level, ks)
		case tls.QUICSetWriteSecret:
			ks, err := newKeyState(ev.Level, ev.Suite, ev.Data, true)
			if err != nil {
				return err
			}
			h.installWrite(ev.Level, ks)
		case tls.QUICTransportParameters:
			h.peerTransportParams = append([]byte(nil), ev.Data...)
		case tls.QUICHandshakeDone:
			h.handshakeComplete = true
		case tls.QUICWriteData:
			space := encLevelToSpace(ev.Level)
			h.outboundCrypto[space] = append(h.outboundCrypto[space], ev.Data...)
		}
	}
}

// pendingCryptoData drains outbound CRYPTO bytes the TLS stack has
// queued for the given space since the last call.
func (h *tlsHandshake) pendingCryptoData(space packetSpace) []byte {
	data := h.outboundCrypto[space]
	h.outboundCrypto[space] = nil
	return data
}

func newKeyState(level tls.QUICEncryptionLevel, suiteID uint16, secret []byte, write bool) (keyState, error) {
	suite := suiteFromTLS(suiteID)
	keys := deriveKeys(secret, suite)
	if write {
		s, err := newSealer(suite, keys)
		return keyState{sealer: s}, err
	}
	o, err := newOpener(suite, keys)
	return keyState{opener: o}, err
}

func (h *tlsHandshake) installRead(level tls.QUICEncryptionLevel, ks keyState) {
	space := encLevelToSpace(level)
	h.keys[space].opener = ks.opener
}

func (h *tlsHandshake) installWrite(level tls.QUICEncryptionLevel, ks keyState) {
	space := encLevelToSpace(level)
	h.keys[space].sealer = ks.sealer
}

func (h *tlsHandshake) sealerFor(space packetSpace) (*sealer, bool) {
	s := h.keys[space].sealer
	return s, s != nil
}

func (h *tlsHandshake) openerFor(space packetSpace) (*opener, bool) {
	o := h.keys[space].opener
	return o, o != nil
}

func (h *tlsHandshake) done() bool { return h.handshakeComplete }

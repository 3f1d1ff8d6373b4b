package transport

import "encoding/binary"

// version is the only wire version this stack advertises and accepts
// (spec section 3; Non-goals excludes version negotiation beyond this).
const version uint32 = 0x00000001

func versionSupported(v uint32) bool { return v == version }

// packetType distinguishes the long-header packet types plus the
// short-header 1-RTT type (RFC 9000 section 17).
type packetType uint8

const (
	packetTypeInitial packetType = iota
	packetTypeZeroRTT
	packetTypeHandshake
	packetTypeRetry
	packetTypeShort
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "initial"
	case packetTypeZeroRTT:
		return "0-RTT"
	case packetTypeHandshake:
		return "handshake"
	case packetTypeRetry:
		return "retry"
	case packetTypeShort:
		return "short"
	default:
		return "unknown"
	}
}

// packetTypeFromSpace maps a packet-number space to the long-header
// packet type used while that space's keys are live; Application maps
// to the short header once 1-RTT keys are installed.
func packetTypeFromSpace(space packetSpace) packetType {
	switch space {
	case packetSpaceInitial:
		return packetTypeInitial
	case packetSpaceHandshake:
		return packetTypeHandshake
	default:
		return packetTypeShort
	}
}

func spaceFromPacketType(t packetType) packetSpace {
	switch t {
	case packetTypeInitial:
		return packetSpaceInitial
	case packetTypeHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

const (
	headerFormLong  = 0x80
	headerFormShort = 0x00
	fixedBit        = 0x40
)

// longHeaderTypeBits encodes the two packet-type bits of byte 0 for
// each long-header packet type (RFC 9000 section 17.2).
func longHeaderTypeBits(t packetType) byte {
	switch t {
	case packetTypeInitial:
		return 0x00
	case packetTypeZeroRTT:
		return 0x10
	case packetTypeHandshake:
		return 0x20
	case packetTypeRetry:
		return 0x30
	default:
		return 0x00
	}
}

// packetHeader is the decoded form of a long or short header, prior to
// header-protection removal of the packet number (spec section 3).
type packetHeader struct {
	typ       packetType
	version   uint32
	dcid      []byte
	scid      []byte
	token     []byte
	length    uint64 // long header only: remainder length including packet number
	packetNum uint64
	packetNumLen int
	keyPhase  bool

	payloadLen        int
	supportedVersions []uint32
}

func (h *packetHeader) isLongHeader() bool { return h.typ != packetTypeShort }

// packet is the decoded header plus bookkeeping used while a single
// packet is being sent or received; kept as an alias of packetHeader
// since every field already lives there (spec section 3).
type packet = packetHeader

// appendVarint2 appends v using the fixed 2-byte varint encoding
// regardless of whether a shorter encoding would fit. It is used for
// the long header Length field so its encoded size is known before the
// payload (which depends on it) is assembled (RFC 9000 section 17.2);
// v must not exceed maxVarInt2, which MaxPacketSize guarantees.
func appendVarint2(b []byte, v uint64) []byte {
	return append(b, 0x40|byte(v>>8), byte(v))
}

// encodeLongHeader writes byte0, version/DCID/SCID/token-length fields,
// and the Length field (always encoded as a 2-byte varint so its size
// is fixed) for everything up to the packet-number field.
func encodeLongHeader(b []byte, h *packetHeader, pnLen int, length uint64) []byte {
	byte0 := byte(headerFormLong | fixedBit | longHeaderTypeBits(h.typ) | byte(pnLen-1))
	b = append(b, byte0)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], h.version)
	b = append(b, v[:]...)
	b = append(b, byte(len(h.dcid)))
	b = append(b, h.dcid...)
	b = append(b, byte(len(h.scid)))
	b = append(b, h.scid...)
	if h.typ == packetTypeInitial {
		b = appendVarint(b, uint64(len(h.token)))
		b = append(b, h.token...)
	}
	if h.typ != packetTypeRetry {
		b = appendVarint2(b, length)
	}
	return b
}

func longHeaderLen(h *packetHeader, pnLen int) int {
	n := 1 + 4 + 1 + len(h.dcid) + 1 + len(h.scid)
	if h.typ == packetTypeInitial {
		n += varintLen(uint64(len(h.token))) + len(h.token)
	}
	if h.typ != packetTypeRetry {
		n += 2 + pnLen
	}
	return n
}

// encodeShortHeader writes the 1-RTT header (RFC 9000 section 17.3).
func encodeShortHeader(b []byte, dcid []byte, keyPhase bool, pnLen int) []byte {
	byte0 := byte(headerFormShort | fixedBit | byte(pnLen-1))
	if keyPhase {
		byte0 |= 0x04
	}
	b = append(b, byte0)
	return append(b, dcid...)
}

// decodeHeaderForm reads just enough of the first byte and connection
// IDs to know where the packet-number field starts; packet-number
// decryption (header protection) happens later once keys are matched.
func decodeHeaderForm(data []byte, dcidLen int) (h packetHeader, headerLen int, ok bool) {
	if len(data) < 1 {
		return packetHeader{}, 0, false
	}
	byte0 := data[0]
	if byte0&headerFormLong == 0 {
		if len(data) < 1+dcidLen {
			return packetHeader{}, 0, false
		}
		h.typ = packetTypeShort
		h.keyPhase = byte0&0x04 != 0
		h.dcid = append([]byte(nil), data[1:1+dcidLen]...)
		return h, 1 + dcidLen, true
	}

	if len(data) < 5 {
		return packetHeader{}, 0, false
	}
	h.version = binary.BigEndian.Uint32(data[1:5])
	off := 5
	switch byte0 & 0x30 {
	case 0x00:
		h.typ = packetTypeInitial
	case 0x10:
		h.typ = packetTypeZeroRTT
	case 0x20:
		h.typ = packetTypeHandshake
	case 0x30:
		h.typ = packetTypeRetry
	}
	if off >= len(data) {
		return packetHeader{}, 0, false
	}
	dlen := int(data[off])
	off++
	if off+dlen > len(data) {
		return packetHeader{}, 0, false
	}
	h.dcid = append([]byte(nil), data[off:off+dlen]...)
	off += dlen

	if off >= len(data) {
		return packetHeader{}, 0, false
	}
	slen := int(data[off])
	off++
	if off+slen > len(data) {
		return packetHeader{}, 0, false
	}
	h.scid = append([]byte(nil), data[off:off+slen]...)
	off += slen

	if h.typ == packetTypeRetry {
		// The Retry token runs up to the trailing integrity tag.
		if len(data)-retryIntegrityTagLen > off {
			h.token = append([]byte(nil), data[off:len(data)-retryIntegrityTagLen]...)
		}
		return h, off, true
	}

	if h.typ == packetTypeInitial {
		var tokenLen uint64
		n := getVarint(data[off:], &tokenLen)
		if n == 0 {
			return packetHeader{}, 0, false
		}
		off += n
		if off+int(tokenLen) > len(data) {
			return packetHeader{}, 0, false
		}
		h.token = append([]byte(nil), data[off:off+int(tokenLen)]...)
		off += int(tokenLen)
	}

	var length uint64
	n := getVarint(data[off:], &length)
	if n == 0 {
		return packetHeader{}, 0, false
	}
	off += n
	h.length = length
	return h, off, true
}

// retryIntegrityTagLen is the fixed AEAD tag length appended to a
// Retry packet per RFC 9001 section 5.8.
const retryIntegrityTagLen = 16

// DatagramHeader is the minimal wire information the endpoint layer
// needs to route an inbound datagram before a Conn exists to decode it
// into (the transmission layer's dispatch table, spec section 6).
type DatagramHeader struct {
	DestCID []byte
	SrcCID  []byte
	Type    string
	Version uint32
	Token   []byte
}

// PeekHeader parses just enough of a datagram's first packet to route
// it by destination connection ID, without needing any keys. dcidLen is
// the connection ID length this endpoint issues, required to find the
// boundary of a short-header packet's DCID field.
func PeekHeader(data []byte, dcidLen int) (DatagramHeader, bool) {
	h, _, ok := decodeHeaderForm(data, dcidLen)
	if !ok {
		return DatagramHeader{}, false
	}
	return DatagramHeader{
		DestCID: h.dcid,
		SrcCID:  h.scid,
		Type:    h.typ.String(),
		Version: h.version,
		Token:   h.token,
	}, true
}

// IsLongHeaderPacket reports whether the first byte of a datagram
// indicates the long header form (Initial, 0-RTT, Handshake, Retry).
func IsLongHeaderPacket(data []byte) bool {
	return len(data) > 0 && data[0]&headerFormLong != 0
}

// BuildRetryPacket encodes a complete Retry packet (RFC 9000 section
// 17.2.5, header plus the RFC 9001 section 5.8 integrity tag). scid is
// the connection id this server will use once the client retries under
// a token-bearing Initial (the Retry Source Connection ID); triggerSCID
// is the Source Connection ID of the client packet that triggered the
// Retry, echoed into this packet's Destination Connection ID field;
// origDestCID is the Destination Connection ID of that same triggering
// packet, used only as the integrity tag's associated data per RFC
// 9001 section 5.8, never placed on the wire itself. Retry-token
// minting is an endpoint-layer concern (it needs the source address and
// a server secret Conn has no reason to own), so this function only
// does wire encoding; the quic package supplies the token bytes.
func BuildRetryPacket(scid, triggerSCID, origDestCID, token []byte) ([]byte, error) {
	h := packetHeader{typ: packetTypeRetry, version: version, dcid: triggerSCID, scid: scid, token: token}
	b := encodeLongHeader(nil, &h, 1, 0)
	b = append(b, token...)
	tag, err := computeRetryIntegrityTag(origDestCID, b)
	if err != nil {
		return nil, err
	}
	return append(b, tag...), nil
}

// Size bounds from RFC 9000 sections 14 and 12.2.
const (
	MaxCIDLength         = 20
	MinInitialPacketSize = 1200
	MaxPacketSize        = 1452
	minPayloadLength     = 4 // Smallest legal encrypted payload (packet number placeholder + tag headroom handled by caller).

	maxCryptoFrameOverhead = 1 + 8 + 8 // type + offset + length varints, worst case
	maxStreamFrameOverhead = 1 + 8 + 8 + 8
)

// packetNumberLen picks the smallest packet-number encoding (RFC 9000
// section 17.1) able to represent pn unambiguously given the largest
// packet number already acknowledged by the peer in this space.
func packetNumberLen(pn, largestAcked uint64) int {
	delta := pn
	if largestAcked > 0 || pn > largestAcked {
		delta = pn - largestAcked
	}
	switch {
	case delta < 1<<7:
		return 1
	case delta < 1<<15:
		return 2
	case delta < 1<<23:
		return 3
	default:
		return 4
	}
}

func encodePacketNumber(b []byte, pn uint64, length int) []byte {
	for i := length - 1; i >= 0; i-- {
		b = append(b, byte(pn>>(8*i)))
	}
	return b
}

func decodePacketNumber(b []byte, length int) uint64 {
	var pn uint64
	for i := 0; i < length; i++ {
		pn = pn<<8 | uint64(b[i])
	}
	return pn
}

// encode writes a full packet header (long or short form) for h into
// b using pnLen bytes for the truncated packet number, returning the
// offset at which the packet number field starts (for Retry, which has
// no packet number, the header length).
func (h *packetHeader) encode(b []byte, pnLen int, length uint64) ([]byte, int) {
	if h.isLongHeader() {
		b = encodeLongHeader(b, h, pnLen, length)
	} else {
		b = encodeShortHeader(b, h.dcid, h.keyPhase, pnLen)
	}
	if h.typ == packetTypeRetry {
		return b, len(b)
	}
	pnOffset := len(b)
	b = encodePacketNumber(b, h.packetNum, pnLen)
	return b, pnOffset
}

// headerLen returns the number of bytes the header occupies, including
// the packet-number field (but not for Retry packets, which have none).
func (h *packetHeader) headerLen(pnLen int) int {
	if h.isLongHeader() {
		return longHeaderLen(h, pnLen)
	}
	return 1 + len(h.dcid) + pnLen
}

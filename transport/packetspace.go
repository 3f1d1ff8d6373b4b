package transport

import "time"

// cryptoSendBuffer is the unbounded, always-flow-control-exempt send
// buffer backing the CRYPTO stream of one packet-number space (RFC
// 9000 section 7; unlike application streams, CRYPTO data has no flow
// control window, only a buffering limit enforced by the TLS stack).
type cryptoSendBuffer struct {
	buf      []byte
	base     uint64
	writeOff uint64
	sentOff  uint64
	ackedOff uint64
}

func (c *cryptoSendBuffer) push(data []byte, offset uint64) {
	end := offset + uint64(len(data))
	if end <= c.writeOff {
		return
	}
	if offset > c.writeOff {
		// Should not happen: CRYPTO data is produced in order by the
		// local TLS stack, but guard against a gap anyway.
		pad := make([]byte, offset-c.writeOff)
		c.buf = append(c.buf, pad...)
		c.writeOff = offset
	}
	c.buf = append(c.buf, data[max64(0, c.writeOff-offset):]...)
	c.writeOff = end
	if offset < c.sentOff {
		c.sentOff = offset
	}
}

func (c *cryptoSendBuffer) popSend(maxLen int) (data []byte, offset uint64) {
	unsent := c.writeOff - c.sentOff
	if unsent == 0 {
		return nil, 0
	}
	off := c.sentOff - c.base
	n := unsent
	if n > uint64(maxLen) {
		n = uint64(maxLen)
	}
	data = c.buf[off : off+n]
	offset = c.sentOff
	c.sentOff += n
	return data, offset
}

func (c *cryptoSendBuffer) ack(offset uint64, length int) {
	end := offset + uint64(length)
	if end > c.ackedOff {
		if end-c.base <= uint64(len(c.buf)) {
			c.buf = c.buf[end-c.base:]
		}
		c.base = end
		c.ackedOff = end
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// packetNumberSpace holds everything scoped to one encryption level /
// packet-number space (spec section 3): the AEAD keys, the CRYPTO
// reassembly buffers, and the ack-generation bookkeeping.
type packetNumberSpace struct {
	sealer *sealer
	opener *opener

	nextPacketNumber uint64

	received          rangeSet // every packet number seen so far, for dedup
	recvPacketNeedAck rangeSet // subset not yet acked
	ackElicited       bool

	largestRecvPacketTime time.Time
	firstPacketAcked      bool

	cryptoSend cryptoSendBuffer
	cryptoRecv *sorter

	dropped bool
}

func (sp *packetNumberSpace) init() {
	sp.cryptoRecv = newSorter()
}

func (sp *packetNumberSpace) reset() {
	sp.nextPacketNumber = 0
	sp.received = rangeSet{}
	sp.recvPacketNeedAck = rangeSet{}
	sp.ackElicited = false
	sp.firstPacketAcked = false
	sp.cryptoSend = cryptoSendBuffer{}
	sp.cryptoRecv = newSorter()
}

func (sp *packetNumberSpace) drop() {
	sp.dropped = true
	sp.sealer = nil
	sp.opener = nil
	sp.cryptoSend = cryptoSendBuffer{}
	sp.cryptoRecv = nil
}

func (sp *packetNumberSpace) canEncrypt() bool { return sp.sealer != nil }
func (sp *packetNumberSpace) canDecrypt() bool { return sp.opener != nil }

func (sp *packetNumberSpace) isPacketReceived(pn uint64) bool {
	return sp.received.contains(pn)
}

func (sp *packetNumberSpace) onPacketReceived(pn uint64, now time.Time) {
	sp.received.insert(pn)
	sp.recvPacketNeedAck.insert(pn)
	if pn == sp.received.largest() {
		sp.largestRecvPacketTime = now
	}
}

// ready reports whether this space has anything worth spending a
// packet on: an ack-eliciting packet to acknowledge or unsent CRYPTO
// data (writeSpace does not call it).
func (sp *packetNumberSpace) ready() bool {
	if !sp.canEncrypt() {
		return false
	}
	if sp.ackElicited {
		return true
	}
	return sp.cryptoSend.writeOff > sp.cryptoSend.sentOff
}

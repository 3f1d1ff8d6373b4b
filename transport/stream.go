package transport

import (
	"io"
	"time"
)

// Stream IDs encode initiator and direction in their two low bits
// (RFC 9000 section 2.1), exactly as in original_source/src/stream.h.
const (
	streamClientBidi = 0x0
	streamServerBidi = 0x1
	streamClientUni  = 0x2
	streamServerUni  = 0x3
)

func streamIsBidi(id uint64) bool         { return id&0x2 == 0 }
func streamIsUni(id uint64) bool          { return id&0x2 != 0 }
func streamIsClientInitiated(id uint64) bool { return id&0x1 == 0 }
func streamIsServerInitiated(id uint64) bool { return id&0x1 != 0 }

// sendStream is the outgoing half of a stream (spec section 4.1/4.6).
// Unsent bytes live in buf at offsets [base, base+len(buf)); the AEAD
// packet writer slices directly out of buf to avoid copying into
// per-frame storage.
type sendStream struct {
	id   uint64
	flow *streamFlowControl

	buf  []byte
	base uint64 // stream offset of buf[0]

	writeOff uint64 // total bytes Write has accepted
	sentOff  uint64 // total bytes already placed into at least one packet
	ackedOff uint64 // total bytes confirmed delivered; buf is trimmed to this

	finSet      bool
	finOff      uint64
	finSent     bool
	finAcked    bool

	resetCode  uint64
	resetSent  bool
	resetAcked bool
	stopReceived bool

	closed bool
}

func newSendStream(id uint64, flow *streamFlowControl) *sendStream {
	return &sendStream{id: id, flow: flow}
}

// write appends application bytes to the send buffer, bounded by
// available stream-level flow-control credit.
func (s *sendStream) write(data []byte) (int, error) {
	if s.closed || s.resetSent {
		return 0, errClosed
	}
	avail := s.flow.getSwnd()
	n := uint64(len(data))
	if n > avail {
		n = avail
	}
	if n == 0 && len(data) > 0 {
		return 0, nil
	}
	s.buf = append(s.buf, data[:n]...)
	s.writeOff += n
	return int(n), nil
}

func (s *sendStream) closeWrite() {
	if !s.finSet {
		s.finSet = true
		s.finOff = s.writeOff
	}
}

// pending reports whether there is unsent data, an unsent FIN, or an
// unsent RESET_STREAM.
func (s *sendStream) pending() bool {
	if s.resetCode != 0 && !s.resetSent {
		return true
	}
	if s.sentOff < s.writeOff {
		return true
	}
	if s.finSet && !s.finSent {
		return true
	}
	return false
}

// nextFrame builds one STREAM frame carrying up to maxLen bytes of
// unsent data, advancing sentOff and reserving flow-control credit.
func (s *sendStream) nextFrame(maxLen int) *streamFrame {
	if s.resetCode != 0 && !s.resetSent {
		return nil
	}
	unsent := s.writeOff - s.sentOff
	off := s.sentOff - s.base
	avail := uint64(len(s.buf)) - off
	if unsent > avail {
		unsent = avail
	}
	n := unsent
	// headerLen grows with frame fields; reserve conservatively for a
	// varint length field and rely on the caller for overall sizing.
	if n > uint64(maxLen) {
		n = uint64(maxLen)
	}
	fin := s.finSet && s.sentOff+n == s.finOff
	if n == 0 && !fin {
		return nil
	}
	data := s.buf[off : off+n]
	f := &streamFrame{streamID: s.id, offset: s.sentOff, data: data, fin: fin, explicitLen: true}
	s.sentOff += n
	s.flow.sent(n)
	if fin {
		s.finSent = true
	}
	return f
}

// ack releases acknowledged bytes from the retained buffer.
func (s *sendStream) ack(f *streamFrame) {
	end := f.offset + uint64(len(f.data))
	if f.offset <= s.ackedOff && end > s.ackedOff {
		if end-s.base <= uint64(len(s.buf)) {
			s.buf = s.buf[end-s.base:]
		}
		s.base = end
		s.ackedOff = end
	}
	if f.fin {
		s.finAcked = true
	}
}

// lost rewinds sentOff so the frame's range is retransmitted.
func (s *sendStream) lost(f *streamFrame) {
	if f.offset < s.sentOff {
		s.sentOff = f.offset
	}
	if f.fin {
		s.finSent = false
	}
}

func (s *sendStream) reset(code uint64) {
	if s.resetCode == 0 {
		s.resetCode = code + 1 // disambiguate "no reset" (0) from code 0
	}
}

func (s *sendStream) resetFrame() *resetStreamFrame {
	if s.resetCode == 0 || s.resetSent {
		return nil
	}
	s.resetSent = true
	return &resetStreamFrame{streamID: s.id, errorCode: s.resetCode - 1, finalSize: s.writeOff}
}

// recvStream is the incoming half of a stream (spec section 4.1/4.6),
// built directly atop sorter for out-of-order reassembly.
type recvStream struct {
	id   uint64
	flow *streamFlowControl
	buf  *sorter

	finalSize uint64
	finKnown  bool
	finDelivered bool

	resetCode    uint64
	resetReceived bool

	stopSendingCode uint64
	stopSendingSent bool
}

func newRecvStream(id uint64, flow *streamFlowControl) *recvStream {
	return &recvStream{id: id, flow: flow, buf: newSorter()}
}

// handle applies an incoming STREAM frame's payload and flow-control
// bookkeeping.
func (s *recvStream) handle(f *streamFrame) error {
	end := f.offset + uint64(len(f.data))
	if s.finKnown && ((f.fin && end != s.finalSize) || end > s.finalSize) {
		return newError(FinalSizeError, "stream data beyond final size")
	}
	if end > s.flow.rwnd {
		return errFlowControl
	}
	s.flow.updateRwnd(end, f.fin)
	if f.fin {
		s.finKnown = true
		s.finalSize = end
	}
	if len(f.data) > 0 {
		if err := s.buf.write(f.offset, f.data); err != nil {
			return err
		}
	}
	return nil
}

func (s *recvStream) handleReset(f *resetStreamFrame) error {
	if s.finKnown && f.finalSize != s.finalSize {
		return newError(FinalSizeError, "reset final size mismatch")
	}
	s.resetReceived = true
	s.resetCode = f.errorCode
	s.finKnown = true
	s.finalSize = f.finalSize
	s.flow.abandon()
	return nil
}

func (s *recvStream) read(out []byte) (int, bool) {
	n := s.buf.read(out)
	s.flow.read(time.Now(), int(n))
	fin := s.finKnown && s.buf.readedSize >= s.finalSize && n == 0
	return int(n), fin
}

func (s *recvStream) readable() uint64 { return s.buf.readable() }

// stopSending records that the application abandoned reading this
// stream and a STOP_SENDING frame should be sent.
func (s *recvStream) stopSending(code uint64) {
	if !s.stopSendingSent {
		s.stopSendingCode = code
		s.stopSendingSent = true
	}
}

// Stream is the bidi/uni stream handle combining both halves; one or
// the other is nil for unidirectional streams the local endpoint did
// not originate in that direction (spec section 4.1).
type Stream struct {
	id   uint64
	send *sendStream
	recv *recvStream
}

func (s *Stream) ID() uint64 { return s.id }

// Read implements io.Reader over the stream's receive half.
func (s *Stream) Read(p []byte) (int, error) {
	if s.recv == nil {
		return 0, errClosed
	}
	if s.recv.resetReceived {
		return 0, errStreamReset
	}
	n, fin := s.recv.read(p)
	if n == 0 && fin {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer over the stream's send half.
func (s *Stream) Write(p []byte) (int, error) {
	if s.send == nil {
		return 0, errClosed
	}
	return s.send.write(p)
}

// Close closes the send half (sends FIN once buffered data drains).
func (s *Stream) Close() error {
	if s.send != nil {
		s.send.closeWrite()
	}
	return nil
}

// Reset abandons the send half immediately with the given application
// error code.
func (s *Stream) Reset(code uint64) {
	if s.send != nil {
		s.send.reset(code)
	}
}

// CancelRead abandons the receive half, requesting the peer stop
// sending via STOP_SENDING.
func (s *Stream) CancelRead(code uint64) {
	if s.recv != nil {
		s.recv.stopSending(code)
	}
}

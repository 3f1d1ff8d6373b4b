package transport

// frameType is the wire opcode of a QUIC frame, per spec section 3 and
// RFC 9000 section 19.
type frameType uint64

const (
	frameTypePadding frameType = 0x00
	frameTypePing    frameType = 0x01
	frameTypeAck     frameType = 0x02
	frameTypeAckECN  frameType = 0x03

	frameTypeResetStream  frameType = 0x04
	frameTypeStopSending  frameType = 0x05
	frameTypeCrypto       frameType = 0x06
	frameTypeNewToken     frameType = 0x07
	frameTypeStream       frameType = 0x08 // 0x08-0x0f, flags in low 3 bits
	frameTypeMaxData      frameType = 0x10
	frameTypeMaxStreamData frameType = 0x11
	frameTypeMaxStreamsBidi frameType = 0x12
	frameTypeMaxStreamsUni frameType = 0x13
	frameTypeDataBlocked  frameType = 0x14
	frameTypeStreamDataBlocked frameType = 0x15
	frameTypeStreamsBlockedBidi frameType = 0x16
	frameTypeStreamsBlockedUni frameType = 0x17
	frameTypeNewConnectionID frameType = 0x18
	frameTypeRetireConnectionID frameType = 0x19
	frameTypePathChallenge frameType = 0x1a
	frameTypePathResponse frameType = 0x1b
	frameTypeConnectionCloseQUIC frameType = 0x1c
	frameTypeConnectionCloseApp  frameType = 0x1d
	frameTypeHandshakeDone frameType = 0x1e
)

// frame is implemented by every concrete QUIC frame type (spec 4.6).
// encode appends the frame's wire encoding to b; encodedLen returns the
// exact byte count encode would append, used both for datagram packing
// and for retransmission-queue capacity checks.
type frame interface {
	encode(b []byte) []byte
	encodedLen() int
}

func frameTypeOf(f frame) frameType {
	switch v := f.(type) {
	case *paddingFrame:
		return frameTypePadding
	case *pingFrame:
		return frameTypePing
	case *ackFrame:
		return frameTypeAck
	case *resetStreamFrame:
		return frameTypeResetStream
	case *stopSendingFrame:
		return frameTypeStopSending
	case *cryptoFrame:
		return frameTypeCrypto
	case *newTokenFrame:
		return frameTypeNewToken
	case *streamFrame:
		return frameTypeStream
	case *maxDataFrame:
		return frameTypeMaxData
	case *maxStreamDataFrame:
		return frameTypeMaxStreamData
	case *maxStreamsFrame:
		if v.uni {
			return frameTypeMaxStreamsUni
		}
		return frameTypeMaxStreamsBidi
	case *dataBlockedFrame:
		return frameTypeDataBlocked
	case *streamDataBlockedFrame:
		return frameTypeStreamDataBlocked
	case *streamsBlockedFrame:
		if v.uni {
			return frameTypeStreamsBlockedUni
		}
		return frameTypeStreamsBlockedBidi
	case *newConnectionIDFrame:
		return frameTypeNewConnectionID
	case *retireConnectionIDFrame:
		return frameTypeRetireConnectionID
	case *connectionCloseFrame:
		if v.isApplication {
			return frameTypeConnectionCloseApp
		}
		return frameTypeConnectionCloseQUIC
	case *handshakeDoneFrame:
		return frameTypeHandshakeDone
	default:
		return frameTypePing
	}
}

// isFrameAckEliciting reports whether receiving a frame of this type
// obligates the peer to eventually send an ACK (RFC 9000 section 13.2).
func isFrameAckEliciting(t frameType) bool {
	switch t {
	case frameTypeAck, frameTypeAckECN, frameTypePadding, frameTypeConnectionCloseQUIC, frameTypeConnectionCloseApp:
		return false
	default:
		return true
	}
}

func isStreamFrameType(t frameType) bool {
	return t >= frameTypeStream && t <= frameTypeStream+0x07
}

// --- padding / ping ---------------------------------------------------

type paddingFrame struct{ length int }

func (f *paddingFrame) encode(b []byte) []byte {
	for i := 0; i < f.length; i++ {
		b = append(b, byte(frameTypePadding))
	}
	return b
}
func (f *paddingFrame) encodedLen() int { return f.length }

func newPaddingFrame(length int) *paddingFrame { return &paddingFrame{length: length} }

type pingFrame struct{}

func (f *pingFrame) encode(b []byte) []byte { return appendVarint(b, uint64(frameTypePing)) }
func (f *pingFrame) encodedLen() int        { return varintLen(uint64(frameTypePing)) }

// --- ack ----------------------------------------------------------------

// ackFrame carries an encoded rangeSet snapshot plus optional ECN
// counts, mirroring RFC 9000 section 19.3.
type ackFrame struct {
	largest    uint64
	delay      uint64 // in ack-delay-exponent units
	ranges     []ackRange
	ect0, ect1, ce uint64
	ecn bool
}

func (f *ackFrame) encode(b []byte) []byte {
	t := frameTypeAck
	if f.ecn {
		t = frameTypeAckECN
	}
	b = appendVarint(b, uint64(t))
	b = appendVarint(b, f.largest)
	b = appendVarint(b, f.delay)
	b = appendVarint(b, uint64(len(f.ranges)-1))
	first := f.ranges[len(f.ranges)-1]
	b = appendVarint(b, first.len()-1)
	prevStart := first.start
	for i := len(f.ranges) - 2; i >= 0; i-- {
		r := f.ranges[i]
		gap := prevStart - r.end - 2
		b = appendVarint(b, gap)
		b = appendVarint(b, r.len()-1)
		prevStart = r.start
	}
	if f.ecn {
		b = appendVarint(b, f.ect0)
		b = appendVarint(b, f.ect1)
		b = appendVarint(b, f.ce)
	}
	return b
}

func (f *ackFrame) encodedLen() int {
	t := frameTypeAck
	if f.ecn {
		t = frameTypeAckECN
	}
	n := varintLen(uint64(t)) + varintLen(f.largest) + varintLen(f.delay)
	n += varintLen(uint64(len(f.ranges) - 1))
	first := f.ranges[len(f.ranges)-1]
	n += varintLen(first.len() - 1)
	prevStart := first.start
	for i := len(f.ranges) - 2; i >= 0; i-- {
		r := f.ranges[i]
		n += varintLen(prevStart - r.end - 2)
		n += varintLen(r.len() - 1)
		prevStart = r.start
	}
	if f.ecn {
		n += varintLen(f.ect0) + varintLen(f.ect1) + varintLen(f.ce)
	}
	return n
}

func newAckFrame(rs *rangeSet, delayExp uint8, delay uint64) *ackFrame {
	return &ackFrame{largest: rs.largest(), delay: delay, ranges: append([]ackRange(nil), rs.ranges...)}
}

// --- stream reset / stop sending ----------------------------------------

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func (f *resetStreamFrame) encode(b []byte) []byte {
	b = appendVarint(b, uint64(frameTypeResetStream))
	b = appendVarint(b, f.streamID)
	b = appendVarint(b, f.errorCode)
	return appendVarint(b, f.finalSize)
}
func (f *resetStreamFrame) encodedLen() int {
	return varintLen(uint64(frameTypeResetStream)) + varintLen(f.streamID) + varintLen(f.errorCode) + varintLen(f.finalSize)
}

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func (f *stopSendingFrame) encode(b []byte) []byte {
	b = appendVarint(b, uint64(frameTypeStopSending))
	b = appendVarint(b, f.streamID)
	return appendVarint(b, f.errorCode)
}
func (f *stopSendingFrame) encodedLen() int {
	return varintLen(uint64(frameTypeStopSending)) + varintLen(f.streamID) + varintLen(f.errorCode)
}

// --- crypto / new_token ---------------------------------------------------

type cryptoFrame struct {
	offset uint64
	data   []byte
}

func (f *cryptoFrame) encode(b []byte) []byte {
	b = appendVarint(b, uint64(frameTypeCrypto))
	b = appendVarint(b, f.offset)
	b = appendVarint(b, uint64(len(f.data)))
	return append(b, f.data...)
}
func (f *cryptoFrame) encodedLen() int {
	return varintLen(uint64(frameTypeCrypto)) + varintLen(f.offset) + varintLen(uint64(len(f.data))) + len(f.data)
}

type newTokenFrame struct {
	token []byte
}

func (f *newTokenFrame) encode(b []byte) []byte {
	b = appendVarint(b, uint64(frameTypeNewToken))
	b = appendVarint(b, uint64(len(f.token)))
	return append(b, f.token...)
}
func (f *newTokenFrame) encodedLen() int {
	return varintLen(uint64(frameTypeNewToken)) + varintLen(uint64(len(f.token))) + len(f.token)
}

// --- stream ---------------------------------------------------------------

// streamFrame, encoded flags: 0x04 OFF, 0x02 LEN, 0x01 FIN (RFC 9000
// section 19.8). length is always explicit (LEN bit always set) except
// when the frame fills the remainder of the packet.
type streamFrame struct {
	streamID uint64
	offset   uint64
	data     []byte
	fin      bool
	explicitLen bool
}

func (f *streamFrame) encode(b []byte) []byte {
	t := uint64(frameTypeStream)
	if f.offset != 0 {
		t |= 0x04
	}
	if f.explicitLen {
		t |= 0x02
	}
	if f.fin {
		t |= 0x01
	}
	b = appendVarint(b, t)
	b = appendVarint(b, f.streamID)
	if f.offset != 0 {
		b = appendVarint(b, f.offset)
	}
	if f.explicitLen {
		b = appendVarint(b, uint64(len(f.data)))
	}
	return append(b, f.data...)
}

func (f *streamFrame) encodedLen() int {
	n := varintLen(uint64(frameTypeStream)) + varintLen(f.streamID)
	if f.offset != 0 {
		n += varintLen(f.offset)
	}
	if f.explicitLen {
		n += varintLen(uint64(len(f.data)))
	}
	return n + len(f.data)
}

func (f *streamFrame) headerLen() int {
	n := varintLen(uint64(frameTypeStream)) + varintLen(f.streamID)
	if f.offset != 0 {
		n += varintLen(f.offset)
	}
	if f.explicitLen {
		n += varintLen(uint64(len(f.data)))
	}
	return n
}

// --- flow control -----------------------------------------------------

type maxDataFrame struct{ max uint64 }

func (f *maxDataFrame) encode(b []byte) []byte {
	return appendVarint(appendVarint(b, uint64(frameTypeMaxData)), f.max)
}
func (f *maxDataFrame) encodedLen() int {
	return varintLen(uint64(frameTypeMaxData)) + varintLen(f.max)
}

type maxStreamDataFrame struct {
	streamID uint64
	max      uint64
}

func (f *maxStreamDataFrame) encode(b []byte) []byte {
	b = appendVarint(b, uint64(frameTypeMaxStreamData))
	b = appendVarint(b, f.streamID)
	return appendVarint(b, f.max)
}
func (f *maxStreamDataFrame) encodedLen() int {
	return varintLen(uint64(frameTypeMaxStreamData)) + varintLen(f.streamID) + varintLen(f.max)
}

type maxStreamsFrame struct {
	max uint64
	uni bool
}

func (f *maxStreamsFrame) encode(b []byte) []byte {
	t := frameTypeMaxStreamsBidi
	if f.uni {
		t = frameTypeMaxStreamsUni
	}
	return appendVarint(appendVarint(b, uint64(t)), f.max)
}
func (f *maxStreamsFrame) encodedLen() int {
	t := frameTypeMaxStreamsBidi
	if f.uni {
		t = frameTypeMaxStreamsUni
	}
	return varintLen(uint64(t)) + varintLen(f.max)
}

type dataBlockedFrame struct{ limit uint64 }

func (f *dataBlockedFrame) encode(b []byte) []byte {
	return appendVarint(appendVarint(b, uint64(frameTypeDataBlocked)), f.limit)
}
func (f *dataBlockedFrame) encodedLen() int {
	return varintLen(uint64(frameTypeDataBlocked)) + varintLen(f.limit)
}

type streamDataBlockedFrame struct {
	streamID uint64
	limit    uint64
}

func (f *streamDataBlockedFrame) encode(b []byte) []byte {
	b = appendVarint(b, uint64(frameTypeStreamDataBlocked))
	b = appendVarint(b, f.streamID)
	return appendVarint(b, f.limit)
}
func (f *streamDataBlockedFrame) encodedLen() int {
	return varintLen(uint64(frameTypeStreamDataBlocked)) + varintLen(f.streamID) + varintLen(f.limit)
}

type streamsBlockedFrame struct {
	limit uint64
	uni   bool
}

func (f *streamsBlockedFrame) encode(b []byte) []byte {
	t := frameTypeStreamsBlockedBidi
	if f.uni {
		t = frameTypeStreamsBlockedUni
	}
	return appendVarint(appendVarint(b, uint64(t)), f.limit)
}
func (f *streamsBlockedFrame) encodedLen() int {
	t := frameTypeStreamsBlockedBidi
	if f.uni {
		t = frameTypeStreamsBlockedUni
	}
	return varintLen(uint64(t)) + varintLen(f.limit)
}

// --- connection ids --------------------------------------------------

type newConnectionIDFrame struct {
	seq       uint64
	retirePriorTo uint64
	connID    []byte
	statelessResetToken [16]byte
}

func (f *newConnectionIDFrame) encode(b []byte) []byte {
	b = appendVarint(b, uint64(frameTypeNewConnectionID))
	b = appendVarint(b, f.seq)
	b = appendVarint(b, f.retirePriorTo)
	b = append(b, byte(len(f.connID)))
	b = append(b, f.connID...)
	return append(b, f.statelessResetToken[:]...)
}
func (f *newConnectionIDFrame) encodedLen() int {
	return varintLen(uint64(frameTypeNewConnectionID)) + varintLen(f.seq) + varintLen(f.retirePriorTo) + 1 + len(f.connID) + 16
}

type retireConnectionIDFrame struct{ seq uint64 }

func (f *retireConnectionIDFrame) encode(b []byte) []byte {
	return appendVarint(appendVarint(b, uint64(frameTypeRetireConnectionID)), f.seq)
}
func (f *retireConnectionIDFrame) encodedLen() int {
	return varintLen(uint64(frameTypeRetireConnectionID)) + varintLen(f.seq)
}

// --- connection close / handshake done --------------------------------

type connectionCloseFrame struct {
	errorCode     uint64
	frameType_    uint64
	reason        string
	isApplication bool
}

func (f *connectionCloseFrame) encode(b []byte) []byte {
	t := frameTypeConnectionCloseQUIC
	if f.isApplication {
		t = frameTypeConnectionCloseApp
	}
	b = appendVarint(b, uint64(t))
	b = appendVarint(b, f.errorCode)
	if !f.isApplication {
		b = appendVarint(b, f.frameType_)
	}
	b = appendVarint(b, uint64(len(f.reason)))
	return append(b, f.reason...)
}
func (f *connectionCloseFrame) encodedLen() int {
	t := frameTypeConnectionCloseQUIC
	if f.isApplication {
		t = frameTypeConnectionCloseApp
	}
	n := varintLen(uint64(t)) + varintLen(f.errorCode)
	if !f.isApplication {
		n += varintLen(f.frameType_)
	}
	return n + varintLen(uint64(len(f.reason))) + len(f.reason)
}

type handshakeDoneFrame struct{}

func (f *handshakeDoneFrame) encode(b []byte) []byte {
	return appendVarint(b, uint64(frameTypeHandshakeDone))
}
func (f *handshakeDoneFrame) encodedLen() int {
	return varintLen(uint64(frameTypeHandshakeDone))
}

// decodeFrame parses one frame from the front of b (its type included),
// returning the frame value and the number of bytes consumed, or an
// error if b does not hold a complete, well-formed frame.
func decodeFrame(b []byte) (frame, int, error) {
	var t uint64
	tn := getVarint(b, &t)
	if tn == 0 {
		return nil, 0, newError(FrameEncodingError, "truncated frame type")
	}
	ft := frameType(t)
	switch {
	case ft == frameTypePadding:
		n := 0
		for n < len(b) && b[n] == byte(frameTypePadding) {
			n++
		}
		return &paddingFrame{length: n}, n, nil
	case ft == frameTypePing:
		return &pingFrame{}, tn, nil
	case ft == frameTypeAck || ft == frameTypeAckECN:
		return decodeAckFrame(b, tn, ft == frameTypeAckECN)
	case ft == frameTypeResetStream:
		return decodeResetStreamFrame(b, tn)
	case ft == frameTypeStopSending:
		return decodeStopSendingFrame(b, tn)
	case ft == frameTypeCrypto:
		return decodeCryptoFrame(b, tn)
	case ft == frameTypeNewToken:
		return decodeNewTokenFrame(b, tn)
	case isStreamFrameType(ft):
		return decodeStreamFrame(b, tn, ft)
	case ft == frameTypeMaxData:
		return decodeMaxDataFrame(b, tn)
	case ft == frameTypeMaxStreamData:
		return decodeMaxStreamDataFrame(b, tn)
	case ft == frameTypeMaxStreamsBidi || ft == frameTypeMaxStreamsUni:
		return decodeMaxStreamsFrame(b, tn, ft == frameTypeMaxStreamsUni)
	case ft == frameTypeDataBlocked:
		return decodeDataBlockedFrame(b, tn)
	case ft == frameTypeStreamDataBlocked:
		return decodeStreamDataBlockedFrame(b, tn)
	case ft == frameTypeStreamsBlockedBidi || ft == frameTypeStreamsBlockedUni:
		return decodeStreamsBlockedFrame(b, tn, ft == frameTypeStreamsBlockedUni)
	case ft == frameTypeNewConnectionID:
		return decodeNewConnectionIDFrame(b, tn)
	case ft == frameTypeRetireConnectionID:
		return decodeRetireConnectionIDFrame(b, tn)
	case ft == frameTypeConnectionCloseQUIC || ft == frameTypeConnectionCloseApp:
		return decodeConnectionCloseFrame(b, tn, ft == frameTypeConnectionCloseApp)
	case ft == frameTypeHandshakeDone:
		return &handshakeDoneFrame{}, tn, nil
	default:
		return nil, 0, newError(FrameEncodingError, sprint("unsupported frame type ", uint64(ft)))
	}
}

func decodeAckFrame(b []byte, off int, ecn bool) (frame, int, error) {
	f := &ackFrame{ecn: ecn}
	n := off
	var largest, delay, rangeCount, firstRange uint64
	for _, v := range []*uint64{&largest, &delay, &rangeCount, &firstRange} {
		k := getVarint(b[n:], v)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
	}
	f.largest = largest
	f.delay = delay
	smallest := largest - firstRange
	f.ranges = append(f.ranges, ackRange{start: smallest, end: largest})
	for i := uint64(0); i < rangeCount; i++ {
		var gap, length uint64
		k := getVarint(b[n:], &gap)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
		k = getVarint(b[n:], &length)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
		end := smallest - gap - 2
		start := end - length
		f.ranges = append(f.ranges, ackRange{start: start, end: end})
		smallest = start
	}
	// Ranges were read highest first; rangeSet keeps them ascending.
	for i, j := 0, len(f.ranges)-1; i < j; i, j = i+1, j-1 {
		f.ranges[i], f.ranges[j] = f.ranges[j], f.ranges[i]
	}
	if ecn {
		for _, v := range []*uint64{&f.ect0, &f.ect1, &f.ce} {
			k := getVarint(b[n:], v)
			if k == 0 {
				return nil, 0, errShortBuffer
			}
			n += k
		}
	}
	return f, n, nil
}

func decodeResetStreamFrame(b []byte, off int) (frame, int, error) {
	f := &resetStreamFrame{}
	n := off
	for _, v := range []*uint64{&f.streamID, &f.errorCode, &f.finalSize} {
		k := getVarint(b[n:], v)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
	}
	return f, n, nil
}

func decodeStopSendingFrame(b []byte, off int) (frame, int, error) {
	f := &stopSendingFrame{}
	n := off
	for _, v := range []*uint64{&f.streamID, &f.errorCode} {
		k := getVarint(b[n:], v)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
	}
	return f, n, nil
}

func decodeCryptoFrame(b []byte, off int) (frame, int, error) {
	f := &cryptoFrame{}
	n := off
	k := getVarint(b[n:], &f.offset)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	n += k
	var length uint64
	k = getVarint(b[n:], &length)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	n += k
	if n+int(length) > len(b) {
		return nil, 0, errShortBuffer
	}
	f.data = append([]byte(nil), b[n:n+int(length)]...)
	n += int(length)
	return f, n, nil
}

func decodeNewTokenFrame(b []byte, off int) (frame, int, error) {
	f := &newTokenFrame{}
	n := off
	var length uint64
	k := getVarint(b[n:], &length)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	n += k
	if n+int(length) > len(b) {
		return nil, 0, errShortBuffer
	}
	f.token = append([]byte(nil), b[n:n+int(length)]...)
	n += int(length)
	return f, n, nil
}

func decodeStreamFrame(b []byte, off int, t frameType) (frame, int, error) {
	f := &streamFrame{}
	n := off
	k := getVarint(b[n:], &f.streamID)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	n += k
	if t&0x04 != 0 {
		k = getVarint(b[n:], &f.offset)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
	}
	var length uint64
	if t&0x02 != 0 {
		k = getVarint(b[n:], &length)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
		f.explicitLen = true
	} else {
		length = uint64(len(b) - n)
	}
	if n+int(length) > len(b) {
		return nil, 0, errShortBuffer
	}
	f.data = append([]byte(nil), b[n:n+int(length)]...)
	n += int(length)
	f.fin = t&0x01 != 0
	return f, n, nil
}

func decodeMaxDataFrame(b []byte, off int) (frame, int, error) {
	f := &maxDataFrame{}
	n := off
	k := getVarint(b[n:], &f.max)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	return f, n + k, nil
}

func decodeMaxStreamDataFrame(b []byte, off int) (frame, int, error) {
	f := &maxStreamDataFrame{}
	n := off
	for _, v := range []*uint64{&f.streamID, &f.max} {
		k := getVarint(b[n:], v)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
	}
	return f, n, nil
}

func decodeMaxStreamsFrame(b []byte, off int, uni bool) (frame, int, error) {
	f := &maxStreamsFrame{uni: uni}
	n := off
	k := getVarint(b[n:], &f.max)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	return f, n + k, nil
}

func decodeDataBlockedFrame(b []byte, off int) (frame, int, error) {
	f := &dataBlockedFrame{}
	n := off
	k := getVarint(b[n:], &f.limit)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	return f, n + k, nil
}

func decodeStreamDataBlockedFrame(b []byte, off int) (frame, int, error) {
	f := &streamDataBlockedFrame{}
	n := off
	for _, v := range []*uint64{&f.streamID, &f.limit} {
		k := getVarint(b[n:], v)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
	}
	return f, n, nil
}

func decodeStreamsBlockedFrame(b []byte, off int, uni bool) (frame, int, error) {
	f := &streamsBlockedFrame{uni: uni}
	n := off
	k := getVarint(b[n:], &f.limit)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	return f, n + k, nil
}

func decodeNewConnectionIDFrame(b []byte, off int) (frame, int, error) {
	f := &newConnectionIDFrame{}
	n := off
	for _, v := range []*uint64{&f.seq, &f.retirePriorTo} {
		k := getVarint(b[n:], v)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
	}
	if n >= len(b) {
		return nil, 0, errShortBuffer
	}
	idLen := int(b[n])
	n++
	if n+idLen+16 > len(b) {
		return nil, 0, errShortBuffer
	}
	f.connID = append([]byte(nil), b[n:n+idLen]...)
	n += idLen
	copy(f.statelessResetToken[:], b[n:n+16])
	n += 16
	return f, n, nil
}

func decodeRetireConnectionIDFrame(b []byte, off int) (frame, int, error) {
	f := &retireConnectionIDFrame{}
	n := off
	k := getVarint(b[n:], &f.seq)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	return f, n + k, nil
}

func decodeConnectionCloseFrame(b []byte, off int, isApp bool) (frame, int, error) {
	f := &connectionCloseFrame{isApplication: isApp}
	n := off
	k := getVarint(b[n:], &f.errorCode)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	n += k
	if !isApp {
		k = getVarint(b[n:], &f.frameType_)
		if k == 0 {
			return nil, 0, errShortBuffer
		}
		n += k
	}
	var length uint64
	k = getVarint(b[n:], &length)
	if k == 0 {
		return nil, 0, errShortBuffer
	}
	n += k
	if n+int(length) > len(b) {
		return nil, 0, errShortBuffer
	}
	f.reason = string(b[n : n+int(length)])
	n += int(length)
	return f, n, nil
}

// Convenience constructors, used by conn.go's send path and by tests
// that only care about one frame's fields.

func newResetStreamFrame(id, code, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: id, errorCode: code, finalSize: finalSize}
}

func newStopSendingFrame(id, code uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: id, errorCode: code}
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{data: data, offset: offset}
}

func newNewTokenFrame(token []byte) *newTokenFrame {
	return &newTokenFrame{token: token}
}

func newStreamFrame(id uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: id, data: data, offset: offset, fin: fin, explicitLen: true}
}

func newMaxDataFrame(max uint64) *maxDataFrame { return &maxDataFrame{max: max} }

func newMaxStreamDataFrame(id, max uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: id, max: max}
}

func newMaxStreamsFrame(max uint64, uni bool) *maxStreamsFrame {
	return &maxStreamsFrame{max: max, uni: uni}
}

func newDataBlockedFrame(limit uint64) *dataBlockedFrame { return &dataBlockedFrame{limit: limit} }

func newStreamDataBlockedFrame(id, limit uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: id, limit: limit}
}

func newStreamsBlockedFrame(limit uint64, uni bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{limit: limit, uni: uni}
}

func newConnectionCloseFrame(code, triggerFrameType uint64, reason []byte, isApplication bool) *connectionCloseFrame {
	return &connectionCloseFrame{errorCode: code, frameType_: triggerFrameType, reason: string(reason), isApplication: isApplication}
}

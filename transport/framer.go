package transport

// framer accumulates control frames pending transmission and tracks
// which streams currently have data or state changes to send (spec
// section 4.6). One framer exists per connection; crypto/stream data
// itself is pulled directly from the owning sorter/send-buffer by
// conn.go, while framer only carries the small fixed-shape frames.
type framer struct {
	pingQueued bool

	maxData       *maxDataFrame
	dataBlocked   *dataBlockedFrame
	maxStreamsBidi *maxStreamsFrame
	maxStreamsUni  *maxStreamsFrame
	streamsBlockedBidi *streamsBlockedFrame
	streamsBlockedUni  *streamsBlockedFrame

	maxStreamData     map[uint64]*maxStreamDataFrame
	streamDataBlocked map[uint64]*streamDataBlockedFrame
	resetStream       map[uint64]*resetStreamFrame
	stopSending       map[uint64]*stopSendingFrame

	newConnectionID    []*newConnectionIDFrame
	retireConnectionID []*retireConnectionIDFrame

	newToken []*newTokenFrame

	handshakeDone bool

	// activeStreams tracks stream IDs with pending STREAM data or a
	// pending state frame, so conn.go's write loop can visit only
	// streams with work instead of scanning every open stream.
	activeStreams map[uint64]bool
}

func newFramer() *framer {
	return &framer{
		maxStreamData:     make(map[uint64]*maxStreamDataFrame),
		streamDataBlocked: make(map[uint64]*streamDataBlockedFrame),
		resetStream:       make(map[uint64]*resetStreamFrame),
		stopSending:       make(map[uint64]*stopSendingFrame),
		activeStreams:     make(map[uint64]bool),
	}
}

func (fr *framer) queuePing() { fr.pingQueued = true }

func (fr *framer) queueMaxData(max uint64) { fr.maxData = &maxDataFrame{max: max} }

func (fr *framer) queueDataBlocked(limit uint64) { fr.dataBlocked = &dataBlockedFrame{limit: limit} }

func (fr *framer) queueMaxStreams(max uint64, uni bool) {
	f := &maxStreamsFrame{max: max, uni: uni}
	if uni {
		fr.maxStreamsUni = f
	} else {
		fr.maxStreamsBidi = f
	}
}

func (fr *framer) queueStreamsBlocked(limit uint64, uni bool) {
	f := &streamsBlockedFrame{limit: limit, uni: uni}
	if uni {
		fr.streamsBlockedUni = f
	} else {
		fr.streamsBlockedBidi = f
	}
}

func (fr *framer) queueMaxStreamData(id, max uint64) {
	fr.maxStreamData[id] = &maxStreamDataFrame{streamID: id, max: max}
	fr.markActive(id)
}

func (fr *framer) queueStreamDataBlocked(id, limit uint64) {
	fr.streamDataBlocked[id] = &streamDataBlockedFrame{streamID: id, limit: limit}
	fr.markActive(id)
}

func (fr *framer) queueResetStream(id uint64, code, finalSize uint64) {
	fr.resetStream[id] = &resetStreamFrame{streamID: id, errorCode: code, finalSize: finalSize}
	fr.markActive(id)
}

func (fr *framer) queueStopSending(id uint64, code uint64) {
	fr.stopSending[id] = &stopSendingFrame{streamID: id, errorCode: code}
	fr.markActive(id)
}

func (fr *framer) queueNewConnectionID(f *newConnectionIDFrame) {
	fr.newConnectionID = append(fr.newConnectionID, f)
}

func (fr *framer) queueRetireConnectionID(seq uint64) {
	fr.retireConnectionID = append(fr.retireConnectionID, &retireConnectionIDFrame{seq: seq})
}

func (fr *framer) queueNewToken(token []byte) {
	fr.newToken = append(fr.newToken, &newTokenFrame{token: token})
}

func (fr *framer) queueHandshakeDone() { fr.handshakeDone = true }

func (fr *framer) markActive(id uint64)   { fr.activeStreams[id] = true }
func (fr *framer) clearActive(id uint64)  { delete(fr.activeStreams, id) }
func (fr *framer) hasActiveStreams() bool { return len(fr.activeStreams) > 0 }

// hasPending reports whether any connection-level control frame is
// queued (used to decide whether an otherwise-empty packet is worth
// sending).
func (fr *framer) hasPending() bool {
	if fr.pingQueued || fr.maxData != nil || fr.dataBlocked != nil || fr.handshakeDone {
		return true
	}
	if fr.maxStreamsBidi != nil || fr.maxStreamsUni != nil {
		return true
	}
	if fr.streamsBlockedBidi != nil || fr.streamsBlockedUni != nil {
		return true
	}
	if len(fr.maxStreamData) > 0 || len(fr.streamDataBlocked) > 0 {
		return true
	}
	if len(fr.resetStream) > 0 || len(fr.stopSending) > 0 {
		return true
	}
	if len(fr.newConnectionID) > 0 || len(fr.retireConnectionID) > 0 || len(fr.newToken) > 0 {
		return true
	}
	return false
}

// appendTo drains every pending control frame that fits into capa
// bytes, appending each produced frame value to out, and returns the
// number of bytes consumed.
func (fr *framer) appendTo(out *[]frame, capa int) int {
	used := 0
	try := func(f frame) bool {
		n := f.encodedLen()
		if n > capa-used {
			return false
		}
		*out = append(*out, f)
		used += n
		return true
	}

	if fr.handshakeDone {
		if try(&handshakeDoneFrame{}) {
			fr.handshakeDone = false
		}
	}
	if fr.pingQueued {
		if try(&pingFrame{}) {
			fr.pingQueued = false
		}
	}
	if fr.maxData != nil {
		if try(fr.maxData) {
			fr.maxData = nil
		}
	}
	if fr.dataBlocked != nil {
		if try(fr.dataBlocked) {
			fr.dataBlocked = nil
		}
	}
	if fr.maxStreamsBidi != nil {
		if try(fr.maxStreamsBidi) {
			fr.maxStreamsBidi = nil
		}
	}
	if fr.maxStreamsUni != nil {
		if try(fr.maxStreamsUni) {
			fr.maxStreamsUni = nil
		}
	}
	if fr.streamsBlockedBidi != nil {
		if try(fr.streamsBlockedBidi) {
			fr.streamsBlockedBidi = nil
		}
	}
	if fr.streamsBlockedUni != nil {
		if try(fr.streamsBlockedUni) {
			fr.streamsBlockedUni = nil
		}
	}
	for id, f := range fr.resetStream {
		if try(f) {
			delete(fr.resetStream, id)
		}
	}
	for id, f := range fr.stopSending {
		if try(f) {
			delete(fr.stopSending, id)
		}
	}
	for id, f := range fr.maxStreamData {
		if try(f) {
			delete(fr.maxStreamData, id)
		}
	}
	for id, f := range fr.streamDataBlocked {
		if try(f) {
			delete(fr.streamDataBlocked, id)
		}
	}
	for len(fr.newConnectionID) > 0 {
		if !try(fr.newConnectionID[0]) {
			break
		}
		fr.newConnectionID = fr.newConnectionID[1:]
	}
	for len(fr.retireConnectionID) > 0 {
		if !try(fr.retireConnectionID[0]) {
			break
		}
		fr.retireConnectionID = fr.retireConnectionID[1:]
	}
	for len(fr.newToken) > 0 {
		if !try(fr.newToken[0]) {
			break
		}
		fr.newToken = fr.newToken[1:]
	}
	return used
}

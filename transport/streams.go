package transport

import "time"

// streamDestroyDelay is how long a fully-closed stream's bookkeeping
// lingers before being swept, so a late-arriving retransmitted frame
// for it doesn't get treated as violating stream limits (spec 4.1,
// Design Notes section 9 replacing the C tree-node free-list).
const streamDestroyDelay = 3 * time.Second

type closedStream struct {
	id      uint64
	closeAt time.Time
}

// streams owns every Stream on a connection plus the four per-type
// concurrency limits and next-ID counters (RFC 9000 section 2.1).
type streams struct {
	cfg    *Config
	isClient bool

	byID map[uint64]*Stream

	nextLocalBidi  uint64
	nextLocalUni   uint64

	maxLocalBidi   uint64
	maxLocalUni    uint64
	maxRemoteBidi  uint64
	maxRemoteUni   uint64

	openRemoteBidi uint64
	openRemoteUni  uint64

	connFlow *connFlowControl
	peerParams *Parameters

	closed []closedStream

	onNewStream func(*Stream)
}

func newStreams(cfg *Config, isClient bool, connFlow *connFlowControl) *streams {
	s := &streams{
		cfg:      cfg,
		isClient: isClient,
		byID:     make(map[uint64]*Stream),
		connFlow: connFlow,
	}
	if isClient {
		s.nextLocalBidi = streamClientBidi
		s.nextLocalUni = streamClientUni
	} else {
		s.nextLocalBidi = streamServerBidi
		s.nextLocalUni = streamServerUni
	}
	s.maxLocalBidi = cfg.InitialMaxStreamsBidi
	s.maxLocalUni = cfg.InitialMaxStreamsUni
	s.maxRemoteBidi = cfg.InitialMaxStreamsBidi
	s.maxRemoteUni = cfg.InitialMaxStreamsUni
	return s
}

// setPeerParams records the peer's negotiated transport parameters so
// that streams created from this point on start with the peer's
// advertised initial send windows instead of the pre-handshake default
// (RFC 9000 section 4.1).
func (s *streams) setPeerParams(p *Parameters) {
	s.peerParams = p
	s.maxLocalBidi = p.InitialMaxStreamsBidi
	s.maxLocalUni = p.InitialMaxStreamsUni
}

// initialSendLimit picks the send-side flow-control starting credit for
// a newly created stream, preferring the peer's advertised value once
// known over the pre-handshake configuration default.
func (s *streams) initialSendLimit(id uint64, uni bool) uint64 {
	if s.peerParams == nil {
		return s.cfg.InitialMaxStreamData
	}
	localInitiated := streamIsClientInitiated(id) == s.isClient
	switch {
	case uni:
		return s.peerParams.InitialMaxStreamDataUni
	case localInitiated:
		return s.peerParams.InitialMaxStreamDataBidiRemote
	default:
		return s.peerParams.InitialMaxStreamDataBidiLocal
	}
}

// setPeerMaxStreamsBidi applies an incoming MAX_STREAMS(bidi) frame.
func (s *streams) setPeerMaxStreamsBidi(max uint64) {
	if max > s.maxLocalBidi {
		s.maxLocalBidi = max
	}
}

// setPeerMaxStreamsUni applies an incoming MAX_STREAMS(uni) frame.
func (s *streams) setPeerMaxStreamsUni(max uint64) {
	if max > s.maxLocalUni {
		s.maxLocalUni = max
	}
}

// hasFlushable reports whether any open stream has unsent STREAM data
// or an unsent FIN/RESET_STREAM queued, used by the write loop to
// decide whether a scan over streams is worth the cost.
func (s *streams) hasFlushable() bool {
	for _, st := range s.byID {
		if st.send != nil && st.send.pending() {
			return true
		}
	}
	return false
}

func (s *streams) localType(uni bool) uint64 {
	if uni {
		return s.nextLocalUni
	}
	return s.nextLocalBidi
}

// openLocal creates a new locally-initiated stream, enforcing the
// MAX_STREAMS limit currently known for the peer.
func (s *streams) openLocal(uni bool) (*Stream, error) {
	var count, max *uint64
	if uni {
		count, max = &s.nextLocalUni, &s.maxLocalUni
	} else {
		count, max = &s.nextLocalBidi, &s.maxLocalBidi
	}
	ordinal := *count >> 2
	if ordinal >= *max {
		return nil, newError(StreamLimitError, "local stream limit reached")
	}
	id := *count
	*count += 4
	return s.create(id, uni, true), nil
}

// openRemote materializes a stream implied by the peer sending data
// to an ID this endpoint has not seen before, validating the stream
// limit against that ID's ordinal. Only the named stream is created;
// lower-numbered streams of the same type are not materialized.
func (s *streams) openRemote(id uint64) (*Stream, error) {
	if st, ok := s.byID[id]; ok {
		return st, nil
	}
	uni := streamIsUni(id)
	ordinal := id>>2 + 1
	var open *uint64
	var max uint64
	if uni {
		open, max = &s.openRemoteUni, s.maxRemoteUni
	} else {
		open, max = &s.openRemoteBidi, s.maxRemoteBidi
	}
	if ordinal > max {
		return nil, newError(StreamLimitError, "peer exceeded stream limit")
	}
	if ordinal > *open {
		*open = ordinal
	}
	return s.create(id, uni, false), nil
}

func (s *streams) create(id uint64, uni, local bool) *Stream {
	st := &Stream{id: id}
	var hasSend, hasRecv bool
	if uni {
		// A unidirectional stream has exactly one side active: the
		// initiator sends, the peer receives.
		hasSend = local
		hasRecv = !local
	} else {
		hasSend = true
		hasRecv = true
	}
	if hasSend {
		sf := &streamFlowControl{}
		sf.init(s.cfg, s.connFlow, 0, s.initialSendLimit(id, uni))
		st.send = newSendStream(id, sf)
	}
	if hasRecv {
		rf := &streamFlowControl{}
		rf.init(s.cfg, s.connFlow, s.cfg.InitialMaxStreamData, 0)
		st.recv = newRecvStream(id, rf)
	}
	s.byID[id] = st
	if s.onNewStream != nil {
		s.onNewStream(st)
	}
	return st
}

func (s *streams) get(id uint64) (*Stream, bool) {
	st, ok := s.byID[id]
	return st, ok
}

// close schedules a finished stream (both halves fin/reset-acked) for
// delayed removal.
func (s *streams) close(id uint64, now time.Time) {
	s.closed = append(s.closed, closedStream{id: id, closeAt: now.Add(streamDestroyDelay)})
}

// isStreamDone reports whether both halves of the stream have reached a
// terminal state and it is eligible for the close sweep.
func isStreamDone(st *Stream) bool {
	sendDone := st.send == nil || st.send.finAcked || st.send.resetAcked
	recvDone := st.recv == nil || st.recv.resetReceived || (st.recv.finKnown && st.recv.buf.readedSize >= st.recv.finalSize)
	return sendDone && recvDone
}

// sweep removes streams whose destroy delay has elapsed, called
// periodically off the connection's timer tick.
func (s *streams) sweep(now time.Time) {
	kept := s.closed[:0]
	for _, c := range s.closed {
		if now.Before(c.closeAt) {
			kept = append(kept, c)
			continue
		}
		delete(s.byID, c.id)
	}
	s.closed = kept
}

// collectDone walks open streams, scheduling newly-finished ones for
// the close sweep.
func (s *streams) collectDone(now time.Time) {
	scheduled := make(map[uint64]bool, len(s.closed))
	for _, c := range s.closed {
		scheduled[c.id] = true
	}
	for id, st := range s.byID {
		if !scheduled[id] && isStreamDone(st) {
			s.close(id, now)
		}
	}
}

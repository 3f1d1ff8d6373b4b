package transport

import "time"

// flowController is the pluggable flow-control interface implemented by
// the per-stream instances (streamFlowControl). connFlowControl does not
// implement it: it exposes its own addRecv/canSend/addSend/read methods.
type flowController interface {
	updateRwnd(off uint64, fin bool)
	abandon()
	getSwnd() uint64
	sent(n uint64)
	newlyBlocked() (limit uint64, ok bool)
}

// connFlowControl is the per-connection flow-control module (spec
// section 4.5), ported from original_source/src/modules/conn_flowctrl.*.
type connFlowControl struct {
	cfg *Config

	rwnd     uint64
	rwndSize uint64
	recvOff  uint64
	readOff  uint64

	swnd         uint64
	sentBytes    uint64
	lastBlockedAt uint64

	epochOff  uint64
	epochTime time.Time

	updated bool

	rtt *rttStats
}

func (f *connFlowControl) init(cfg *Config, rtt *rttStats) {
	f.cfg = cfg
	f.rtt = rtt
	f.rwnd = cfg.ConnFlowControlInitialRwnd
	f.rwndSize = cfg.ConnFlowControlInitialRwnd
	f.swnd = cfg.ConnFlowControlInitialSwnd
}

// addRecv accounts for newly received connection-level bytes.
func (f *connFlowControl) addRecv(n int) error {
	f.recvOff += uint64(n)
	if f.recvOff > f.rwnd {
		return errFlowControl
	}
	return nil
}

func (f *connFlowControl) canRecv() uint64 {
	if f.recvOff > f.rwnd {
		return 0
	}
	return f.rwnd - f.recvOff
}

// setMaxSend is called when a MAX_DATA frame arrives from the peer.
func (f *connFlowControl) setMaxSend(off uint64) {
	if off > f.swnd {
		f.swnd = off
	}
}

func (f *connFlowControl) canSend() uint64 {
	if f.sentBytes > f.swnd {
		return 0
	}
	return f.swnd - f.sentBytes
}

func (f *connFlowControl) addSend(n int) {
	f.sentBytes += uint64(n)
}

// adjustRwnd implements the receive-window auto-tuning of spec 4.5: if
// the reader consumed at least half the window within less than a
// quarter-RTT-scaled budget, double the window (capped).
func (f *connFlowControl) adjustRwnd(now time.Time) {
	smoothedRTT := f.rtt.smoothedRTT
	inEpochRead := f.readOff - f.epochOff
	if inEpochRead <= f.rwndSize/2 || smoothedRTT == 0 {
		return
	}
	if now.Sub(f.epochTime) < (smoothedRTT/4)*time.Duration(inEpochRead)/time.Duration(f.rwndSize) {
		doubled := f.rwndSize * 2
		if doubled > f.cfg.ConnFlowControlMaxRwndSize {
			doubled = f.cfg.ConnFlowControlMaxRwndSize
		}
		f.rwndSize = doubled
	}
	f.epochTime = now
	f.epochOff = f.readOff
	f.rwnd = f.readOff + f.rwndSize
}

func (f *connFlowControl) ensureMinRwndSize(size uint64) {
	if size > f.rwndSize {
		if size > f.cfg.ConnFlowControlMaxRwndSize {
			size = f.cfg.ConnFlowControlMaxRwndSize
		}
		f.rwndSize = size
		f.epochTime = time.Now()
		f.epochOff = f.rwnd
	}
}

// read is called whenever the application consumes connection-scoped
// bytes (i.e. any stream read); it may trigger a MAX_DATA update.
func (f *connFlowControl) read(now time.Time, n int) {
	if f.readOff == 0 {
		f.epochOff = 0
		f.epochTime = now
	}
	f.readOff += uint64(n)
	if f.rwnd-f.readOff <= (f.rwndSize*3)/4 {
		f.adjustRwnd(now)
		f.updated = true
	}
}

func (f *connFlowControl) shouldUpdateMaxRecv() bool {
	return f.updated
}

func (f *connFlowControl) commitMaxRecv() {
	f.updated = false
}

func (f *connFlowControl) maxRecvNext() uint64 {
	return f.rwnd
}

// newlyBlocked reports a DATA_BLOCKED condition exactly once per swnd
// value, per spec 4.5's dedup rule.
func (f *connFlowControl) newlyBlocked() (uint64, bool) {
	if f.canSend() != 0 || f.swnd == f.lastBlockedAt {
		return 0, false
	}
	f.lastBlockedAt = f.swnd
	return f.swnd, true
}

// streamFlowControl is the per-stream flow-control instance (spec
// section 4.5), ported from stream_flowctrl.c.
type streamFlowControl struct {
	cfg *Config

	rwnd     uint64
	rwndSize uint64
	recvOff  uint64
	readOff  uint64
	finFlag  bool

	swnd      uint64
	sentBytes uint64

	lastBlockedAt uint64

	connFlow *connFlowControl
}

func (f *streamFlowControl) init(cfg *Config, conn *connFlowControl, maxRecv, maxSend uint64) {
	f.cfg = cfg
	f.connFlow = conn
	f.rwnd = maxRecv
	f.rwndSize = maxRecv
	f.swnd = maxSend
}

// updateRwnd advances the known receive offset on a STREAM/RESET_STREAM
// arrival, respecting the fin-flag monotonicity rule of spec 4.5.
func (f *streamFlowControl) updateRwnd(off uint64, fin bool) {
	if f.finFlag && ((fin && off != f.recvOff) || off > f.recvOff) {
		return
	}
	f.finFlag = f.finFlag || fin
	if off <= f.recvOff {
		return
	}
	f.recvOff = off
}

// abandon bumps connection-level read accounting for bytes that will
// never be read because the stream's recv side was closed early.
func (f *streamFlowControl) abandon() {
	unread := saturatingSub(f.recvOff, f.readOff)
	if unread > 0 && f.connFlow != nil {
		f.connFlow.read(time.Now(), int(unread))
	}
}

func (f *streamFlowControl) getSwnd() uint64 {
	if f.sentBytes > f.swnd {
		return 0
	}
	return f.swnd - f.sentBytes
}

func (f *streamFlowControl) setMaxSend(off uint64) {
	if off > f.swnd {
		f.swnd = off
	}
}

func (f *streamFlowControl) sent(n uint64) {
	f.sentBytes += n
}

func (f *streamFlowControl) read(now time.Time, n int) {
	f.readOff += uint64(n)
	if f.connFlow != nil {
		f.connFlow.read(now, n)
	}
}

func (f *streamFlowControl) newlyBlocked() (uint64, bool) {
	if f.getSwnd() != 0 || f.swnd == f.lastBlockedAt {
		return 0, false
	}
	f.lastBlockedAt = f.swnd
	return f.swnd, true
}

package transport

import (
	"math"
	"time"
)

// maxDatagramSize is the assumed MSS used throughout congestion and
// recovery math (spec glossary: MSS).
const maxDatagramSize = 1460

// congestion implements Cubic congestion control with slow start,
// Proportional Rate Reduction during recovery, and a token-bucket
// pacer, ported from original_source/src/modules/congestion.c (spec
// section 4.4).
type congestion struct {
	cfg *Config

	// base
	cwnd                uint64
	acked                bool
	largestAckedNum      uint64
	largestSentNum       uint64
	lost                 bool
	atLossLargestSentNum uint64
	atLossInSlowStart    bool
	lostPktCount         uint64
	lostBytes            uint64

	// slow start / hystart
	ssThreshold     uint64
	ssEndNum        uint64
	ssLastSentNum   uint64
	ssStarted       bool
	ssMinRTT        time.Duration
	ssRTTSamples    int
	ssFoundThresh   bool
	ssMinExitCwnd   uint64

	// cubic
	cubicEpoch          time.Time
	cubicMaxCwnd         uint64
	cubicRenoCwnd        uint64
	cubicOriginCwndPoint uint64
	cubicOriginTimePoint float64 // seconds
	cubicAckedBytes      uint64

	// PRR
	prrAckedCount   uint64
	prrAckedBytes   uint64
	prrUnackedBytes uint64
	prrSentBytes    uint64

	// token-bucket pacer
	pacerBudget       uint64
	pacerLastSentTime time.Time

	rtt rttStats
}

func newCongestion(cfg *Config) *congestion {
	c := &congestion{
		cfg:         cfg,
		cwnd:        cfg.InitialCongestionWindow,
		ssThreshold: cfg.MaxCongestionWindow,
	}
	c.pacerBudget = c.pacerMaxBurstSize()
	return c
}

func (c *congestion) inRecovery() bool {
	return c.acked && c.lost && c.largestAckedNum <= c.atLossLargestSentNum
}

// onSent is called whenever a packet is handed to the transmission
// layer, in-flight or not.
func (c *congestion) onSent(now time.Time, num uint64, sentBytes uint64, includedInFlight bool) {
	c.pacerOnSent(now, sentBytes)
	if !includedInFlight {
		return
	}
	if c.inRecovery() {
		c.prrSentBytes += sentBytes
	}
	c.largestSentNum = num
	c.ssLastSentNum = num
}

// onAcked folds a single acknowledged packet into cwnd growth or PRR
// accounting.
func (c *congestion) onAcked(num uint64, ackedBytes uint64, unackedBytes uint64, eventTime time.Time) {
	if !c.acked {
		c.acked = true
		c.largestAckedNum = num
	} else if c.largestAckedNum < num {
		c.largestAckedNum = num
	}

	if c.inRecovery() {
		if !c.cfg.DisablePRR {
			c.prrAckedBytes += ackedBytes
			c.prrAckedCount++
		}
		return
	}

	c.increaseCwnd(ackedBytes, unackedBytes, eventTime)
	if c.cwnd < c.ssThreshold && c.ssEndNum < num {
		c.ssStarted = false
	}
}

func (c *congestion) cwndLimited(unackedBytes uint64) bool {
	if unackedBytes >= c.cwnd {
		return true
	}
	return (c.cwnd < c.ssThreshold && unackedBytes > c.cwnd/2) || (c.cwnd-unackedBytes) <= 3*maxDatagramSize
}

func (c *congestion) increaseCwnd(ackedBytes, unackedBytes uint64, eventTime time.Time) {
	if !c.cwndLimited(unackedBytes) {
		c.cubicEpoch = time.Time{}
		return
	}
	if c.cwnd >= c.cfg.MaxCongestionWindow {
		return
	}
	if c.cwnd < c.ssThreshold {
		c.cwnd += maxDatagramSize
		return
	}
	c.cwnd = c.cubicOnAcked(ackedBytes, c.cwnd, c.rtt.minRTT, eventTime)
	if c.cwnd > c.cfg.MaxCongestionWindow {
		c.cwnd = c.cfg.MaxCongestionWindow
	}
}

// cubicOnAcked implements the Cubic growth function W_cubic(t+RTT),
// blended with a Reno estimator, taking the max of the two -- ported
// 1:1 (including the integer-scaling trick) from congestion.c.
func (c *congestion) cubicOnAcked(ackedBytes, cwnd uint64, delayMin time.Duration, eventTime time.Time) uint64 {
	if c.cubicEpoch.IsZero() {
		c.cubicEpoch = eventTime
		c.cubicAckedBytes = ackedBytes
		c.cubicRenoCwnd = cwnd
		if c.cubicMaxCwnd <= cwnd {
			c.cubicOriginTimePoint = 0
			c.cubicOriginCwndPoint = cwnd
		} else {
			c.cubicOriginTimePoint = math.Cbrt(float64(c.cubicMaxCwnd-cwnd) / (410.0 * maxDatagramSize) * (1 << 40))
			c.cubicOriginCwndPoint = c.cubicMaxCwnd
		}
	} else {
		c.cubicAckedBytes += ackedBytes
	}

	elapsed := eventTime.Add(delayMin).Sub(c.cubicEpoch).Seconds()
	elapsedScaled := elapsed * (1 << 10)
	offset := elapsedScaled - c.cubicOriginTimePoint
	if offset < 0 {
		offset = -offset
	}
	deltaCwnd := uint64((410.0 * offset * offset * offset * maxDatagramSize) / float64(int64(1)<<40))

	var ret uint64
	if elapsedScaled > c.cubicOriginTimePoint {
		ret = c.cubicOriginCwndPoint + deltaCwnd
	} else {
		ret = saturatingSub(c.cubicOriginCwndPoint, deltaCwnd)
	}

	if cap := cwnd + c.cubicAckedBytes/2; ret > cap {
		ret = cap
	}

	c.cubicRenoCwnd += c.cubicAckedBytes * maxDatagramSize * 9 / (17 * c.cubicRenoCwnd)
	c.cubicAckedBytes = 0

	if ret > c.cubicRenoCwnd {
		return ret
	}
	return c.cubicRenoCwnd
}

func (c *congestion) cubicOnLost(cwnd uint64) uint64 {
	if cwnd+maxDatagramSize < c.cubicMaxCwnd {
		c.cubicMaxCwnd = cwnd * 17 / 20 // fast convergence
	} else {
		c.cubicMaxCwnd = cwnd
	}
	c.cubicEpoch = time.Time{}
	return cwnd * 7 / 10
}

// onLost updates cwnd/ssthresh after the retransmission tracker
// declares a packet lost.
func (c *congestion) onLost(num uint64, lostBytes uint64, unackedBytes uint64) {
	if c.lost && num <= c.atLossLargestSentNum {
		if c.atLossInSlowStart {
			c.lostPktCount++
			c.lostBytes += lostBytes
			if c.cfg.SlowStartLargeReduction {
				c.cwnd = saturatingSub(c.cwnd, lostBytes)
				if c.cwnd < c.ssMinExitCwnd {
					c.cwnd = c.ssMinExitCwnd
				}
				c.ssThreshold = c.cwnd
			}
		}
		return
	}

	c.atLossInSlowStart = c.cwnd < c.ssThreshold
	if c.atLossInSlowStart {
		c.lostPktCount++
	}

	if !c.cfg.DisablePRR {
		c.prrAckedBytes = 0
		c.prrAckedCount = 0
		c.prrUnackedBytes = unackedBytes
		c.prrSentBytes = 0
	}

	if c.cfg.SlowStartLargeReduction && c.atLossInSlowStart {
		if c.cwnd >= 2*c.cfg.InitialCongestionWindow {
			c.ssMinExitCwnd = c.cwnd / 2
		}
		c.cwnd = saturatingSub(c.cwnd, maxDatagramSize)
	} else {
		c.cwnd = c.cubicOnLost(c.cwnd)
	}
	c.ssThreshold = c.cwnd

	if c.cwnd < c.cfg.MinCongestionWindow {
		c.cwnd = c.cfg.MinCongestionWindow
	}
	c.lost = true
	c.atLossLargestSentNum = c.largestSentNum
}

// allowSend gates the sender: in recovery it delegates to PRR,
// otherwise it is a plain cwnd check.
func (c *congestion) allowSend(unackedBytes uint64) bool {
	if !c.cfg.DisablePRR && c.inRecovery() {
		return c.prrAllowSend(unackedBytes)
	}
	return unackedBytes < c.cwnd
}

func (c *congestion) prrAllowSend(unackedBytes uint64) bool {
	if c.prrSentBytes == 0 || unackedBytes < maxDatagramSize {
		return true
	}
	if c.cwnd > unackedBytes {
		return c.prrAckedBytes+c.prrAckedCount*maxDatagramSize > c.prrSentBytes
	}
	return c.prrAckedBytes*c.ssThreshold > c.prrSentBytes*c.prrUnackedBytes
}

// update folds an RTT sample into hystart's slow-start-exit detector.
func (c *congestion) update(recvTime, sentTime time.Time, delay time.Duration) {
	c.rtt.update(recvTime, sentTime, delay, c.cfg.MaxAckDelay)

	if c.cwnd >= c.ssThreshold {
		return
	}
	if !c.ssStarted {
		c.ssStarted = true
		c.ssEndNum = c.ssLastSentNum
		c.ssMinRTT = 0
		c.ssRTTSamples = 0
	}
	if c.ssFoundThresh {
		c.ssThreshold = c.cwnd
		return
	}
	c.ssRTTSamples++
	if c.ssRTTSamples <= 8 && (c.ssMinRTT == 0 || c.ssMinRTT > c.rtt.latest) {
		c.ssMinRTT = c.rtt.latest
	}
	if c.ssRTTSamples == 8 {
		incThreshold := c.rtt.minRTT / 8
		if incThreshold > 16*time.Millisecond {
			incThreshold = 1600 * time.Microsecond
		}
		if incThreshold < 4*time.Millisecond {
			incThreshold = 4 * time.Millisecond
		}
		if c.ssMinRTT > c.rtt.minRTT+incThreshold {
			c.ssFoundThresh = true
		}
	}
	if c.cwnd/maxDatagramSize >= 16 && c.ssFoundThresh {
		c.ssThreshold = c.cwnd
	}
}

// --- token-bucket pacer ---

func (c *congestion) pacerBandwidth() uint64 {
	if c.rtt.smoothedRTT == 0 {
		return math.MaxUint64
	}
	// bandwidth = cwnd * 5/4 / smoothedRTT, in bytes/sec.
	return c.cwnd * uint64(time.Second) / uint64(c.rtt.smoothedRTT) * 5 / 4
}

func (c *congestion) pacerMaxBurstSize() uint64 {
	bw := c.pacerBandwidth()
	burst := uint64(2*time.Millisecond) * bw / uint64(time.Second)
	if burst < 10*maxDatagramSize {
		return 10 * maxDatagramSize
	}
	return burst
}

func (c *congestion) pacerBudgetAt(now time.Time) uint64 {
	maxBurst := c.pacerMaxBurstSize()
	if c.pacerLastSentTime.IsZero() {
		return maxBurst
	}
	elapsed := now.Sub(c.pacerLastSentTime)
	bw := c.pacerBandwidth()
	budget := c.pacerBudget + bw*uint64(elapsed)/uint64(time.Second)
	if budget > maxBurst {
		return maxBurst
	}
	return budget
}

func (c *congestion) pacerOnSent(now time.Time, bytes uint64) {
	budget := c.pacerBudgetAt(now)
	if bytes > budget {
		c.pacerBudget = 0
	} else {
		c.pacerBudget = budget - bytes
	}
	c.pacerLastSentTime = now
}

// nextSendTime returns the time at which the pacer will next allow a
// send, or the zero time if sending is allowed immediately.
func (c *congestion) nextSendTime() time.Time {
	if c.pacerBudget >= 10*maxDatagramSize {
		return time.Time{}
	}
	bw := c.pacerBandwidth()
	if bw == 0 {
		bw = 1
	}
	delta := time.Duration(math.Ceil(float64(10*maxDatagramSize-c.pacerBudget) * float64(time.Second) / float64(bw)))
	if delta < time.Millisecond {
		delta = time.Millisecond
	}
	return c.pacerLastSentTime.Add(delta)
}

func (c *congestion) hasBudget(now time.Time) bool {
	return c.pacerBudgetAt(now) >= 10*maxDatagramSize
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

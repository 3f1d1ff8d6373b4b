package transport

import (
	"crypto/rand"

	"github.com/rs/xid"
)

// connIDLen is the fixed connection ID length this stack issues: one
// xid (12 bytes, globally unique and sortable) so issued CIDs are easy
// to correlate in qlog output without an extra lookup table (spec
// section 4.8).
const connIDLen = 12

// issuedConnID is one connection ID this endpoint has handed to its
// peer via NEW_CONNECTION_ID (or the original SCID), along with its
// stateless reset token.
type issuedConnID struct {
	seq       uint64
	id        []byte
	resetToken [16]byte
	retired   bool
}

// connIDManager tracks the set of connection IDs this endpoint has
// issued to its peer and the set the peer has issued to it, handling
// NEW_CONNECTION_ID / RETIRE_CONNECTION_ID bookkeeping (spec 4.8,
// ported from the connection-id module referenced in Design Notes).
type connIDManager struct {
	issued       []*issuedConnID
	nextSeq      uint64
	activeLimit  uint64

	peerIDs     []*issuedConnID
	peerRetirePriorTo uint64
}

func newConnIDManager(activeLimit uint64) *connIDManager {
	return &connIDManager{activeLimit: activeLimit}
}

// issue generates and records a fresh local connection ID to offer the
// peer, returning the NEW_CONNECTION_ID frame to queue.
func (m *connIDManager) issue() (*newConnectionIDFrame, error) {
	id := xid.New().Bytes()
	var token [16]byte
	if _, err := rand.Read(token[:]); err != nil {
		return nil, err
	}
	seq := m.nextSeq
	m.nextSeq++
	entry := &issuedConnID{seq: seq, id: id, resetToken: token}
	m.issued = append(m.issued, entry)
	return &newConnectionIDFrame{seq: seq, connID: id, statelessResetToken: token}, nil
}

// retireIssued marks one of our own issued IDs retired because the
// peer sent RETIRE_CONNECTION_ID for it.
func (m *connIDManager) retireIssued(seq uint64) {
	for _, e := range m.issued {
		if e.seq == seq {
			e.retired = true
		}
	}
}

// addPeerID records a connection ID the peer offered via
// NEW_CONNECTION_ID, retiring any of our records below
// retirePriorTo, and returns the sequence numbers we must now retire.
func (m *connIDManager) addPeerID(f *newConnectionIDFrame) []uint64 {
	entry := &issuedConnID{seq: f.seq, id: f.connID, resetToken: f.statelessResetToken}
	m.peerIDs = append(m.peerIDs, entry)
	if f.retirePriorTo <= m.peerRetirePriorTo {
		return nil
	}
	m.peerRetirePriorTo = f.retirePriorTo
	var toRetire []uint64
	kept := m.peerIDs[:0]
	for _, e := range m.peerIDs {
		if e.seq < m.peerRetirePriorTo && !e.retired {
			e.retired = true
			toRetire = append(toRetire, e.seq)
		}
		kept = append(kept, e)
	}
	m.peerIDs = kept
	return toRetire
}

// activePeerID returns the peer connection ID this endpoint should
// currently address packets to (the lowest-sequence non-retired one).
func (m *connIDManager) activePeerID() ([]byte, bool) {
	var best *issuedConnID
	for _, e := range m.peerIDs {
		if e.retired {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.id, true
}

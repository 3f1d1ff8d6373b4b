package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnIDManagerIssue(t *testing.T) {
	m := newConnIDManager(4)

	f1, err := m.issue()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f1.seq)
	assert.Len(t, f1.connID, connIDLen)

	f2, err := m.issue()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f2.seq)
	assert.NotEqual(t, f1.connID, f2.connID)
}

func TestConnIDManagerPeerIDsAndActive(t *testing.T) {
	m := newConnIDManager(4)

	toRetire := m.addPeerID(&newConnectionIDFrame{seq: 0, connID: []byte{0}})
	assert.Empty(t, toRetire)
	toRetire = m.addPeerID(&newConnectionIDFrame{seq: 1, connID: []byte{1}})
	assert.Empty(t, toRetire)

	id, ok := m.activePeerID()
	require.True(t, ok)
	assert.Equal(t, []byte{0}, id)

	// Peer asks us to retire everything below seq 1.
	toRetire = m.addPeerID(&newConnectionIDFrame{seq: 2, connID: []byte{2}, retirePriorTo: 1})
	assert.Equal(t, []uint64{0}, toRetire)

	id, ok = m.activePeerID()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, id)
}

func TestConnIDManagerRetireIssued(t *testing.T) {
	m := newConnIDManager(4)
	f, err := m.issue()
	require.NoError(t, err)

	m.retireIssued(f.seq)
	require.True(t, m.issued[0].retired)
}

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekHeaderShort(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	data := append([]byte{headerFormShort | fixedBit}, dcid...)
	data = append(data, 0x00) // truncated packet number

	h, ok := PeekHeader(data, len(dcid))
	require.True(t, ok)
	assert.Equal(t, "short", h.Type)
	assert.Equal(t, dcid, h.DestCID)
	assert.False(t, IsLongHeaderPacket(data))
}

func TestPeekHeaderLongInitial(t *testing.T) {
	ph := packetHeader{
		typ:     packetTypeInitial,
		version: version,
		dcid:    []byte{1, 2, 3, 4},
		scid:    []byte{5, 6, 7, 8, 9},
		token:   []byte{0xaa, 0xbb},
	}
	b := encodeLongHeader(nil, &ph, 1, 0)

	h, ok := PeekHeader(b, 8)
	require.True(t, ok)
	assert.Equal(t, "initial", h.Type)
	assert.Equal(t, ph.dcid, h.DestCID)
	assert.Equal(t, ph.scid, h.SrcCID)
	assert.Equal(t, ph.token, h.Token)
	assert.Equal(t, version, h.Version)
	assert.True(t, IsLongHeaderPacket(b))
}

func TestBuildRetryPacketIntegrity(t *testing.T) {
	scid := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	triggerSCID := []byte{1, 1, 1, 1}
	origDestCID := []byte{2, 2, 2, 2, 2, 2, 2, 2, 2, 2}
	token := []byte("retry-token")

	pkt, err := BuildRetryPacket(scid, triggerSCID, origDestCID, token)
	require.NoError(t, err)

	h, ok := PeekHeader(pkt, len(scid))
	require.True(t, ok)
	assert.Equal(t, "retry", h.Type)
	// The Retry packet's DCID field echoes the triggering packet's SCID,
	// not the original destination connection id.
	assert.Equal(t, triggerSCID, h.DestCID)
	assert.Equal(t, scid, h.SrcCID)

	assert.True(t, verifyRetryIntegrity(origDestCID, pkt))
	// A verifier using the wrong original DCID must reject the tag.
	assert.False(t, verifyRetryIntegrity(triggerSCID, pkt))
}

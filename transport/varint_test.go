package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 63, 64, 16383, 16384,
		1073741823, 1073741824,
		maxVarInt8, 37, 15293,
	}
	for _, v := range values {
		b := appendVarint(nil, v)
		assert.Equal(t, varintLen(v), len(b))

		var got uint64
		n := getVarint(b, &got)
		assert.Equal(t, len(b), n)
		assert.Equal(t, v, got)
	}
}

func TestVarintLen(t *testing.T) {
	assert.Equal(t, 1, varintLen(63))
	assert.Equal(t, 2, varintLen(64))
	assert.Equal(t, 2, varintLen(16383))
	assert.Equal(t, 4, varintLen(16384))
	assert.Equal(t, 4, varintLen(1073741823))
	assert.Equal(t, 8, varintLen(1073741824))
}

func TestGetVarintIncomplete(t *testing.T) {
	var v uint64
	assert.Equal(t, 0, getVarint(nil, &v))
	// 0x40 prefix declares a 2-byte varint but only one byte is present.
	assert.Equal(t, 0, getVarint([]byte{0x40}, &v))
}

// The RFC 9000 section 16 worked example: 0xc2197c5eff14e88c decodes
// to 151288809941952652 as an 8-byte varint.
func TestGetVarintRFCExample(t *testing.T) {
	b := []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}
	var v uint64
	n := getVarint(b, &v)
	assert.Equal(t, 8, n)
	assert.Equal(t, uint64(151288809941952652), v)
}

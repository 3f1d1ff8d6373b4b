package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeSetInsertOutOfOrder(t *testing.T) {
	var s rangeSet

	gap := s.insert(5)
	assert.False(t, gap, "first insert never reports a gap")
	assert.True(t, s.contains(5))

	gap = s.insert(7)
	assert.True(t, gap, "7 is not adjacent to 5, so a gap exists")

	gap = s.insert(6)
	assert.False(t, gap, "6 bridges 5 and 7, merging the ranges")
	assert.Equal(t, []ackRange{{start: 5, end: 7}}, s.ranges)
}

func TestRangeSetMergePreceding(t *testing.T) {
	var s rangeSet
	s.insert(10)
	s.insert(20)
	assert.Len(t, s.ranges, 2)

	s.insert(9)
	assert.Equal(t, ackRange{start: 9, end: 10}, s.ranges[0])
}

func TestRangeSetLargestAndContains(t *testing.T) {
	var s rangeSet
	for _, n := range []uint64{1, 2, 3, 10, 11} {
		s.insert(n)
	}
	assert.Equal(t, uint64(11), s.largest())
	assert.True(t, s.contains(2))
	assert.True(t, s.contains(10))
	assert.False(t, s.contains(5))
}

func TestRangeSetRemoveUntil(t *testing.T) {
	var s rangeSet
	for _, n := range []uint64{1, 2, 3, 10, 11} {
		s.insert(n)
	}
	s.removeUntil(2)
	assert.False(t, s.contains(1))
	assert.False(t, s.contains(2))
	assert.True(t, s.contains(3))
	assert.True(t, s.contains(10))
}

func TestRangeSetFirstRange(t *testing.T) {
	var s rangeSet
	s.insert(1)
	s.insert(2)
	s.insert(3)
	s.insert(10)

	largest, firstLen, ok := s.firstRange()
	assert.True(t, ok)
	assert.Equal(t, uint64(10), largest)
	assert.Equal(t, uint64(0), firstLen)

	empty := rangeSet{}
	_, _, ok = empty.firstRange()
	assert.False(t, ok)
}

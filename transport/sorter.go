package transport

// sorterClusterSize is the fixed block size backing sorter storage.
const sorterClusterSize = 4096

// sorterMaxSize bounds the initial single gap; it is larger than any
// QUIC stream/crypto offset, which fits in 62 bits.
const sorterMaxSize = 1<<63 - 1

// sorterGap is a half-open range [off, off+len) of bytes not yet
// received. Gaps form a doubly linked, strictly increasing,
// non-adjacent chain so writes can be spliced in place (ported from
// original_source/src/sorter.c).
type sorterGap struct {
	off, len   uint64
	prev, next *sorterGap
}

func (g *sorterGap) end() uint64 {
	return g.off + g.len - 1
}

// sorter absorbs arbitrary-offset byte writes and exposes a single
// in-order, consumable byte stream. It is the shared primitive behind
// CRYPTO stream reassembly and STREAM frame reassembly (spec 4.1).
type sorter struct {
	clusters  map[uint64]*[sorterClusterSize]byte
	gapHead   *sorterGap
	availSize uint64
	readedSize uint64
}

func newSorter() *sorter {
	s := &sorter{clusters: make(map[uint64]*[sorterClusterSize]byte)}
	s.gapHead = &sorterGap{off: 0, len: sorterMaxSize}
	return s
}

func (s *sorter) removeGap(g *sorterGap) {
	if g.prev != nil {
		g.prev.next = g.next
	} else {
		s.gapHead = g.next
	}
	if g.next != nil {
		g.next.prev = g.prev
	}
}

func (s *sorter) insertGapBefore(at, g *sorterGap) {
	g.prev = at.prev
	g.next = at
	if at.prev != nil {
		at.prev.next = g
	} else {
		s.gapHead = g
	}
	at.prev = g
}

func (s *sorter) insertGapAfter(at, g *sorterGap) {
	g.next = at.next
	g.prev = at
	if at.next != nil {
		at.next.prev = g
	}
	at.next = g
}

// write splices data into the sorter at the given offset. Regions
// already covered are left untouched (first writer wins on overlap).
func (s *sorter) write(off uint64, data []byte) error {
	length := uint64(len(data))
	if length == 0 {
		return nil
	}
	end := off + length - 1
	start := off

	startGap := s.gapHead
	for startGap != nil {
		if end < startGap.off {
			return nil // Entirely before any remaining gap: already covered.
		}
		if start <= startGap.end() && startGap.off <= end {
			break
		}
		startGap = startGap.next
	}
	if startGap == nil {
		return nil
	}
	if start < startGap.off {
		start = startGap.off
	}

	// Copy only the bytes that fall inside a gap, so bytes already
	// received between two gaps keep their first-written value.
	for g := startGap; g != nil && g.off <= end; g = g.next {
		segStart, segEnd := start, end
		if g.off > segStart {
			segStart = g.off
		}
		if g.end() < segEnd {
			segEnd = g.end()
		}
		s.writeCluster(segStart, data[segStart-off:segEnd-off+1])
	}

	endGap := startGap
	for end > endGap.end() {
		next := endGap.next
		if next == nil || end < next.off {
			break
		}
		if endGap != startGap {
			s.removeGap(endGap)
		}
		endGap = next
	}
	if end > endGap.end() {
		end = endGap.end()
	}

	switch {
	case start == startGap.off:
		if end >= startGap.end() {
			s.removeGap(startGap)
		}
		if end < endGap.end() {
			endGap.len = endGap.end() - end
			endGap.off = end + 1
		}
	case end == endGap.end():
		startGap.len = start - startGap.off
	case startGap == endGap:
		tail := &sorterGap{off: end + 1, len: startGap.end() - end}
		s.insertGapAfter(startGap, tail)
		startGap.len = start - startGap.off
	default:
		startGap.len = start - startGap.off
		endGap.off = end + 1
	}

	if s.gapHead != nil {
		s.availSize = s.gapHead.off
	} else {
		s.availSize = sorterMaxSize
	}

	return nil
}

func (s *sorter) writeCluster(off uint64, data []byte) error {
	for len(data) != 0 {
		key := off / sorterClusterSize
		clusterOff := off % sorterClusterSize
		n := uint64(sorterClusterSize) - clusterOff
		if n > uint64(len(data)) {
			n = uint64(len(data))
		}
		cluster := s.clusters[key]
		if cluster == nil {
			cluster = &[sorterClusterSize]byte{}
			s.clusters[key] = cluster
		}
		copy(cluster[clusterOff:], data[:n])
		off += n
		data = data[n:]
	}
	return nil
}

func (s *sorter) readCluster(consume bool, length uint64, out []byte) uint64 {
	off := s.readedSize
	var readed uint64
	for length != 0 {
		key := off / sorterClusterSize
		clusterOff := off % sorterClusterSize
		n := uint64(sorterClusterSize) - clusterOff
		if n > length {
			n = length
		}
		cluster, ok := s.clusters[key]
		if !ok {
			return readed
		}
		copy(out[readed:readed+n], cluster[clusterOff:clusterOff+n])
		off += n
		length -= n
		readed += n
		if consume && key != off/sorterClusterSize {
			delete(s.clusters, key)
		}
	}
	return readed
}

// readable returns the number of bytes available for in-order
// consumption.
func (s *sorter) readable() uint64 {
	if s.availSize <= s.readedSize {
		return 0
	}
	return s.availSize - s.readedSize
}

// read consumes up to len(out) bytes, advancing the read cursor.
func (s *sorter) read(out []byte) uint64 {
	length := uint64(len(out))
	if s.readable() < length {
		length = s.readable()
	}
	readed := s.readCluster(true, length, out)
	s.readedSize += readed
	return readed
}

// peek is like read but does not advance the read cursor.
func (s *sorter) peek(out []byte) uint64 {
	length := uint64(len(out))
	if s.readable() < length {
		length = s.readable()
	}
	return s.readCluster(false, length, out)
}

package systems

import (
	"math/bits"
	"sync/atomic"
)

// Radix sort layout: 4-bit digits, so each pass histograms 16 buckets.
const (
	RadixBits      = 4
	RadixBuckets   = 1 << RadixBits
	MinRadixPasses = 4
)

// Dispatcher runs fn over [0, n) split into contiguous chunks and returns
// once every chunk has finished and its writes are visible to the caller.
// The split must depend only on n so that two dispatches over the same n see
// the same chunk boundaries.
type Dispatcher interface {
	Dispatch(n int, fn func(chunk, lo, hi int)) error
	Chunks(n int) int
}

// Serial is a Dispatcher that runs everything as one chunk on the caller.
type Serial struct{}

// Dispatch implements Dispatcher.
func (Serial) Dispatch(n int, fn func(chunk, lo, hi int)) error {
	if n > 0 {
		fn(0, 0, n)
	}
	return nil
}

// Chunks implements Dispatcher.
func (Serial) Chunks(int) int { return 1 }

// SortedTable groups particle indices by cell.
// ParticleIndex[CellOffsets[c] : CellOffsets[c]+CellCounts[c]] holds exactly
// the particles assigned to cell c, in no particular order.
type SortedTable struct {
	CellOffsets   []uint32
	CellCounts    []uint32
	ParticleIndex []uint32
}

// Cell returns the particle indices of cell c.
func (t SortedTable) Cell(c int) []uint32 {
	off := t.CellOffsets[c]
	return t.ParticleIndex[off : off+t.CellCounts[c]]
}

// Clone returns a deep copy.
func (t SortedTable) Clone() SortedTable {
	return SortedTable{
		CellOffsets:   append([]uint32(nil), t.CellOffsets...),
		CellCounts:    append([]uint32(nil), t.CellCounts...),
		ParticleIndex: append([]uint32(nil), t.ParticleIndex...),
	}
}

// RadixSorter groups particle indices by their cell key.
// The permutation comes from a multi-pass LSD radix sort over the keys and
// the per-cell offsets from an independent counting pass.
type RadixSorter struct {
	keys [2][]uint32
	vals [2][]uint32
	hist [][RadixBuckets]uint32 // per chunk, reused as scatter cursors

	counts  []uint32
	offsets []uint32

	n      int
	cells  int
	passes int
	out    int // ping-pong buffer holding the final result
}

// NewRadixSorter returns an empty sorter; buffers are sized by Sort.
func NewRadixSorter() *RadixSorter {
	return &RadixSorter{}
}

// RadixPasses returns the number of passes needed for keys below totalCells.
func RadixPasses(totalCells int) int {
	if totalCells <= 1 {
		return MinRadixPasses
	}
	need := (bits.Len32(uint32(totalCells-1)) + RadixBits - 1) / RadixBits
	return max(need, MinRadixPasses)
}

// resize grows buffers as needed. Capacity is kept when counts shrink.
func (s *RadixSorter) resize(n, totalCells, chunks int) {
	for i := range 2 {
		s.keys[i] = growUint32(s.keys[i], n)
		s.vals[i] = growUint32(s.vals[i], n)
	}
	s.counts = growUint32(s.counts, totalCells)
	s.offsets = growUint32(s.offsets, totalCells)
	if cap(s.hist) < chunks {
		s.hist = make([][RadixBuckets]uint32, chunks)
	}
	s.hist = s.hist[:chunks]
	s.n = n
	s.cells = totalCells
	s.passes = RadixPasses(totalCells)
}

func growUint32(b []uint32, n int) []uint32 {
	if cap(b) < n {
		return make([]uint32, n)
	}
	return b[:n]
}

// Sort groups indices [0, len(cells)) by their key in cells. Every key must
// be below totalCells.
func (s *RadixSorter) Sort(cells []uint32, totalCells int, d Dispatcher) error {
	n := len(cells)
	s.resize(n, totalCells, d.Chunks(n))

	keys, vals := s.keys[0], s.vals[0]
	if err := d.Dispatch(n, func(_, lo, hi int) {
		copy(keys[lo:hi], cells[lo:hi])
		for i := lo; i < hi; i++ {
			vals[i] = uint32(i)
		}
	}); err != nil {
		return err
	}

	in := 0
	for pass := range s.passes {
		if err := s.radixPass(uint(pass*RadixBits), in, d); err != nil {
			return err
		}
		in ^= 1
	}
	s.out = in

	return s.countCells(cells, d)
}

// radixPass distributes keys[in] into keys[in^1] by one digit.
// Each chunk histograms its own range; the exclusive prefix sum is taken in
// (bucket, chunk) order so every chunk scatters into a private window and the
// pass stays stable without contended increments.
func (s *RadixSorter) radixPass(shift uint, in int, d Dispatcher) error {
	srcK, srcV := s.keys[in], s.vals[in]
	dstK, dstV := s.keys[in^1], s.vals[in^1]

	for c := range s.hist {
		s.hist[c] = [RadixBuckets]uint32{}
	}

	if err := d.Dispatch(s.n, func(chunk, lo, hi int) {
		h := &s.hist[chunk]
		for i := lo; i < hi; i++ {
			h[(srcK[i]>>shift)&(RadixBuckets-1)]++
		}
	}); err != nil {
		return err
	}

	var sum uint32
	for b := range RadixBuckets {
		for c := range s.hist {
			cnt := s.hist[c][b]
			s.hist[c][b] = sum
			sum += cnt
		}
	}

	return d.Dispatch(s.n, func(chunk, lo, hi int) {
		cursor := &s.hist[chunk]
		for i := lo; i < hi; i++ {
			k := srcK[i]
			digit := (k >> shift) & (RadixBuckets - 1)
			pos := cursor[digit]
			cursor[digit]++
			dstK[pos] = k
			dstV[pos] = srcV[i]
		}
	})
}

// countCells builds per-cell counts and offsets straight from the unsorted keys.
func (s *RadixSorter) countCells(cells []uint32, d Dispatcher) error {
	counts := s.counts
	clear(counts)
	if err := d.Dispatch(len(cells), func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			atomic.AddUint32(&counts[cells[i]], 1)
		}
	}); err != nil {
		return err
	}

	var sum uint32
	for c, cnt := range counts {
		s.offsets[c] = sum
		sum += cnt
	}
	return nil
}

// Table returns the current grouping. Slices alias the sorter's buffers and
// are valid until the next Sort.
func (s *RadixSorter) Table() SortedTable {
	return SortedTable{
		CellOffsets:   s.offsets,
		CellCounts:    s.counts,
		ParticleIndex: s.vals[s.out],
	}
}

// SortedKeys returns the keys in permutation order, for cross-checking the
// radix result against the counting pass.
func (s *RadixSorter) SortedKeys() []uint32 {
	return s.keys[s.out]
}

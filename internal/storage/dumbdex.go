package storage

import (
	"encoding/binary"
	"sort"
	"sync"
)

const (
	indexElementSize   = 10 // uint64 timestamp + uint16 block index
	freedexElementSize = 2  // uint16 block index
	countsSize         = 8  // two uint32 counts: num_indexes, num_free
)

// MaxIndexesWithin returns the maximum number of (timestamp, block)
// entries a dumbdex region of the given size can hold. The dumbdex
// reserves one freedex slot per index slot, so the region must fit
// both a sorted index table and a free-block table of the same
// cardinality alongside the two uint32 occupancy counters.
//
// The divisor is 2*(sizeof(u64)+sizeof(u16)) rather than the tighter
// indexElementSize+freedexElementSize the on-disk layout actually
// needs: it sizes the freedex slot as if it carried a timestamp too,
// giving a smaller, more conservative capacity than the layout
// strictly requires but keeping the boundary where callers (notably
// allocation's num_blocks check) expect it.
func MaxIndexesWithin(blockSize uint32) uint32 {
	if blockSize <= countsSize {
		return 0
	}
	return (blockSize - countsSize) / (2 * indexElementSize)
}

func dumbdexSize(maxIndexes uint32) uint64 {
	return countsSize + uint64(maxIndexes)*(indexElementSize+freedexElementSize)
}

// indexEntry is one (timestamp, block) pair in the sorted index.
type indexEntry struct {
	ts  uint64
	blk uint16
}

// Dumbdex is the sorted block index with an accompanying free-block
// list, backed by a fixed-size region of the storage file. All
// mutating operations go through the journal so that a crash mid-write
// rolls back cleanly on the next Open.
type Dumbdex struct {
	mu         sync.Mutex
	region     []byte // the live mmap'd (or buffered) dumbdex region
	maxIndexes uint32
	journal    *journal
}

func openDumbdex(region []byte, maxIndexes uint32, j *journal) *Dumbdex {
	return &Dumbdex{region: region, maxIndexes: maxIndexes, journal: j}
}

func (d *Dumbdex) numIndexes() uint32 {
	return binary.LittleEndian.Uint32(d.region[0:4])
}

func (d *Dumbdex) numFree() uint32 {
	return binary.LittleEndian.Uint32(d.region[4:8])
}

func (d *Dumbdex) indexOffset(i uint32) int {
	return countsSize + int(i)*indexElementSize
}

func (d *Dumbdex) freedexOffset(i uint32) int {
	return countsSize + int(d.maxIndexes)*indexElementSize + int(i)*freedexElementSize
}

func (d *Dumbdex) readIndex(i uint32) indexEntry {
	off := d.indexOffset(i)
	return indexEntry{
		ts:  binary.LittleEndian.Uint64(d.region[off : off+8]),
		blk: binary.LittleEndian.Uint16(d.region[off+8 : off+10]),
	}
}

func (d *Dumbdex) writeIndexAt(i uint32, e indexEntry) {
	off := d.indexOffset(i)
	binary.LittleEndian.PutUint64(d.region[off:off+8], e.ts)
	binary.LittleEndian.PutUint16(d.region[off+8:off+10], e.blk)
}

func (d *Dumbdex) readFree(i uint32) uint16 {
	off := d.freedexOffset(i)
	return binary.LittleEndian.Uint16(d.region[off : off+2])
}

func (d *Dumbdex) writeFreeAt(i uint32, blk uint16) {
	off := d.freedexOffset(i)
	binary.LittleEndian.PutUint16(d.region[off:off+2], blk)
}

func (d *Dumbdex) setNumIndexes(n uint32) {
	binary.LittleEndian.PutUint32(d.region[0:4], n)
}

func (d *Dumbdex) setNumFree(n uint32) {
	binary.LittleEndian.PutUint32(d.region[4:8], n)
}

// Iterator walks the sorted index in ascending timestamp order.
type Iterator struct {
	d   *Dumbdex
	pos int
}

func (it *Iterator) Valid() bool {
	return it.pos >= 0 && uint32(it.pos) < it.d.numIndexes()
}

func (it *Iterator) Next() { it.pos++ }
func (it *Iterator) Prev() { it.pos-- }

func (it *Iterator) Entry() (ts uint64, blk uint16) {
	e := it.d.readIndex(uint32(it.pos))
	return e.ts, e.blk
}

// Begin returns an iterator positioned at the earliest entry.
func (d *Dumbdex) Begin() *Iterator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Iterator{d: d, pos: 0}
}

// End returns an iterator positioned one past the last entry.
func (d *Dumbdex) End() *Iterator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Iterator{d: d, pos: int(d.numIndexes())}
}

// LowerBound returns an iterator at the first entry whose timestamp is
// >= ts, or End() if there is none.
func (d *Dumbdex) LowerBound(ts uint64) *Iterator {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := int(d.numIndexes())
	pos := sort.Search(n, func(i int) bool {
		return d.readIndex(uint32(i)).ts >= ts
	})
	return &Iterator{d: d, pos: pos}
}

// Insert adds a new (ts, blk) entry at its sorted position. The caller
// chooses blk, for example a block taken off the free list with
// PopFree. Returns ErrFull if there is no room left in the index table.
func (d *Dumbdex) Insert(ts uint64, blk uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.numIndexes()
	if n >= d.maxIndexes {
		return ErrFull
	}

	if err := d.journal.begin(); err != nil {
		return err
	}
	defer d.journal.discard()

	if err := d.journal.recordRegion(d.region, 0, countsSize+int(d.maxIndexes)*indexElementSize); err != nil {
		return err
	}

	// Shift entries with ts greater than the new one to keep the
	// index sorted; duplicates are not expected (timestamps are
	// monotonic per-stream) but we insert at the correct position
	// regardless.
	pos := sort.Search(int(n), func(i int) bool {
		return d.readIndex(uint32(i)).ts > ts
	})
	for i := int(n); i > pos; i-- {
		d.writeIndexAt(uint32(i), d.readIndex(uint32(i-1)))
	}
	d.writeIndexAt(uint32(pos), indexEntry{ts: ts, blk: blk})
	d.setNumIndexes(n + 1)

	return d.journal.commit()
}

// Remove deletes the entry with the given timestamp, if present, and
// returns its block index so the caller can push it onto the free
// list.
func (d *Dumbdex) Remove(ts uint64) (uint16, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.numIndexes()
	pos := sort.Search(int(n), func(i int) bool {
		return d.readIndex(uint32(i)).ts >= ts
	})
	if uint32(pos) >= n || d.readIndex(uint32(pos)).ts != ts {
		return 0, false, nil
	}
	blk := d.readIndex(uint32(pos)).blk

	if err := d.journal.begin(); err != nil {
		return 0, false, err
	}
	defer d.journal.discard()
	if err := d.journal.recordRegion(d.region, 0, countsSize+int(d.maxIndexes)*indexElementSize); err != nil {
		return 0, false, err
	}

	for i := pos; i < int(n)-1; i++ {
		d.writeIndexAt(uint32(i), d.readIndex(uint32(i+1)))
	}
	d.setNumIndexes(n - 1)

	if err := d.journal.commit(); err != nil {
		return 0, false, err
	}
	return blk, true, nil
}

// PushFree returns a block to the free list. Returns ErrFull if the
// free list has no room, which should not happen in practice since it
// is sized to match the index table.
func (d *Dumbdex) PushFree(blk uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.numFree()
	if n >= d.maxIndexes {
		return ErrFull
	}

	freeRegionStart := countsSize + int(d.maxIndexes)*indexElementSize
	freeRegionEnd := freeRegionStart + int(d.maxIndexes)*freedexElementSize

	if err := d.journal.begin(); err != nil {
		return err
	}
	defer d.journal.discard()
	if err := d.journal.recordRegion(d.region, 4, 4); err != nil {
		return err
	}
	if err := d.journal.recordRegion(d.region, freeRegionStart, freeRegionEnd-freeRegionStart); err != nil {
		return err
	}

	d.writeFreeAt(n, blk)
	d.setNumFree(n + 1)
	return d.journal.commit()
}

// PopFree removes and returns a block from the free list. The second
// return value is false if the free list is empty.
func (d *Dumbdex) PopFree() (uint16, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.numFree()
	if n == 0 {
		return 0, false, nil
	}

	freeRegionStart := countsSize + int(d.maxIndexes)*indexElementSize
	freeRegionEnd := freeRegionStart + int(d.maxIndexes)*freedexElementSize

	if err := d.journal.begin(); err != nil {
		return 0, false, err
	}
	defer d.journal.discard()
	if err := d.journal.recordRegion(d.region, 4, 4); err != nil {
		return 0, false, err
	}
	if err := d.journal.recordRegion(d.region, freeRegionStart, freeRegionEnd-freeRegionStart); err != nil {
		return 0, false, err
	}

	blk := d.readFree(n - 1)
	d.setNumFree(n - 1)

	if err := d.journal.commit(); err != nil {
		return 0, false, err
	}
	return blk, true, nil
}

// Len reports the number of live index entries.
func (d *Dumbdex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.numIndexes())
}

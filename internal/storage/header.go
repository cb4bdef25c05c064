package storage

import (
	"encoding/binary"
	"fmt"
)

const (
	headerSize    = 128
	headerMagic   = "RSTRG\x00\x00\x00"
	headerVersion = uint32(1)
)

// fileHeader is the fixed 128-byte preamble written once at Allocate
// time and read back on every Open. Fields are encoded explicitly in
// little-endian rather than relying on Go's in-memory struct layout,
// since this layout is a durable on-disk contract.
type fileHeader struct {
	magic         [8]byte
	version       uint32
	blockSize     uint32
	numBlocks     uint32
	dumbdexOffset uint64
	dumbdexSize   uint64
	dataOffset    uint64
	maxIndexes    uint32
}

func newFileHeader(blockSize uint32, numBlocks uint32) fileHeader {
	// The index and free list hold exactly numBlocks entries, so the
	// dumbdex reports ErrFull once every block is indexed. Allocate has
	// already checked that numBlocks fits MaxIndexesWithin(blockSize).
	maxIdx := numBlocks
	dumbdexSz := dumbdexSize(maxIdx)
	var h fileHeader
	copy(h.magic[:], headerMagic)
	h.version = headerVersion
	h.blockSize = blockSize
	h.numBlocks = numBlocks
	h.dumbdexOffset = headerSize
	h.dumbdexSize = dumbdexSz
	h.dataOffset = headerSize + dumbdexSz
	h.maxIndexes = maxIdx
	return h
}

func (h fileHeader) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], h.magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.version)
	binary.LittleEndian.PutUint32(buf[12:16], h.blockSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.numBlocks)
	binary.LittleEndian.PutUint64(buf[20:28], h.dumbdexOffset)
	binary.LittleEndian.PutUint64(buf[28:36], h.dumbdexSize)
	binary.LittleEndian.PutUint64(buf[36:44], h.dataOffset)
	binary.LittleEndian.PutUint32(buf[44:48], h.maxIndexes)
	return buf
}

func decodeFileHeader(buf []byte) (fileHeader, error) {
	var h fileHeader
	if len(buf) < headerSize {
		return h, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(buf))
	}
	copy(h.magic[:], buf[0:8])
	if string(h.magic[:]) != headerMagic {
		return h, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	h.version = binary.LittleEndian.Uint32(buf[8:12])
	if h.version != headerVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.version)
	}
	h.blockSize = binary.LittleEndian.Uint32(buf[12:16])
	h.numBlocks = binary.LittleEndian.Uint32(buf[16:20])
	h.dumbdexOffset = binary.LittleEndian.Uint64(buf[20:28])
	h.dumbdexSize = binary.LittleEndian.Uint64(buf[28:36])
	h.dataOffset = binary.LittleEndian.Uint64(buf[36:44])
	h.maxIndexes = binary.LittleEndian.Uint32(buf[44:48])
	return h, nil
}

func (h fileHeader) totalSize() int64 {
	return int64(h.dataOffset) + int64(h.blockSize)*int64(h.numBlocks)
}

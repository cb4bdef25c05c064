package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// File is an open block-structured media container: a 128-byte
// header, a fixed-size dumbdex region, and a flat array of
// fixed-size blocks, all mapped into memory for the life of the
// handle.
type File struct {
	mu     sync.RWMutex
	path   string
	f      *os.File
	mapped []byte
	header fileHeader
	dex    *Dumbdex
	jrnl   *journal
	closed bool
}

// Allocate creates a new, zero-filled storage file sized for
// numBlocks blocks of blockSize bytes each, plus its header and
// dumbdex region. Returns ErrAlreadyExists if path already exists.
func Allocate(path string, blockSize, numBlocks uint32) error {
	if blockSize == 0 || numBlocks == 0 {
		return ErrInvalidArgument
	}
	if MaxIndexesWithin(blockSize) < numBlocks {
		return fmt.Errorf("%w: block size %d cannot index %d blocks", ErrInvalidArgument, blockSize, numBlocks)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	defer f.Close()

	h := newFileHeader(blockSize, numBlocks)
	total := h.totalSize()
	if err := f.Truncate(total); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if _, err := f.WriteAt(h.encode(), 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	// Zero-initialized dumbdex counts (numIndexes=0, numFree=0) are
	// already satisfied by Truncate's zero-fill.
	return f.Sync()
}

// Open maps an existing storage file and replays its journal if the
// previous session ended uncleanly.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	hdrBuf := make([]byte, headerSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	h, err := decodeFileHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(h.totalSize()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap: %v", ErrIoError, err)
	}

	jrnl, err := openJournal(path+".journal", f)
	if err != nil {
		unix.Munmap(mapped)
		f.Close()
		return nil, err
	}

	dexRegion := mapped[h.dumbdexOffset : h.dumbdexOffset+h.dumbdexSize]
	if jrnl.needsRollback() {
		// Journal records carry offsets relative to the dumbdex region.
		if err := jrnl.rollback(dexRegion, 0); err != nil {
			unix.Munmap(mapped)
			f.Close()
			return nil, err
		}
	}

	dex := openDumbdex(dexRegion, h.maxIndexes, jrnl)

	return &File{
		path:   path,
		f:      f,
		mapped: mapped,
		header: h,
		dex:    dex,
		jrnl:   jrnl,
	}, nil
}

// Dumbdex returns the file's block index.
func (fl *File) Dumbdex() *Dumbdex { return fl.dex }

// BlockSize returns the fixed block size for this file.
func (fl *File) BlockSize() uint32 { return fl.header.blockSize }

// NumBlocks returns the total block capacity of this file.
func (fl *File) NumBlocks() uint32 { return fl.header.numBlocks }

// BlockView is a scoped, bounds-checked view into one block's bytes.
// The caller must call Release when finished; acquiring for write
// takes the file's write lock for the duration of the view's
// lifetime, acquiring for read takes the shared read lock.
type BlockView struct {
	Bytes   []byte
	release func()
}

// Release ends the scoped acquisition. It is safe to call once; the
// idiomatic pattern is `defer view.Release()` immediately after
// AcquireBlock succeeds.
func (bv *BlockView) Release() {
	if bv.release != nil {
		bv.release()
		bv.release = nil
	}
}

// AcquireBlock returns a scoped view of block idx's bytes. Pass
// forWrite=true to take the file's exclusive lock (blocking
// concurrent readers and writers), or false to take the shared lock.
func (fl *File) AcquireBlock(idx uint16, forWrite bool) (*BlockView, error) {
	fl.mu.RLock()
	if fl.closed {
		fl.mu.RUnlock()
		return nil, ErrClosed
	}
	fl.mu.RUnlock()

	if uint32(idx) >= fl.header.numBlocks {
		return nil, fmt.Errorf("%w: block %d out of range", ErrInvalidArgument, idx)
	}

	if forWrite {
		fl.mu.Lock()
	} else {
		fl.mu.RLock()
	}

	start := int64(fl.header.dataOffset) + int64(idx)*int64(fl.header.blockSize)
	end := start + int64(fl.header.blockSize)

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if forWrite {
			fl.mu.Unlock()
		} else {
			fl.mu.RUnlock()
		}
	}

	return &BlockView{Bytes: fl.mapped[start:end], release: release}, nil
}

// Sync flushes mapped pages to disk.
func (fl *File) Sync() error {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	if fl.closed {
		return ErrClosed
	}
	if err := unix.Msync(fl.mapped, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync: %v", ErrIoError, err)
	}
	return nil
}

// Close unmaps the file and releases the underlying descriptor. It is
// idempotent.
func (fl *File) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		return nil
	}
	fl.closed = true
	if err := unix.Munmap(fl.mapped); err != nil {
		return fmt.Errorf("%w: munmap: %v", ErrIoError, err)
	}
	return fl.f.Close()
}

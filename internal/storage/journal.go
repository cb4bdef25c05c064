package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"
)

// journal implements the crash-safe mutation protocol for the dumbdex
// region: before a mutation is applied in place, the pre-image bytes
// it is about to overwrite are appended to a sidecar "<name>.journal"
// file and fsync'd. The journal is only deleted after the mutated
// region itself has been fsync'd, so an unclean shutdown always finds
// a journal to roll back from — there is no roll-forward path.
//
// A gofrs/flock advisory lock on the journal file path serializes
// access across processes; a single journal instance additionally
// serializes writers within this process via its embedded mutex in
// Dumbdex.
type journal struct {
	path    string
	dataF   *os.File // the underlying storage file, for fsync of mutated regions
	lock    *flock.Flock
	pending *os.File // open during an in-flight begin/commit cycle
}

// journalRecord is one pre-image entry: the byte offset and length of
// a region about to be overwritten, followed by its current contents.
type journalRecord struct {
	offset int64
	length int64
}

func openJournal(path string, dataF *os.File) (*journal, error) {
	j := &journal{
		path:  path,
		dataF: dataF,
		lock:  flock.New(path + ".lock"),
	}
	return j, nil
}

// needsRollback reports whether a journal file exists on disk, which
// means the prior process exited between appending records and
// deleting the journal.
func (j *journal) needsRollback() bool {
	_, err := os.Stat(j.path)
	return err == nil
}

// rollback replays the journal in reverse, writing each pre-image back
// over the region it came from, then removes the journal.
func (j *journal) rollback(region []byte, regionBase int64) error {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: opening journal: %v", ErrIoError, err)
	}
	defer f.Close()

	var records []journalRecord
	var payloads [][]byte
	for {
		var hdr [16]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("%w: reading journal record header: %v", ErrIoError, err)
		}
		off := int64(binary.LittleEndian.Uint64(hdr[0:8]))
		length := int64(binary.LittleEndian.Uint64(hdr[8:16]))
		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return fmt.Errorf("%w: reading journal payload: %v", ErrIoError, err)
		}
		records = append(records, journalRecord{offset: off, length: length})
		payloads = append(payloads, payload)
	}

	// Reverse order: undo the most recent change first.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		localOff := rec.offset - regionBase
		if localOff >= 0 && localOff+rec.length <= int64(len(region)) {
			copy(region[localOff:localOff+rec.length], payloads[i])
		}
	}

	return os.Remove(j.path)
}

// begin acquires the cross-process advisory lock for the duration of
// one mutation and opens a fresh journal file for its pre-image
// records.
func (j *journal) begin() error {
	if err := j.lock.Lock(); err != nil {
		return fmt.Errorf("%w: acquiring advisory lock: %v", ErrIoError, err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		_ = j.lock.Unlock()
		return fmt.Errorf("%w: creating journal: %v", ErrIoError, err)
	}
	j.pending = f
	return nil
}

// recordRegion appends the current (pre-mutation) contents of
// region[offset:offset+length] to the journal.
func (j *journal) recordRegion(region []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(region) {
		return fmt.Errorf("%w: journal record out of range", ErrInvalidArgument)
	}
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(offset))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(length))
	if _, err := j.pending.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: writing journal header: %v", ErrIoError, err)
	}
	if _, err := j.pending.Write(region[offset : offset+length]); err != nil {
		return fmt.Errorf("%w: writing journal payload: %v", ErrIoError, err)
	}
	return nil
}

// commit fsyncs the journal (so a rollback source is durable), lets
// the caller's in-place mutation stand, fsyncs the mutated data file,
// then deletes the journal and releases the advisory lock. Deleting
// the journal only after the data fsync is what makes an unclean exit
// always roll back: if the process dies before this point, the
// journal is still present on the next Open and the mutation is
// undone.
func (j *journal) commit() error {
	if err := j.pending.Sync(); err != nil {
		return fmt.Errorf("%w: fsync journal: %v", ErrIoError, err)
	}
	if err := j.pending.Close(); err != nil {
		return fmt.Errorf("%w: closing journal: %v", ErrIoError, err)
	}
	if j.dataF != nil {
		if err := j.dataF.Sync(); err != nil {
			return fmt.Errorf("%w: fsync data file: %v", ErrIoError, err)
		}
	}
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing journal: %v", ErrIoError, err)
	}
	j.pending = nil
	return j.lock.Unlock()
}

// discard is called via defer after every mutation attempt; once
// commit has already closed and nilled j.pending, this is a no-op. If
// an error aborted the mutation before commit, it cleans up the
// half-written journal and releases the lock without touching the
// data region (the in-place write never happened, so there is nothing
// to roll back).
func (j *journal) discard() {
	if j.pending == nil {
		return
	}
	_ = j.pending.Close()
	_ = os.Remove(j.path)
	j.pending = nil
	_ = j.lock.Unlock()
}

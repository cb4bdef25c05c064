package storage

import (
	"path/filepath"
	"testing"
)

// TestJournal_RollsBackUncommittedMutationOnReopen simulates a crash
// between the in-place mutation and the journal's commit: the pre-image
// is recorded, the mutation is applied, but commit (and therefore the
// journal's removal) never runs. Reopening the file must restore the
// pre-image.
func TestJournal_RollsBackUncommittedMutationOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.rvd")
	if err := Allocate(path, 4096, 8); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	f1, err := Open(path)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	dex := f1.Dumbdex()
	if err := dex.Insert(100, 0); err != nil {
		t.Fatalf("committed insert: %v", err)
	}

	// Simulate an interrupted second mutation: record the pre-image and
	// apply the change in place, but never call commit, leaving the
	// journal file on disk as if the process had died right here.
	regionLen := countsSize + int(dex.maxIndexes)*indexElementSize
	if err := dex.journal.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := dex.journal.recordRegion(dex.region, 0, regionLen); err != nil {
		t.Fatalf("record region: %v", err)
	}
	dex.writeIndexAt(1, indexEntry{ts: 200, blk: 1})
	dex.setNumIndexes(2)
	// Deliberately no dex.journal.commit(): this is the abort point.

	f2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()

	dex2 := f2.Dumbdex()
	if dex2.Len() != 1 {
		t.Fatalf("expected rollback to restore exactly 1 entry, got %d", dex2.Len())
	}
	it := dex2.Begin()
	if !it.Valid() {
		t.Fatal("expected one surviving entry after rollback")
	}
	if ts, blk := it.Entry(); ts != 100 || blk != 0 {
		t.Fatalf("expected the pre-crash entry (100, 0) to survive, got (%d, %d)", ts, blk)
	}
}

func TestJournal_CommitRemovesJournalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clean.rvd")
	if err := Allocate(path, 4096, 8); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if err := f.Dumbdex().Insert(1, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if f.Dumbdex().journal.needsRollback() {
		t.Fatal("expected no journal file to remain after a clean commit")
	}
}

package storage

import (
	"path/filepath"
	"testing"
)

func openTestFile(t *testing.T, blockSize, numBlocks uint32) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dex.rvd")
	if err := Allocate(path, blockSize, numBlocks); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestDumbdex_InsertMaintainsSortedOrder(t *testing.T) {
	f := openTestFile(t, 4096, 8)
	dex := f.Dumbdex()

	for i, ts := range []uint64{50, 10, 30, 20, 40} {
		if err := dex.Insert(ts, uint16(i)); err != nil {
			t.Fatalf("insert %d: %v", ts, err)
		}
	}

	var prev uint64
	var got []uint64
	for it := dex.Begin(); it.Valid(); it.Next() {
		ts, _ := it.Entry()
		if ts < prev {
			t.Fatalf("index is not sorted ascending: %v after %v", ts, prev)
		}
		prev = ts
		got = append(got, ts)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
}

func TestDumbdex_InsertReturnsErrFullWhenExhausted(t *testing.T) {
	f := openTestFile(t, 4096, 2)
	dex := f.Dumbdex()

	if err := dex.Insert(1, 0); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := dex.Insert(2, 1); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if err := dex.Insert(3, 0); err != ErrFull {
		t.Fatalf("expected ErrFull once capacity is exhausted, got %v", err)
	}
}

func TestDumbdex_RemoveAndPushFreeRestoreInvariant(t *testing.T) {
	f := openTestFile(t, 4096, 4)
	dex := f.Dumbdex()

	for i, ts := range []uint64{10, 20, 30, 40} {
		if err := dex.Insert(ts, uint16(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	blk, ok, err := dex.Remove(20)
	if err != nil || !ok {
		t.Fatalf("remove(20) = %v, %v, %v", blk, ok, err)
	}
	if blk != 1 {
		t.Fatalf("expected block 1 freed for ts=20, got %d", blk)
	}
	if err := dex.PushFree(blk); err != nil {
		t.Fatalf("push free: %v", err)
	}

	// |index| + |freedex| = num_blocks: 3 remaining entries + 1 freed block.
	if dex.Len() != 3 {
		t.Fatalf("expected 3 remaining index entries, got %d", dex.Len())
	}

	popped, ok, err := dex.PopFree()
	if err != nil || !ok || popped != 1 {
		t.Fatalf("pop free = %v, %v, %v", popped, ok, err)
	}
	if _, ok, _ := dex.PopFree(); ok {
		t.Fatal("expected free list to be empty after popping its only entry")
	}
}

func TestDumbdex_RemoveMissingTimestampIsNoop(t *testing.T) {
	f := openTestFile(t, 4096, 4)
	dex := f.Dumbdex()
	if err := dex.Insert(100, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, ok, err := dex.Remove(999)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok {
		t.Fatal("expected Remove of an absent timestamp to report not-found")
	}
	if dex.Len() != 1 {
		t.Fatalf("expected the existing entry to survive, got len=%d", dex.Len())
	}
}

func TestDumbdex_LowerBound(t *testing.T) {
	f := openTestFile(t, 4096, 8)
	dex := f.Dumbdex()
	for i, ts := range []uint64{10, 20, 30} {
		if err := dex.Insert(ts, uint16(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	it := dex.LowerBound(15)
	if !it.Valid() {
		t.Fatal("expected LowerBound(15) to find an entry")
	}
	if ts, _ := it.Entry(); ts != 20 {
		t.Fatalf("LowerBound(15) = %d, want 20", ts)
	}

	it = dex.LowerBound(100)
	if it.Valid() {
		t.Fatal("expected LowerBound past the last entry to be End()")
	}
}

func TestMaxIndexesWithin(t *testing.T) {
	if got := MaxIndexesWithin(0); got != 0 {
		t.Fatalf("MaxIndexesWithin(0) = %d, want 0", got)
	}
	if got := MaxIndexesWithin(4096); got == 0 {
		t.Fatal("expected a positive capacity for a 4096-byte dumbdex region")
	}
}

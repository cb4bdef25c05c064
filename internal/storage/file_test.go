package storage

import (
	"path/filepath"
	"testing"
)

func TestAllocate_RejectsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.rvd")
	if err := Allocate(path, 4096, 4); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if err := Allocate(path, 4096, 4); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAllocate_RejectsInvalidArguments(t *testing.T) {
	dir := t.TempDir()
	if err := Allocate(filepath.Join(dir, "z.rvd"), 0, 4); err != ErrInvalidArgument {
		t.Fatalf("zero block size: expected ErrInvalidArgument, got %v", err)
	}
	if err := Allocate(filepath.Join(dir, "z2.rvd"), 4096, 0); err != ErrInvalidArgument {
		t.Fatalf("zero num blocks: expected ErrInvalidArgument, got %v", err)
	}
	// A block size too small to index the requested block count.
	if err := Allocate(filepath.Join(dir, "z3.rvd"), 16, 1_000_000); err == nil {
		t.Fatal("expected an error when the dumbdex cannot index num_blocks")
	}
}

func TestOpen_RoundTripsHeaderAndIsUsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.rvd")
	if err := Allocate(path, 65536, 4); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if f.BlockSize() != 65536 {
		t.Errorf("BlockSize = %d, want 65536", f.BlockSize())
	}
	if f.NumBlocks() != 4 {
		t.Errorf("NumBlocks = %d, want 4", f.NumBlocks())
	}
	if f.Dumbdex().Len() != 0 {
		t.Errorf("expected an empty dumbdex on a freshly allocated file, got %d entries", f.Dumbdex().Len())
	}
}

func TestAcquireBlock_OutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oor.rvd")
	if err := Allocate(path, 4096, 2); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if _, err := f.AcquireBlock(2, false); err == nil {
		t.Fatal("expected an error acquiring a block index >= num_blocks")
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "close.rvd")
	if err := Allocate(path, 4096, 2); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
	if _, err := f.AcquireBlock(0, false); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

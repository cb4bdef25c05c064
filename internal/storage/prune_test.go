package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPruner_PruneOnceRemovesExpiredEntriesOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.rvd")
	if err := Allocate(path, 4096, 8); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dex := f.Dumbdex()
	const second = uint64(time.Second)
	if err := dex.Insert(1*second, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := dex.Insert(5*second, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := dex.Insert(10*second, 2); err != nil {
		t.Fatalf("insert: %v", err)
	}

	p := NewPruner(f, 3*time.Second)
	freed, err := p.PruneOnce(8 * second)
	if err != nil {
		t.Fatalf("prune once: %v", err)
	}
	if freed != 1 {
		t.Fatalf("expected only the entry older than cutoff (5s) to be freed, got %d", freed)
	}
	if dex.Len() != 2 {
		t.Fatalf("expected two surviving entries, got %d", dex.Len())
	}
	it := dex.Begin()
	if ts, _ := it.Entry(); ts != 5*second {
		t.Fatalf("expected the entry exactly at the cutoff to survive as the oldest, got ts=%d", ts)
	}
}

func TestPruner_HookFreesBlocksForWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ph.rvd")
	if err := Allocate(path, 4096, 4); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	const second = uint64(time.Second)
	if err := f.Dumbdex().Insert(1*second, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	p := NewPruner(f, 0)
	freed, err := p.Hook()()
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if freed != 1 {
		t.Fatalf("expected the hook to free the one expired entry, got %d", freed)
	}
}

func TestPruner_PruneOnceIsNoopWhenNothingExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.rvd")
	if err := Allocate(path, 4096, 4); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	const second = uint64(time.Second)
	if err := f.Dumbdex().Insert(100*second, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	p := NewPruner(f, time.Hour)
	freed, err := p.PruneOnce(101 * second)
	if err != nil {
		t.Fatalf("prune once: %v", err)
	}
	if freed != 0 {
		t.Fatalf("expected nothing to be pruned, got %d freed", freed)
	}
}

package storage

import (
	"context"
	"log/slog"
	"time"
)

// Pruner removes dumbdex entries older than a retention cutoff,
// freeing their blocks back onto the free list. It is used two ways:
// synchronously, as the PruneHook a StorageWriter invokes when the
// dumbdex reports Full, and periodically, as a background loop a
// camera's retention policy runs so the store rarely hits Full in the
// first place.
type Pruner struct {
	file         *File
	retentionAge time.Duration
	log          *slog.Logger
}

// NewPruner creates a pruner that removes entries older than
// retentionAge relative to the time PruneOnce or Run is called.
func NewPruner(file *File, retentionAge time.Duration) *Pruner {
	return &Pruner{
		file:         file,
		retentionAge: retentionAge,
		log:          slog.Default().With("component", "storage.pruner"),
	}
}

// Hook adapts PruneOnce to the PruneHook signature expected by
// StorageWriter.
func (p *Pruner) Hook() PruneHook {
	return func() (int, error) {
		return p.PruneOnce(uint64(time.Now().UnixNano()))
	}
}

// PruneOnce removes every dumbdex entry older than now-retentionAge
// and returns how many blocks were freed.
func (p *Pruner) PruneOnce(nowNS uint64) (int, error) {
	cutoff := uint64(0)
	age := uint64(p.retentionAge.Nanoseconds())
	if nowNS > age {
		cutoff = nowNS - age
	}

	var toRemove []uint64
	it := p.file.Dumbdex().Begin()
	for ; it.Valid(); it.Next() {
		ts, _ := it.Entry()
		if ts >= cutoff {
			break
		}
		toRemove = append(toRemove, ts)
	}

	freed := 0
	for _, ts := range toRemove {
		blk, ok, err := p.file.Dumbdex().Remove(ts)
		if err != nil {
			return freed, err
		}
		if !ok {
			continue
		}
		if err := p.file.Dumbdex().PushFree(blk); err != nil {
			return freed, err
		}
		freed++
	}
	if freed > 0 {
		p.log.Info("pruned expired blocks", "freed", freed, "cutoff", cutoff)
	}
	return freed, nil
}

// Run drives PruneOnce on a fixed interval until ctx is cancelled,
// matching the teacher's ticker-driven retention loop shape.
func (p *Pruner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PruneOnce(uint64(time.Now().UnixNano())); err != nil {
				p.log.Error("prune pass failed", "error", err)
			}
		}
	}
}

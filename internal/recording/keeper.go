package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/revere-project/revere/internal/discovery"
	"github.com/revere-project/revere/internal/motion"
	"github.com/revere-project/revere/internal/storage"
)

// EventSubscriber is the narrow slice of eventbus.Bus the keeper
// depends on for consuming the discovery agent's changed_streams
// events — kept as a local interface so this package doesn't need to
// import eventbus.
type EventSubscriber interface {
	Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error)
}

// SourceFactory builds the RTSP source collaborator for one
// discovered stream.
type SourceFactory func(sc discovery.StreamConfig) (RTSPSource, error)

// DecoderFactory builds the optional frame decoder used to feed the
// motion analyzer for one discovered stream. A nil return disables
// motion analysis for that camera.
type DecoderFactory func(sc discovery.StreamConfig) FrameDecoder

// EnabledPredicate reports whether recording is administratively
// enabled for a discovered camera id — the "record = true" flag the
// reconciliation rules gate on.
type EnabledPredicate func(id string) bool

// reconcileInterval is the stream keeper's supervisor cadence, the
// same ticker-driven shape as the teacher's 30s health-monitor loop.
const reconcileInterval = 30 * time.Second

// defaultByteRate backstops preallocation sizing (4 Mbps) the first
// time a camera's storage file is created, before any measured
// bytes_per_second history exists for it.
const defaultByteRate = 500_000

const (
	minPreallocBlocks = 16
	maxPreallocBlocks = 1 << 20
)

// KeeperOptions configures a StreamKeeper.
type KeeperOptions struct {
	TopDir        string
	BlockSize     uint32
	RetentionDays int
	Bus           EventSubscriber
	Enabled       EnabledPredicate
	NewSource     SourceFactory
	NewDecoder    DecoderFactory
	MotionOptions motion.Options
	MotionSink    MotionSink
}

type streamEntry struct {
	ctx  *RecordingContext
	file *storage.File
	hash string
}

// StreamKeeper owns a camera_id -> recording context mapping and
// reconciles it against the discovery agent's changed_streams events,
// generalizing the teacher's camera.Service health-monitor supervisor
// loop (ticker-driven, mutex-guarded map, copy-then-swap updates).
type StreamKeeper struct {
	mu       sync.RWMutex
	contexts map[string]*streamEntry
	streams  map[string]discovery.ChangedStream

	opts KeeperOptions

	sub      *nats.Subscription
	stopChan chan struct{}
	stopped  chan struct{}
	log      *slog.Logger
}

// NewStreamKeeper constructs a stream keeper; call Start to subscribe
// to discovery events and begin reconciling.
func NewStreamKeeper(opts KeeperOptions) *StreamKeeper {
	if opts.RetentionDays == 0 {
		opts.RetentionDays = 30
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = 1 << 20
	}
	return &StreamKeeper{
		contexts: make(map[string]*streamEntry),
		streams:  make(map[string]discovery.ChangedStream),
		opts:     opts,
		stopChan: make(chan struct{}),
		stopped:  make(chan struct{}),
		log:      slog.Default().With("component", "recording.keeper"),
	}
}

// Start subscribes to discovery's changed_streams subject — the sole
// write path into the keeper's view of the world — and begins the
// reconciliation loop.
func (k *StreamKeeper) Start(ctx context.Context) error {
	sub, err := k.opts.Bus.Subscribe(discovery.ChangedStreamsSubject, k.onChangedStreams)
	if err != nil {
		return fmt.Errorf("recording: subscribe to changed_streams: %w", err)
	}
	k.sub = sub

	go k.run(ctx)
	return nil
}

// Stop ends the reconciliation loop, then stops every running context
// in parallel — each bounded by its own 10s stop budget.
func (k *StreamKeeper) Stop() {
	close(k.stopChan)
	<-k.stopped
	if k.sub != nil {
		_ = k.sub.Unsubscribe()
	}

	k.mu.RLock()
	entries := make([]*streamEntry, 0, len(k.contexts))
	for _, e := range k.contexts {
		entries = append(entries, e)
	}
	k.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *streamEntry) {
			defer wg.Done()
			_ = e.ctx.Stop()
			_ = e.file.Close()
		}(e)
	}
	wg.Wait()
}

func (k *StreamKeeper) onChangedStreams(msg *nats.Msg) {
	var batch []discovery.ChangedStream
	if err := json.Unmarshal(msg.Data, &batch); err != nil {
		k.log.Error("failed to decode changed_streams payload", "error", err)
		return
	}
	k.mu.Lock()
	for _, cs := range batch {
		k.streams[cs.Config.ID] = cs
	}
	k.mu.Unlock()
}

func (k *StreamKeeper) run(ctx context.Context) {
	defer close(k.stopped)
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-k.stopChan:
			return
		case <-ticker.C:
			k.reconcile(ctx)
		}
	}
}

// reconcile implements the keeper's reconciliation rules: start
// contexts for newly-enabled cameras, stop+remove for disabled,
// absent, or dead ones, stop+replace on a stream-config hash change.
func (k *StreamKeeper) reconcile(ctx context.Context) {
	k.mu.Lock()
	streams := make(map[string]discovery.ChangedStream, len(k.streams))
	for id, cs := range k.streams {
		streams[id] = cs
	}
	k.mu.Unlock()

	k.mu.Lock()
	defer k.mu.Unlock()

	for id, entry := range k.contexts {
		cs, present := streams[id]
		enabled := present && k.opts.Enabled != nil && k.opts.Enabled(id)
		switch {
		case !present || !enabled || entry.ctx.Dead():
			k.stopAndRemoveLocked(id, entry)
		case cs.Hash != entry.hash:
			k.stopAndRemoveLocked(id, entry)
			k.startLocked(ctx, cs)
		}
	}

	for id, cs := range streams {
		if _, exists := k.contexts[id]; exists {
			continue
		}
		if k.opts.Enabled == nil || !k.opts.Enabled(id) {
			continue
		}
		k.startLocked(ctx, cs)
	}
}

func (k *StreamKeeper) stopAndRemoveLocked(id string, entry *streamEntry) {
	delete(k.contexts, id)
	go func() {
		_ = entry.ctx.Stop()
		_ = entry.file.Close()
	}()
	k.log.Info("stopped recording context", "camera", id)
}

func (k *StreamKeeper) startLocked(ctx context.Context, cs discovery.ChangedStream) {
	id := cs.Config.ID
	entry, err := k.openEntry(cs)
	if err != nil {
		k.log.Error("failed to open storage for camera", "camera", id, "error", err)
		return
	}
	if err := entry.ctx.Start(ctx); err != nil {
		k.log.Error("failed to start recording context", "camera", id, "error", err)
		_ = entry.file.Close()
		return
	}
	k.contexts[id] = entry
	k.log.Info("started recording context", "camera", id)
}

// openEntry allocates (idempotently, once per camera) and opens the
// per-camera storage file, then builds a writer, pruner, and
// recording context over it.
func (k *StreamKeeper) openEntry(cs discovery.ChangedStream) (*streamEntry, error) {
	path := k.videoPath(cs.Config.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := storage.Allocate(path, k.opts.BlockSize, k.sizeInBlocks()); err != nil {
			return nil, fmt.Errorf("allocate %s: %w", path, err)
		}
	}

	file, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	retention := time.Duration(k.opts.RetentionDays) * 24 * time.Hour
	pruner := storage.NewPruner(file, retention)

	writer, err := storage.NewStorageWriter(file, pruner.Hook())
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	var source RTSPSource
	if k.opts.NewSource != nil {
		source, err = k.opts.NewSource(cs.Config)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("build source: %w", err)
		}
	}

	var decoder FrameDecoder
	var analyzer *motion.State
	if k.opts.NewDecoder != nil {
		if decoder = k.opts.NewDecoder(cs.Config); decoder != nil {
			analyzer = motion.NewState(k.opts.MotionOptions)
		}
	}

	rctx := NewRecordingContext(ContextOptions{
		CameraID:   cs.Config.ID,
		Source:     source,
		Writer:     writer,
		Decoder:    decoder,
		Motion:     analyzer,
		MotionSink: k.opts.MotionSink,
	})

	return &streamEntry{ctx: rctx, file: file, hash: cs.Hash}, nil
}

// RunStorageRetention drives one immediate prune pass over every
// camera currently being recorded, returning the number of blocks
// freed per camera. Matches the manual "run retention now" shape the
// read HTTP surface exposes alongside the automatic per-camera
// pruning a full dumbdex already triggers via each writer's PruneHook.
func (k *StreamKeeper) RunStorageRetention(ctx context.Context) (map[string]int, error) {
	k.mu.RLock()
	entries := make(map[string]*streamEntry, len(k.contexts))
	for id, e := range k.contexts {
		entries[id] = e
	}
	k.mu.RUnlock()

	retention := time.Duration(k.opts.RetentionDays) * 24 * time.Hour
	freed := make(map[string]int, len(entries))
	for id, e := range entries {
		pruner := storage.NewPruner(e.file, retention)
		n, err := pruner.PruneOnce(uint64(time.Now().UnixNano()))
		if err != nil {
			k.log.Error("retention pass failed", "camera", id, "error", err)
			continue
		}
		freed[id] = n
	}
	return freed, nil
}

// Reader returns a StorageReader over the currently-open storage file
// for cameraID, satisfying api.StorageReaderFactory. Returns
// storage.ErrNotFound if the camera has no active recording context —
// the read HTTP surface only serves cameras the keeper is presently
// recording.
func (k *StreamKeeper) Reader(cameraID string) (*storage.StorageReader, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry, ok := k.contexts[cameraID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.NewStorageReader(entry.file), nil
}

func (k *StreamKeeper) videoPath(cameraID string) string {
	return filepath.Join(k.opts.TopDir, "video", cameraID+".rvd")
}

// sizeInBlocks derives a preallocation size from retention_days times
// a default measured byte rate, since no prior recording history
// exists the first time a camera's file is created.
func (k *StreamKeeper) sizeInBlocks() uint32 {
	totalBytes := uint64(k.opts.RetentionDays) * 86400 * uint64(defaultByteRate)
	numBlocks := totalBytes / uint64(k.opts.BlockSize)
	if numBlocks < minPreallocBlocks {
		numBlocks = minPreallocBlocks
	}
	if numBlocks > maxPreallocBlocks {
		numBlocks = maxPreallocBlocks
	}
	return uint32(numBlocks)
}

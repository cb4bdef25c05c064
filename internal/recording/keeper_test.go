package recording

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/revere-project/revere/internal/discovery"
)

type noopSource struct {
	samples chan Sample
}

func newNoopSource() *noopSource {
	return &noopSource{samples: make(chan Sample)}
}

func (s *noopSource) Open(ctx context.Context) (<-chan Sample, error) { return s.samples, nil }
func (s *noopSource) VideoParams() CodecParams                       { return CodecParams{Name: "h264"} }
func (s *noopSource) AudioParams() CodecParams                       { return CodecParams{} }
func (s *noopSource) Close() error                                   { return nil }

type noSubscriber struct{}

func (noSubscriber) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	return nil, nil
}

func changedStreamsMsg(t *testing.T, batch []discovery.ChangedStream) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &nats.Msg{Subject: discovery.ChangedStreamsSubject, Data: data}
}

func newTestKeeper(t *testing.T, enabled EnabledPredicate) *StreamKeeper {
	t.Helper()
	dir := t.TempDir()
	return NewStreamKeeper(KeeperOptions{
		TopDir:        dir,
		BlockSize:     4096,
		RetentionDays: 1,
		Bus:           noSubscriber{},
		Enabled:       enabled,
		NewSource:     func(sc discovery.StreamConfig) (RTSPSource, error) { return newNoopSource(), nil },
	})
}

func TestKeeper_StartsContextForEnabledCamera(t *testing.T) {
	k := newTestKeeper(t, func(id string) bool { return true })

	k.onChangedStreams(changedStreamsMsg(t, []discovery.ChangedStream{
		{Config: discovery.StreamConfig{ID: "cam1", RTSPURL: "rtsp://cam1"}, Hash: "h1"},
	}))

	k.reconcile(context.Background())

	k.mu.RLock()
	defer k.mu.RUnlock()
	if _, ok := k.contexts["cam1"]; !ok {
		t.Fatal("expected cam1 to have a running recording context")
	}
}

func TestKeeper_SkipsDisabledCamera(t *testing.T) {
	k := newTestKeeper(t, func(id string) bool { return false })

	k.onChangedStreams(changedStreamsMsg(t, []discovery.ChangedStream{
		{Config: discovery.StreamConfig{ID: "cam1"}, Hash: "h1"},
	}))
	k.reconcile(context.Background())

	k.mu.RLock()
	defer k.mu.RUnlock()
	if _, ok := k.contexts["cam1"]; ok {
		t.Fatal("expected disabled camera to not get a recording context")
	}
}

func TestKeeper_StopsRemovedCamera(t *testing.T) {
	k := newTestKeeper(t, func(id string) bool { return true })

	k.onChangedStreams(changedStreamsMsg(t, []discovery.ChangedStream{
		{Config: discovery.StreamConfig{ID: "cam1"}, Hash: "h1"},
	}))
	k.reconcile(context.Background())

	k.mu.Lock()
	delete(k.streams, "cam1")
	k.mu.Unlock()

	k.reconcile(context.Background())

	// stopAndRemoveLocked removes from the map synchronously and stops
	// the context asynchronously; the map entry is gone immediately.
	k.mu.RLock()
	_, ok := k.contexts["cam1"]
	k.mu.RUnlock()
	if ok {
		t.Fatal("expected removed camera to be dropped from the context map")
	}
}

func TestKeeper_VideoPath(t *testing.T) {
	k := newTestKeeper(t, nil)
	got := k.videoPath("abc123")
	want := filepath.Join(k.opts.TopDir, "video", "abc123.rvd")
	if got != want {
		t.Fatalf("videoPath = %q, want %q", got, want)
	}
}

func TestKeeper_SizeInBlocksRespectsBounds(t *testing.T) {
	k := newTestKeeper(t, nil)
	k.opts.RetentionDays = 0
	if got := k.sizeInBlocks(); got < minPreallocBlocks {
		t.Fatalf("expected at least the floor of %d blocks, got %d", minPreallocBlocks, got)
	}
}

func TestKeeper_StopJoinsRunningContexts(t *testing.T) {
	k := newTestKeeper(t, func(id string) bool { return true })
	k.onChangedStreams(changedStreamsMsg(t, []discovery.ChangedStream{
		{Config: discovery.StreamConfig{ID: "cam1"}, Hash: "h1"},
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k.reconcile(ctx)

	// Drive the reconciliation loop's lifecycle directly rather than
	// through Start, since Start would also wait 30s for the first
	// real reconcile tick.
	go k.run(ctx)

	done := make(chan struct{})
	go func() {
		k.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("Stop did not return within the bounded wait")
	}
}

package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func seedReaderFile(t *testing.T, blockSize, numBlocks uint32) (*File, *StorageWriter, *StorageReader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "r.rvd")
	if err := Allocate(path, blockSize, numBlocks); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	w, err := NewStorageWriter(f, nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return f, w, NewStorageReader(f)
}

func TestReader_QueryRoundTripsPayloads(t *testing.T) {
	_, w, r := seedReaderFile(t, 4096, 8)

	if err := w.WriteFrame(MediaVideo, []byte("v1"), true, 1000, 1000); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if err := w.WriteFrame(MediaAudio, []byte("a1"), false, 1100, 1100); err != nil {
		t.Fatalf("write a1: %v", err)
	}
	if err := w.WriteFrame(MediaVideo, []byte("v2"), false, 1200, 1200); err != nil {
		t.Fatalf("write v2: %v", err)
	}

	result, err := r.Query(MediaVideo, 0, 10_000)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	frames := result.Frames
	if len(frames) != 2 {
		t.Fatalf("expected 2 video frames, got %d", len(frames))
	}
	if string(frames[0].Payload) != "v1" || string(frames[1].Payload) != "v2" {
		t.Fatalf("unexpected payload order/content: %q, %q", frames[0].Payload, frames[1].Payload)
	}
}

func TestReader_QueryCarriesCodecMetadataFromFirstMatchingBlock(t *testing.T) {
	_, w, r := seedReaderFile(t, 4096, 8)
	w.SetVideoCodec("h264", "sps-pps")
	w.SetAudioCodec("aac", "adts")

	if err := w.WriteFrame(MediaVideo, []byte("v1"), true, 1000, 1000); err != nil {
		t.Fatalf("write v1: %v", err)
	}

	result, err := r.Query(MediaAll, 0, 10_000)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.VideoCodecName != "h264" || result.VideoCodecParameters != "sps-pps" {
		t.Fatalf("unexpected video codec metadata: %+v", result)
	}
	if result.AudioCodecName != "aac" || result.AudioCodecParameters != "adts" {
		t.Fatalf("unexpected audio codec metadata: %+v", result)
	}
	if len(result.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(result.Frames))
	}
}

func TestReader_QueryInvertedRangeIsInvalidArgument(t *testing.T) {
	_, _, r := seedReaderFile(t, 4096, 8)
	if _, err := r.Query(MediaVideo, 100, 50); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for an inverted range, got %v", err)
	}
	if _, err := r.KeyFrameStartTimes(100, 50); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for an inverted range, got %v", err)
	}
	if _, err := r.QuerySegments(100, 50); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for an inverted range, got %v", err)
	}
	if blocks := r.QueryBlocks(100, 50); blocks != nil {
		t.Fatalf("expected nil blocks for an inverted range, got %v", blocks)
	}
}

func TestReader_QueryKeyWalksBackwardToMostRecentKeyFrame(t *testing.T) {
	_, w, r := seedReaderFile(t, 4096, 8)

	if err := w.WriteFrame(MediaVideo, []byte("key1"), true, 1000, 1000); err != nil {
		t.Fatalf("write key1: %v", err)
	}
	if err := w.WriteFrame(MediaVideo, []byte("delta1"), false, 1100, 1100); err != nil {
		t.Fatalf("write delta1: %v", err)
	}
	if err := w.WriteFrame(MediaVideo, []byte("delta2"), false, 1200, 1200); err != nil {
		t.Fatalf("write delta2: %v", err)
	}

	fr, err := r.QueryKey(1200)
	if err != nil {
		t.Fatalf("query key: %v", err)
	}
	if string(fr.Payload) != "key1" {
		t.Fatalf("expected the preceding key frame key1, got %q", fr.Payload)
	}
}

func TestReader_QueryKeyNotFoundBeforeAnyKeyFrame(t *testing.T) {
	_, w, r := seedReaderFile(t, 4096, 8)
	if err := w.WriteFrame(MediaVideo, []byte("key1"), true, 1000, 1000); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := r.QueryKey(500); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound querying before the first key frame, got %v", err)
	}
}

func TestReader_FirstAndLastTS(t *testing.T) {
	f, _, r := seedReaderFile(t, 4096, 8)
	if _, ok := r.FirstTS(); ok {
		t.Fatal("expected no first timestamp on an empty store")
	}
	if err := f.Dumbdex().Insert(10, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := f.Dumbdex().Insert(20, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	first, ok := r.FirstTS()
	if !ok || first != 10 {
		t.Fatalf("FirstTS = %d, %v, want 10, true", first, ok)
	}
	last, ok := r.LastTS()
	if !ok || last != 20 {
		t.Fatalf("LastTS = %d, %v, want 20, true", last, ok)
	}
}

func TestReader_QuerySegmentsSplitsOnGap(t *testing.T) {
	_, w, r := seedReaderFile(t, 4096, 8)
	r.SegmentGapThreshold = 5 * time.Second

	if err := w.WriteFrame(MediaVideo, []byte("v1"), true, 1_000_000_000, 1_000_000_000); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	// Force a rotation so the next frame lands in a distinct block,
	// then push its timestamp far enough ahead to exceed the gap
	// threshold between segments.
	w.curRegistered = false
	if err := w.rotate(100_000_000_000); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := w.registerCurrentBlock(100_000_000_000); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.appendWithRotation(Frame{Timestamp: 100_000_000_000, PTS: 100_000_000_000, Key: true, Media: MediaVideo, Payload: []byte("v2")}); err != nil {
		t.Fatalf("append v2: %v", err)
	}

	segs, err := r.QuerySegments(0, 200_000_000_000)
	if err != nil {
		t.Fatalf("query segments: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments split by the gap, got %d", len(segs))
	}
}

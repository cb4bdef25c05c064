package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/revere-project/revere/internal/motion"
	"github.com/revere-project/revere/internal/recording"
	"github.com/revere-project/revere/internal/storage"
)

func newTestStorageReader(t *testing.T) *storage.StorageReader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cam.rvd")
	if err := storage.Allocate(path, 4096, 8); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f, err := storage.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })

	w, err := storage.NewStorageWriter(f, nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	now := uint64(time.Now().UnixNano())
	if err := w.WriteFrame(storage.MediaVideo, []byte("key-frame"), true, now, now); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	return storage.NewStorageReader(f)
}

type stubDecoder struct{}

func (stubDecoder) Decode(payload []byte, key bool) (motion.Frame, bool, error) {
	return motion.Frame{Width: 2, Height: 2, Format: motion.FormatGray8, Data: []byte{0, 0, 0, 0}}, true, nil
}

type stubMotionReader struct{}

func (stubMotionReader) QueryMotion(ctx context.Context, cameraID string, start, end time.Time) ([]recording.MotionEvent, error) {
	return []recording.MotionEvent{{ID: "evt1", CameraID: cameraID}}, nil
}

func newTestStorageHandler(t *testing.T, decoder FrameDecoder, motionReader MotionReader) *StorageHandler {
	reader := newTestStorageReader(t)
	return NewStorageHandler(func(cameraID string) (*storage.StorageReader, error) {
		if cameraID == "missing" {
			return nil, storage.ErrNotFound
		}
		return reader, nil
	}, decoder, motionReader, nil)
}

func TestStorageHandler_ExportReturnsFrames(t *testing.T) {
	h := newTestStorageHandler(t, nil, nil)
	router := chi.NewRouter()
	router.Mount("/cameras", h.Routes())

	url := "/cameras/cam1/export?start=2000-01-01T00:00:00Z&end=2100-01-01T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStorageHandler_ExportUnknownCameraIs404(t *testing.T) {
	h := newTestStorageHandler(t, nil, nil)
	router := chi.NewRouter()
	router.Mount("/cameras", h.Routes())

	url := "/cameras/missing/export?start=2000-01-01T00:00:00Z&end=2100-01-01T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestStorageHandler_FrameReturnsJPEG(t *testing.T) {
	h := newTestStorageHandler(t, stubDecoder{}, nil)
	router := chi.NewRouter()
	router.Mount("/cameras", h.Routes())

	url := "/cameras/cam1/frame?ts=" + time.Now().Add(time.Hour).Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg content type, got %q", ct)
	}
}

func TestStorageHandler_FrameWithoutDecoderIsNotImplemented(t *testing.T) {
	h := newTestStorageHandler(t, nil, nil)
	router := chi.NewRouter()
	router.Mount("/cameras", h.Routes())

	url := "/cameras/cam1/frame?ts=" + time.Now().Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}

func TestStorageHandler_SegmentsAndBlocksRejectInvertedRange(t *testing.T) {
	h := newTestStorageHandler(t, nil, nil)
	router := chi.NewRouter()
	router.Mount("/cameras", h.Routes())

	for _, path := range []string{"segments", "blocks"} {
		url := "/cameras/cam1/" + path + "?start=2100-01-01T00:00:00Z&end=2000-01-01T00:00:00Z"
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 for inverted range, got %d", path, rr.Code)
		}
	}
}

func TestStorageHandler_MotionReturnsEvents(t *testing.T) {
	h := newTestStorageHandler(t, nil, stubMotionReader{})
	router := chi.NewRouter()
	router.Mount("/cameras", h.Routes())

	url := "/cameras/cam1/motion?start=2000-01-01T00:00:00Z&end=2100-01-01T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStorageHandler_RunRetentionWithoutRunnerIsNotImplemented(t *testing.T) {
	h := newTestStorageHandler(t, nil, nil)
	router := chi.NewRouter()
	router.Mount("/cameras", h.Routes())

	req := httptest.NewRequest(http.MethodPost, "/cameras/retention/run", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}

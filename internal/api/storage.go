package api

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/revere-project/revere/internal/motion"
	"github.com/revere-project/revere/internal/recording"
	"github.com/revere-project/revere/internal/storage"
)

// StorageReaderFactory resolves the per-camera StorageReader backing
// the block-store queries below. Returns storage.ErrNotFound if no
// storage file exists yet for the camera.
type StorageReaderFactory func(cameraID string) (*storage.StorageReader, error)

// FrameDecoder decodes one stored video payload into a displayable
// image — the same collaborator contract recording.FrameDecoder uses,
// kept as a local interface so this package does not need to import
// internal/recording just for a decode signature.
type FrameDecoder interface {
	Decode(payload []byte, key bool) (motion.Frame, bool, error)
}

// MotionReader answers motion-event range queries over the
// motion_events side store.
type MotionReader interface {
	QueryMotion(ctx context.Context, cameraID string, start, end time.Time) ([]recording.MotionEvent, error)
}

// RetentionRunner drives an immediate prune pass across every
// camera's storage file, returning the blocks freed per camera.
type RetentionRunner interface {
	RunStorageRetention(ctx context.Context) (map[string]int, error)
}

// StorageHandler exposes the block-store engine's read paths: ranged
// frame export, single key-frame JPEG grabs, segment/block
// enumeration, and the parallel motion-event store, plus a manual
// retention trigger. Thin chi adapters over internal/storage and
// internal/recording.
type StorageHandler struct {
	readers   StorageReaderFactory
	decoder   FrameDecoder
	motion    MotionReader
	retention RetentionRunner
}

// NewStorageHandler builds a StorageHandler. decoder, motionReader, and
// retention may be nil to disable the corresponding endpoints (they
// respond 501 Not Implemented).
func NewStorageHandler(readers StorageReaderFactory, decoder FrameDecoder, motionReader MotionReader, retention RetentionRunner) *StorageHandler {
	return &StorageHandler{readers: readers, decoder: decoder, motion: motionReader, retention: retention}
}

// Routes returns the block-store engine's read/retention routes.
func (h *StorageHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{id}/export", h.Export)
	r.Get("/{id}/frame", h.Frame)
	r.Get("/{id}/segments", h.Segments)
	r.Get("/{id}/blocks", h.Blocks)
	r.Get("/{id}/motion", h.Motion)
	r.Post("/retention/run", h.RunRetention)

	return r
}

func (h *StorageHandler) reader(w http.ResponseWriter, r *http.Request) (*storage.StorageReader, string, bool) {
	id := chi.URLParam(r, "id")
	reader, err := h.readers(id)
	if err != nil {
		if err == storage.ErrNotFound {
			NotFound(w, "no storage file for camera "+id)
		} else {
			InternalError(w, err.Error())
		}
		return nil, "", false
	}
	return reader, id, true
}

// parseNanoRange parses the "start"/"end" RFC3339 query parameters and
// converts them to the nanosecond clock base the block store indexes
// timestamps in.
func parseNanoRange(r *http.Request) (uint64, uint64, error) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		return 0, 0, err
	}
	return uint64(start.UnixNano()), uint64(end.UnixNano()), nil
}

// Export answers GET /cameras/{id}/export?start=&end=&media=.
func (h *StorageHandler) Export(w http.ResponseWriter, r *http.Request) {
	reader, _, ok := h.reader(w, r)
	if !ok {
		return
	}
	startNS, endNS, err := parseNanoRange(r)
	if err != nil {
		BadRequest(w, "invalid start/end: "+err.Error())
		return
	}

	media := storage.MediaVideo
	switch r.URL.Query().Get("media") {
	case "audio":
		media = storage.MediaAudio
	case "all":
		media = storage.MediaAll
	}

	result, err := reader.Query(media, startNS, endNS)
	if err != nil {
		if err == storage.ErrInvalidArgument {
			BadRequest(w, "end must not be before start")
		} else {
			InternalError(w, err.Error())
		}
		return
	}
	OK(w, result)
}

// Frame answers GET /cameras/{id}/frame?ts=, returning the nearest
// preceding video key frame decoded and re-encoded as a JPEG.
func (h *StorageHandler) Frame(w http.ResponseWriter, r *http.Request) {
	if h.decoder == nil {
		Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "no frame decoder configured")
		return
	}
	reader, _, ok := h.reader(w, r)
	if !ok {
		return
	}

	tsStr := r.URL.Query().Get("ts")
	if tsStr == "" {
		BadRequest(w, "ts parameter is required")
		return
	}
	ts, err := parseTimestampParam(tsStr)
	if err != nil {
		BadRequest(w, "invalid ts format")
		return
	}

	fr, err := reader.QueryKey(uint64(ts.UnixNano()))
	if err != nil {
		if err == storage.ErrNotFound {
			NotFound(w, "no key frame at or before the requested timestamp")
		} else {
			InternalError(w, err.Error())
		}
		return
	}

	decoded, ok, err := h.decoder.Decode(fr.Payload, fr.Key)
	if err != nil || !ok {
		InternalError(w, "failed to decode key frame")
		return
	}

	img, err := frameToImage(decoded)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_ = jpeg.Encode(w, img, &jpeg.Options{Quality: 85})
}

// Segments answers GET /cameras/{id}/segments?start=&end=.
func (h *StorageHandler) Segments(w http.ResponseWriter, r *http.Request) {
	reader, _, ok := h.reader(w, r)
	if !ok {
		return
	}
	startNS, endNS, err := parseNanoRange(r)
	if err != nil {
		BadRequest(w, "invalid start/end: "+err.Error())
		return
	}
	segments, err := reader.QuerySegments(startNS, endNS)
	if err != nil {
		if err == storage.ErrInvalidArgument {
			BadRequest(w, "end must not be before start")
		} else {
			InternalError(w, err.Error())
		}
		return
	}
	OK(w, segments)
}

// Blocks answers GET /cameras/{id}/blocks?start=&end=.
func (h *StorageHandler) Blocks(w http.ResponseWriter, r *http.Request) {
	reader, _, ok := h.reader(w, r)
	if !ok {
		return
	}
	startNS, endNS, err := parseNanoRange(r)
	if err != nil {
		BadRequest(w, "invalid start/end: "+err.Error())
		return
	}
	if endNS < startNS {
		BadRequest(w, "end must not be before start")
		return
	}
	OK(w, reader.QueryBlocks(startNS, endNS))
}

// Motion answers GET /cameras/{id}/motion?start=&end=.
func (h *StorageHandler) Motion(w http.ResponseWriter, r *http.Request) {
	if h.motion == nil {
		Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "no motion store configured")
		return
	}
	id := chi.URLParam(r, "id")
	start, end, err := parseTimeRange(r)
	if err != nil {
		BadRequest(w, "invalid start/end: "+err.Error())
		return
	}
	events, err := h.motion.QueryMotion(r.Context(), id, start, end)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, events)
}

// RunRetention answers POST /retention/run with the per-camera count
// of freed blocks, or 501 when no RetentionRunner is configured.
func (h *StorageHandler) RunRetention(w http.ResponseWriter, r *http.Request) {
	if h.retention == nil {
		Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "no retention runner configured")
		return
	}
	freed, err := h.retention.RunStorageRetention(r.Context())
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, freed)
}

// parseTimestampParam accepts either an RFC3339 timestamp or a Unix
// second count.
func parseTimestampParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a valid timestamp: %s", v)
	}
	return time.Unix(sec, 0), nil
}

// frameToImage converts a decoded motion.Frame into an image.Image
// suitable for JPEG encoding, covering every pixel layout the motion
// analyzer accepts.
func frameToImage(f motion.Frame) (image.Image, error) {
	switch f.Format {
	case motion.FormatGray8:
		img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
		n := f.Width * f.Height
		if len(f.Data) < n {
			return nil, fmt.Errorf("storage: short gray frame buffer")
		}
		copy(img.Pix, f.Data[:n])
		return img, nil
	case motion.FormatRGB:
		return packedToRGBA(f, 3, 0, 1, 2)
	case motion.FormatBGR:
		return packedToRGBA(f, 3, 2, 1, 0)
	case motion.FormatBGRA:
		return packedToRGBA(f, 4, 2, 1, 0)
	default:
		return nil, fmt.Errorf("storage: unsupported frame format %d", f.Format)
	}
}

func packedToRGBA(f motion.Frame, stride, rOff, gOff, bOff int) (image.Image, error) {
	n := f.Width * f.Height
	if len(f.Data) < n*stride {
		return nil, fmt.Errorf("storage: short frame buffer for format %d", f.Format)
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < n; i++ {
		img.Pix[i*4] = f.Data[i*stride+rOff]
		img.Pix[i*4+1] = f.Data[i*stride+gOff]
		img.Pix[i*4+2] = f.Data[i*stride+bOff]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

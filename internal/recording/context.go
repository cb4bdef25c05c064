package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/revere-project/revere/internal/motion"
	"github.com/revere-project/revere/internal/storage"
)

// ContextState is one of the recording context's lifecycle states.
type ContextState int

const (
	ContextStarting ContextState = iota
	ContextRunning
	ContextDead
)

func (s ContextState) String() string {
	switch s {
	case ContextStarting:
		return "starting"
	case ContextRunning:
		return "running"
	case ContextDead:
		return "dead"
	default:
		return "unknown"
	}
}

// stallTimeout is how long a recording context waits for a video
// sample before declaring the source stalled and transitioning Dead.
const stallTimeout = 30 * time.Second

// stopWait bounds how long Stop() waits for the sample loop to drain
// before abandoning the context; the underlying file is left
// consistent by the dumbdex journal protocol either way.
const stopWait = 10 * time.Second

// CodecParams are a stream's negotiated codec name, out-of-band
// parameters (e.g. SPS/PPS), and clock timebase.
type CodecParams struct {
	Name       string
	Parameters string
	Timebase   uint32
}

// Sample is one encoded frame delivered by an RTSP source, in the
// source's native clock base.
type Sample struct {
	PTS     uint64
	DTS     uint64
	Key     bool
	Media   storage.MediaType
	Payload []byte
}

// RTSPSource is the out-of-scope collaborator that delivers encoded
// audio/video samples for one camera. Open begins delivery on the
// returned channel; the channel is closed when the source can no
// longer produce samples (network loss, EOF, protocol error).
type RTSPSource interface {
	Open(ctx context.Context) (<-chan Sample, error)
	VideoParams() CodecParams
	AudioParams() CodecParams
	Close() error
}

// FrameDecoder decodes an encoded video sample into a raw frame for
// the motion analyzer. Recording proceeds without motion analysis
// when a context is built with no decoder.
type FrameDecoder interface {
	Decode(payload []byte, key bool) (motion.Frame, bool, error)
}

// MotionSink persists one frame's motion metrics as a parallel record,
// reachable later from the read HTTP surface. A context built with no
// sink still runs the analyzer but drops its output.
type MotionSink interface {
	RecordMotion(ctx context.Context, cameraID string, ts time.Time, m *motion.Metrics) error
}

// ContextOptions configures a new RecordingContext.
type ContextOptions struct {
	CameraID   string
	Source     RTSPSource
	Writer     *storage.StorageWriter
	Decoder    FrameDecoder
	Motion     *motion.State
	MotionSink MotionSink
}

// RecordingContext is the per-camera state machine that consumes
// encoded samples from an RTSP source and drives a storage writer.
// One context owns exactly one camera's ingest goroutine and shares
// no mutable state with any other context.
type RecordingContext struct {
	mu sync.RWMutex

	cameraID   string
	source     RTSPSource
	writer     *storage.StorageWriter
	decoder    FrameDecoder
	motion     *motion.State
	motionSink MotionSink

	state   ContextState
	cancel  context.CancelFunc
	stopped chan struct{}

	startTime     time.Time
	lastVideoTime time.Time
	lastAudioTime time.Time

	videoParamsSet bool
	audioParamsSet bool
	bytesTotal     int64

	lastError     error
	lastErrorTime time.Time

	log *slog.Logger
}

// NewRecordingContext constructs a context in the Starting state; call
// Start to begin consuming samples.
func NewRecordingContext(opts ContextOptions) *RecordingContext {
	return &RecordingContext{
		cameraID:   opts.CameraID,
		source:     opts.Source,
		writer:     opts.Writer,
		decoder:    opts.Decoder,
		motion:     opts.Motion,
		motionSink: opts.MotionSink,
		state:      ContextStarting,
		stopped:    make(chan struct{}),
		log:        slog.Default().With("component", "recording.context", "camera", opts.CameraID),
	}
}

// State returns the context's current lifecycle state.
func (c *RecordingContext) State() ContextState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Dead reports whether the context's dead() predicate has become
// true: unrecoverable source error or a 30s video-sample stall.
func (c *RecordingContext) Dead() bool {
	return c.State() == ContextDead
}

// BytesPerSecond returns a moving window of accumulated bytes (video
// and audio) divided by elapsed wall-clock time, used for retention
// budgeting by the stream keeper.
func (c *RecordingContext) BytesPerSecond() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	elapsed := time.Since(c.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(c.bytesTotal) / elapsed
}

// LastError returns the most recent error recorded against this
// context and when it occurred.
func (c *RecordingContext) LastError() (error, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError, c.lastErrorTime
}

// Start constructs the underlying RTSP source pipeline and begins the
// sample-consumption loop in its own goroutine. Calling Start on an
// already-started context is a no-op.
func (c *RecordingContext) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != ContextStarting {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	now := time.Now()
	c.startTime = now
	c.lastVideoTime = now
	c.lastAudioTime = now
	c.mu.Unlock()

	samples, err := c.source.Open(runCtx)
	if err != nil {
		cancel()
		c.setError(fmt.Errorf("%w: %v", ErrProtocol, err))
		c.transitionDead()
		close(c.stopped)
		return err
	}

	c.mu.Lock()
	c.state = ContextRunning
	c.mu.Unlock()

	go c.run(runCtx, samples)
	return nil
}

// Stop signals the sample loop to drain and waits up to stopWait for
// it to join. Idempotent: calling Stop on a Dead or never-started
// context is a no-op.
func (c *RecordingContext) Stop() error {
	c.mu.Lock()
	if c.state == ContextDead {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	started := c.state == ContextRunning
	c.mu.Unlock()

	if cancel == nil {
		// Never started: there is no sample loop to join.
		c.transitionDead()
		return nil
	}
	cancel()

	if started {
		select {
		case <-c.stopped:
		case <-time.After(stopWait):
			c.log.Warn("recording context stop timed out, abandoning")
		}
	}

	c.transitionDead()
	if c.source != nil {
		_ = c.source.Close()
	}
	return nil
}

func (c *RecordingContext) run(ctx context.Context, samples <-chan Sample) {
	defer close(c.stopped)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.stalled() {
				c.setError(ErrTimeout)
				c.transitionDead()
				return
			}
		case s, ok := <-samples:
			if !ok {
				c.setError(ErrProtocol)
				c.transitionDead()
				return
			}
			if err := c.handleSample(s); err != nil {
				c.setError(err)
				c.transitionDead()
				return
			}
		}
	}
}

func (c *RecordingContext) stalled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastVideoTime) > stallTimeout
}

func (c *RecordingContext) handleSample(s Sample) error {
	now := time.Now()

	c.mu.Lock()
	firstVideo := false
	firstAudio := false
	if s.Media == storage.MediaVideo {
		firstVideo = !c.videoParamsSet
		c.videoParamsSet = true
		c.lastVideoTime = now
	} else {
		firstAudio = !c.audioParamsSet
		c.audioParamsSet = true
		c.lastAudioTime = now
	}
	c.bytesTotal += int64(len(s.Payload))
	c.mu.Unlock()

	// Finalize the writer's codec metadata from the source's
	// negotiated parameters on each stream's first sample (§4.6 step
	// 1), so every block stays self-describing without the writer
	// needing to know anything about the source.
	if firstVideo {
		p := c.source.VideoParams()
		c.writer.SetVideoCodec(p.Name, p.Parameters)
	}
	if firstAudio {
		p := c.source.AudioParams()
		c.writer.SetAudioCodec(p.Name, p.Parameters)
	}

	if err := c.writer.WriteFrame(s.Media, s.Payload, s.Key, s.DTS, s.PTS); err != nil {
		switch {
		case errors.Is(err, storage.ErrStorageExhausted):
			return err
		case errors.Is(err, storage.ErrFull):
			c.log.Warn("storage full, dropping frame until prune succeeds", "media", s.Media)
			return nil
		default:
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}

	if s.Media == storage.MediaVideo && c.decoder != nil && c.motion != nil {
		go c.analyzeMotion(s.Payload, s.Key)
	}
	return nil
}

// analyzeMotion runs on a decoded copy in its own goroutine so it
// never blocks ingest; motion.State serializes concurrent Process
// calls internally.
func (c *RecordingContext) analyzeMotion(payload []byte, key bool) {
	frame, ok, err := c.decoder.Decode(payload, key)
	if err != nil || !ok {
		return
	}
	metrics, err := c.motion.Process(frame)
	if err != nil {
		c.log.Debug("motion analysis failed", "error", err)
		return
	}
	if metrics == nil || c.motionSink == nil {
		return
	}
	if err := c.motionSink.RecordMotion(context.Background(), c.cameraID, time.Now(), metrics); err != nil {
		c.log.Warn("failed to persist motion metrics", "error", err)
	}
}

func (c *RecordingContext) transitionDead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ContextDead
}

func (c *RecordingContext) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err
	c.lastErrorTime = time.Now()
}

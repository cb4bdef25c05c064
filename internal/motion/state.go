// Package motion implements the per-camera motion analyzer: a running
// grayscale background model, adaptive thresholding, and a static mask
// that learns and suppresses chronically-moving regions (trees, ceiling
// fans) so they stop triggering motion events.
//
// Grounded on the original implementation's r_motion_state (OpenCV);
// this port uses plain float32/bool buffers plus golang.org/x/image for
// the one resize path, since nothing in the retrieval pack imports a
// gocv-style binding.
package motion

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

const (
	learningRate         = 0.002 // slow background adaptation
	fastLearnRate        = 0.10  // one-shot absorb on illumination jump
	adaptiveK            = 2.0   // mean + k*stddev binarization threshold
	illumChangeThresh    = 0.25  // fraction of pixels changed => illumination event
	illumDiffThresh      = 35.0  // per-pixel diff considered "changed" for the illum check
	minAreaFraction      = 0.003 // contour area floor, fraction of frame pixels
	defaultAvgMemory     = 500.0
	defaultFreqThresh    = 0.95
	defaultFreqDecay     = 0.70
	defaultMinObsFrames  = 100
	defaultEnableMasking = true
)

// BoundingBox is the union of all surviving motion contours for one
// frame, or the zero value with HasMotion=false if none survived.
type BoundingBox struct {
	X, Y, Width, Height int
	HasMotion           bool
}

// Metrics is the per-frame output of State.Process.
type Metrics struct {
	MotionPixels     uint64
	AvgMotion        float64
	StdDev           float64
	MotionBeforeMask uint64
	MaskedPixels     uint64
	MaskingActive    bool
	BBox             BoundingBox
}

// IsMotionSignificant is the canonical trigger downstream readers use
// to decide whether a frame's motion count is noteworthy relative to
// its own recent history.
func IsMotionSignificant(motion uint64, avg, stddev, k float64) bool {
	return float64(motion) > avg+k*stddev
}

// Options configures a State's tunables. A zero numeric field falls
// back to the analyzer's default for it. EnableMasking has no such
// fallback: its zero value (false) leaves the static mask off.
type Options struct {
	MotionFreqThresh     float64
	FreqDecayRate        float64
	MinObservationFrames uint64
	EnableMasking        bool
	AvgMemory            float64
}

// State holds one camera's motion-analyzer background model. Process
// holds an internal mutex, so concurrent calls from multiple goroutines
// are serialized.
type State struct {
	mu sync.Mutex

	width, height int
	bgInit        bool
	bg            []float64 // running background, CV_32F-equivalent
	freqMap       []float64 // per-pixel motion-frequency EMA
	staticMask    []bool    // true = allowed (not chronically moving)
	frameCount    uint64

	motionFreqThresh float64
	freqDecayRate    float64
	minObsFrames     uint64
	enableMasking    bool

	avg *expAvg
	log *slog.Logger
}

// NewState creates a motion analyzer with the given tunables; zero
// numeric fields take the default constants declared above (see
// Options for EnableMasking).
func NewState(opts Options) *State {
	if opts.MotionFreqThresh == 0 {
		opts.MotionFreqThresh = defaultFreqThresh
	}
	if opts.FreqDecayRate == 0 {
		opts.FreqDecayRate = defaultFreqDecay
	}
	if opts.MinObservationFrames == 0 {
		opts.MinObservationFrames = defaultMinObsFrames
	}
	avgMemory := opts.AvgMemory
	if avgMemory == 0 {
		avgMemory = defaultAvgMemory
	}
	return &State{
		motionFreqThresh: opts.MotionFreqThresh,
		freqDecayRate:    opts.FreqDecayRate,
		minObsFrames:     opts.MinObservationFrames,
		enableMasking:    opts.EnableMasking,
		avg:              newExpAvg(avgMemory),
		log:              slog.Default().With("component", "motion.state"),
	}
}

// Process feeds one decoded frame through the analyzer. It returns
// (nil, nil) on the seeding frame, on any frame absorbed by the
// illumination-change veto, and whenever the background model is being
// (re)learned — none of those produce a motion metric.
func (s *State) Process(f Frame) (*Metrics, error) {
	if f.Width == 0 || f.Height == 0 {
		return nil, fmt.Errorf("motion: empty frame")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gray, err := toGray(f)
	if err != nil {
		return nil, err
	}
	if s.width != 0 && (f.Width != s.width || f.Height != s.height) {
		gray = resizeGray8(gray, f.Width, f.Height, s.width, s.height)
	} else {
		s.width, s.height = f.Width, f.Height
	}
	blurred := gaussianBlur5x5(gray, s.width, s.height)
	n := s.width * s.height

	if !s.bgInit {
		s.bg = make([]float64, n)
		for i, v := range blurred {
			s.bg[i] = float64(v)
		}
		s.freqMap = make([]float64, n)
		s.staticMask = make([]bool, n)
		for i := range s.staticMask {
			s.staticMask[i] = true
		}
		s.bgInit = true
		return nil, nil
	}

	s.accumulate(blurred, learningRate)

	diff := make([]float64, n)
	changed := 0
	for i, v := range blurred {
		d := float64(v) - s.bg[i]
		if d < 0 {
			d = -d
		}
		diff[i] = d
		if d > illumDiffThresh {
			changed++
		}
	}

	if float64(changed)/float64(n) > illumChangeThresh {
		s.accumulate(blurred, fastLearnRate)
		return nil, nil
	}

	mean, stddev := meanStdDev(diff)
	thr := mean + adaptiveK*stddev
	thresh := make([]bool, n)
	for i, d := range diff {
		thresh[i] = d > thr
	}
	morphClose(thresh, s.width, s.height)

	s.frameCount++
	motionBeforeMask := countTrue(thresh)

	for i, t := range thresh {
		var v float64
		if t {
			v = 1
		}
		s.freqMap[i] = s.freqMap[i]*s.freqDecayRate + v*(1-s.freqDecayRate)
	}

	maskingActive := s.enableMasking && s.frameCount >= s.minObsFrames
	var maskedPixels uint64
	if maskingActive {
		for i, freq := range s.freqMap {
			s.staticMask[i] = freq < s.motionFreqThresh
		}
		after := 0
		for i := range thresh {
			if thresh[i] && s.staticMask[i] {
				after++
			} else {
				thresh[i] = false
			}
		}
		maskedPixels = uint64(motionBeforeMask - after)
	}

	minArea := int(minAreaFraction * float64(n))
	var motionPixels uint64
	var bbox BoundingBox
	for _, c := range connectedComponents(thresh, s.width, s.height) {
		if c.area < minArea {
			continue
		}
		motionPixels += uint64(c.area)
		r := rect{x: c.box.x, y: c.box.y, w: c.box.w, h: c.box.h}
		if !bbox.HasMotion {
			bbox = BoundingBox{X: r.x, Y: r.y, Width: r.w, Height: r.h, HasMotion: true}
		} else {
			u := rect{x: bbox.X, y: bbox.Y, w: bbox.Width, h: bbox.Height}.union(r)
			bbox = BoundingBox{X: u.x, Y: u.y, Width: u.w, Height: u.h, HasMotion: true}
		}
	}

	avgMotion := s.avg.update(float64(motionPixels))
	return &Metrics{
		MotionPixels:     motionPixels,
		AvgMotion:        avgMotion,
		StdDev:           s.avg.standardDeviation(),
		MotionBeforeMask: uint64(motionBeforeMask),
		MaskedPixels:     maskedPixels,
		MaskingActive:    maskingActive,
		BBox:             bbox,
	}, nil
}

func (s *State) accumulate(blurred []uint8, alpha float64) {
	for i, v := range blurred {
		s.bg[i] = s.bg[i]*(1-alpha) + float64(v)*alpha
	}
}

func meanStdDev(v []float64) (mean, stddev float64) {
	if len(v) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean = sum / float64(len(v))
	var sqSum float64
	for _, x := range v {
		d := x - mean
		sqSum += d * d
	}
	stddev = math.Sqrt(sqSum / float64(len(v)))
	return mean, stddev
}

func countTrue(v []bool) int {
	n := 0
	for _, b := range v {
		if b {
			n++
		}
	}
	return n
}

// morphClose performs a 3x3 dilate followed by a 3x3 erode in place,
// matching the single-iteration MORPH_RECT close the original analyzer
// runs to fill small holes in the raw threshold mask.
func morphClose(mask []bool, w, h int) {
	dilated := dilate3x3(mask, w, h)
	eroded := erode3x3(dilated, w, h)
	copy(mask, eroded)
}

func dilate3x3(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			set := false
			for dy := -1; dy <= 1 && !set; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					if mask[ny*w+nx] {
						set = true
						break
					}
				}
			}
			out[y*w+x] = set
		}
	}
	return out
}

func erode3x3(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			all := true
			for dy := -1; dy <= 1 && all; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						all = false
						break
					}
					if !mask[ny*w+nx] {
						all = false
						break
					}
				}
			}
			out[y*w+x] = all
		}
	}
	return out
}

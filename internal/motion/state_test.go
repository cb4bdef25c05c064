package motion

import "testing"

const (
	testW = 64
	testH = 48
)

func solidFrame(v uint8) Frame {
	data := make([]byte, testW*testH)
	for i := range data {
		data[i] = v
	}
	return Frame{Width: testW, Height: testH, Format: FormatGray8, Data: data}
}

// quadrantFrame returns a mostly-flat frame with one quadrant driven to
// a different intensity, used to simulate a moving region.
func quadrantFrame(base, quadrant uint8, qx, qy, qw, qh int) Frame {
	data := make([]byte, testW*testH)
	for i := range data {
		data[i] = base
	}
	for y := qy; y < qy+qh && y < testH; y++ {
		for x := qx; x < qx+qw && x < testW; x++ {
			data[y*testW+x] = quadrant
		}
	}
	return Frame{Width: testW, Height: testH, Format: FormatGray8, Data: data}
}

func TestState_FirstFrameProducesNoMetric(t *testing.T) {
	s := NewState(Options{})
	m, err := s.Process(solidFrame(100))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil metric on seeding frame, got %+v", m)
	}
}

func TestState_EmptyFrameErrors(t *testing.T) {
	s := NewState(Options{})
	if _, err := s.Process(Frame{}); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestState_IlluminationVetoSkipsMetric(t *testing.T) {
	s := NewState(Options{})
	if _, err := s.Process(solidFrame(50)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// A whole-frame brightness jump should look like an illumination
	// event (>25% of pixels crossing the 35-level diff threshold) and
	// produce no metric while the background fast-relearns.
	m, err := s.Process(solidFrame(220))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if m != nil {
		t.Fatalf("expected illumination veto to suppress metric, got %+v", m)
	}
}

func TestState_DetectsLocalizedMotion(t *testing.T) {
	s := NewState(Options{MinObservationFrames: 1000})
	if _, err := s.Process(quadrantFrame(60, 60, 0, 0, testW, testH)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Settle the background on a few identical frames first.
	for i := 0; i < 3; i++ {
		if _, err := s.Process(quadrantFrame(60, 60, 0, 0, testW, testH)); err != nil {
			t.Fatalf("settle frame %d: %v", i, err)
		}
	}
	// The bright patch covers a sixteenth of the frame, well under the
	// illumination veto's 25% changed-pixel fraction.
	m, err := s.Process(quadrantFrame(60, 200, testW/2, testH/2, testW/4, testH/4))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if m == nil {
		t.Fatal("expected a motion metric once background has settled")
	}
	if !m.BBox.HasMotion {
		t.Fatal("expected bounding box to report motion")
	}
	if m.BBox.X < testW/2-2 {
		t.Errorf("expected motion bbox in the lower-right quadrant, got x=%d", m.BBox.X)
	}
}

func TestState_StaticMaskSuppressesChronicMotion(t *testing.T) {
	s := NewState(Options{MinObservationFrames: 10, EnableMasking: true, FreqDecayRate: 0.0})
	if _, err := s.Process(quadrantFrame(60, 60, 0, 0, testW, testH)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Oscillate a top-left patch every frame so its frequency map
	// saturates past the static-mask threshold before frame 10. The
	// patch covers a sixteenth of the frame, so the illumination veto
	// never absorbs these frames.
	for i := 0; i < 15; i++ {
		v := uint8(60)
		if i%2 == 0 {
			v = 200
		}
		f := quadrantFrame(60, v, 0, 0, testW/4, testH/4)
		m, err := s.Process(f)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if i >= 10 && m != nil && !m.MaskingActive {
			t.Errorf("frame %d: expected masking_active once past warm-up", i)
		}
	}
}

func TestIsMotionSignificant(t *testing.T) {
	if !IsMotionSignificant(100, 10, 5, 2.0) {
		t.Error("100 should be significant vs avg=10 stddev=5 (threshold 20)")
	}
	if IsMotionSignificant(15, 10, 5, 2.0) {
		t.Error("15 should not be significant vs avg=10 stddev=5 (threshold 20)")
	}
}

func TestExpAvg(t *testing.T) {
	a := newExpAvg(10)
	first := a.update(100)
	if first != 100 {
		t.Errorf("first update should seed accumulator, got %v", first)
	}
	second := a.update(0)
	if second <= 0 || second >= 100 {
		t.Errorf("second update should move toward 0 but stay bounded, got %v", second)
	}
}

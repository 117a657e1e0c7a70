package capture

import "testing"

func wall(width, height int, rangeMM uint16) *FrameBuffer {
	samples := make([]uint16, width*height)
	for i := range samples {
		samples[i] = rangeMM
	}
	return &FrameBuffer{Width: width, Height: height, Samples: samples}
}

func TestNewMotionDetector(t *testing.T) {
	tests := []struct {
		name          string
		threshold     float64
		delta         float64
		wantThreshold float64
		wantDelta     float64
	}{
		{"explicit", 5, 100, 5, 100},
		{"defaults", 0, 0, DefaultMotionThreshold, DefaultMotionDelta},
		{"negative", -1, -10, DefaultMotionThreshold, DefaultMotionDelta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := NewMotionDetector(tt.threshold, tt.delta)
			defer md.Close()

			if md.threshold != tt.wantThreshold || md.delta != tt.wantDelta {
				t.Errorf("threshold, delta = %v, %v, want %v, %v", md.threshold, md.delta, tt.wantThreshold, tt.wantDelta)
			}
			if md.initialized {
				t.Error("motion detector should not be initialized initially")
			}
		})
	}
}

func TestMotionDetector_NoMotion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0, 50)
	defer md.Close()

	if moving, _ := md.Detect(wall(64, 48, 1000)); moving {
		t.Error("first frame should only set the baseline")
	}
	// Confidence bits and sub-threshold range changes are not motion.
	if moving, pct := md.Detect(wall(64, 48, 3<<13|1020)); moving {
		t.Errorf("Detect() reported motion (%.2f%%) for a 20mm change", pct)
	}
}

func TestMotionDetector_WithMotion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0, 50)
	defer md.Close()

	var calls []float64
	md.OnMotion = func(pct float64) { calls = append(calls, pct) }

	md.ConsumeFrame(wall(64, 48, 2000))

	near := wall(64, 48, 2000)
	for y := 10; y < 30; y++ {
		for x := 20; x < 40; x++ {
			near.Samples[y*64+x] = 600
		}
	}
	md.ConsumeFrame(near)

	if len(calls) != 1 {
		t.Fatalf("OnMotion called %d times, want 1", len(calls))
	}
	if calls[0] < 10 {
		t.Errorf("changed = %.2f%%, want at least 10%%", calls[0])
	}
	if !md.Moving() {
		t.Error("Moving() = false after motion")
	}
}

func TestMotionDetector_Reset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0, 50)
	defer md.Close()

	md.Detect(wall(32, 24, 1000))
	md.Reset()
	if moving, _ := md.Detect(wall(32, 24, 3000)); moving {
		t.Error("frame after Reset should only set the baseline")
	}
}

func TestMotionDetector_SizeChangeResetsBaseline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0, 50)
	defer md.Close()

	md.Detect(wall(32, 24, 1000))
	if moving, _ := md.Detect(wall(64, 48, 3000)); moving {
		t.Error("frame of a new size should only set the baseline")
	}
}

func TestMotionDetector_InvalidFrame(t *testing.T) {
	md := NewMotionDetector(1.0, 50)
	defer md.Close()

	bad := &FrameBuffer{Width: 4, Height: 4, Samples: make([]uint16, 3)}
	if moving, pct := md.Detect(bad); moving || pct != 0 {
		t.Errorf("Detect(invalid) = %v, %v", moving, pct)
	}
}

func TestMotionDetector_Close_Multiple(t *testing.T) {
	md := NewMotionDetector(1.0, 50)
	md.Close()
	md.Close()
}

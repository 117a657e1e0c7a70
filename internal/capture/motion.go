package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion detection defaults.
const (
	// MotionBlurSize is the Gaussian kernel used to suppress per-pixel range noise.
	MotionBlurSize = 5
	// DefaultMotionThreshold is the percentage of pixels that must change.
	DefaultMotionThreshold = 1.0
	// DefaultMotionDelta is the range change in millimetres that counts a pixel as changed.
	DefaultMotionDelta = 50
)

// MotionDetector detects scene changes between consecutive depth frames by
// differencing blurred range images. It implements FrameConsumer.
type MotionDetector struct {
	threshold   float64
	delta       float64
	prev        gocv.Mat
	initialized bool
	moving      bool
	mu          sync.Mutex

	// OnMotion, when set, is called for every frame in which motion is seen.
	OnMotion func(percent float64)
}

// NewMotionDetector creates a detector flagging frames where more than
// threshold percent of pixels moved by more than delta millimetres.
func NewMotionDetector(threshold, delta float64) *MotionDetector {
	if threshold <= 0 {
		threshold = DefaultMotionThreshold
	}
	if delta <= 0 {
		delta = DefaultMotionDelta
	}
	return &MotionDetector{
		threshold: threshold,
		delta:     delta,
		prev:      gocv.NewMat(),
	}
}

// Detect compares buf with the previous frame. It returns whether motion was
// seen and the percentage of pixels that changed. The first frame, and the
// first after a size change, only sets the baseline.
func (m *MotionDetector) Detect(buf *FrameBuffer) (bool, float64) {
	if !buf.Valid() {
		return false, 0
	}

	depth := gocv.NewMatWithSize(buf.Height, buf.Width, gocv.MatTypeCV16UC1)
	defer depth.Close()
	data, err := depth.DataPtrUint16()
	if err != nil {
		return false, 0
	}
	for i, s := range buf.Samples {
		data[i] = s & depthRangeMask
	}

	ranges := gocv.NewMat()
	defer ranges.Close()
	depth.ConvertTo(&ranges, gocv.MatTypeCV32F)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(ranges, &blurred, image.Pt(MotionBlurSize, MotionBlurSize), 0, 0, gocv.BorderDefault)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized || m.prev.Rows() != blurred.Rows() || m.prev.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prev)
		m.initialized = true
		m.moving = false
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prev, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, float32(m.delta), 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100
	blurred.CopyTo(&m.prev)

	m.moving = changed > m.threshold
	return m.moving, changed
}

// ConsumeFrame implements FrameConsumer.
func (m *MotionDetector) ConsumeFrame(buf *FrameBuffer) {
	moving, percent := m.Detect(buf)
	if moving && m.OnMotion != nil {
		m.OnMotion(percent)
	}
}

// Moving reports the result of the last comparison.
func (m *MotionDetector) Moving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moving
}

// Reset discards the baseline so the next frame starts a new comparison.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.moving = false
}

// Close releases the baseline image.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prev.Close()
	m.prev = gocv.NewMat()
	m.initialized = false
	m.moving = false
}

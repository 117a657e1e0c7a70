// Package telemetry measures the depth stream and exports it to InfluxDB.
package telemetry

import (
	"sync"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

// Sample is one measurement window of the depth stream.
type Sample struct {
	SessionID string        `json:"session_id"`
	SensorID  string        `json:"sensor_id"`
	State     string        `json:"state"`
	Window    time.Duration `json:"window"`
	Frames    uint64        `json:"frames"`
	// FPS is the delivered frame rate over the window.
	FPS float64 `json:"fps"`
	// MeanRange is the mean of non-zero range samples in millimetres.
	MeanRange float64 `json:"mean_range_mm"`
	// ValidRatio is the share of samples with a non-zero range.
	ValidRatio float64 `json:"valid_ratio"`
	// MeanConfidence averages confidence over valid samples.
	MeanConfidence float64 `json:"mean_confidence"`
	Dropped        uint64  `json:"dropped"`
	Skipped        uint64  `json:"skipped"`
	Panics         uint64  `json:"panics"`
}

// FrameStats accumulates per-window statistics from delivered frames.
type FrameStats struct {
	mu         sync.Mutex
	start      time.Time
	frames     uint64
	samples    uint64
	valid      uint64
	rangeSum   float64
	confidence float64
	now        func() time.Time
}

// NewFrameStats starts an empty window.
func NewFrameStats() *FrameStats {
	s := &FrameStats{now: time.Now}
	s.start = s.now()
	return s
}

// ConsumeFrame implements capture.FrameConsumer.
func (s *FrameStats) ConsumeFrame(buf *capture.FrameBuffer) {
	var valid uint64
	var rangeSum, confidence float64
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			r := buf.Range(x, y)
			if r == 0 {
				continue
			}
			valid++
			rangeSum += float64(r)
			confidence += buf.Confidence(x, y)
		}
	}

	s.mu.Lock()
	s.frames++
	s.samples += uint64(buf.Width * buf.Height)
	s.valid += valid
	s.rangeSum += rangeSum
	s.confidence += confidence
	s.mu.Unlock()
}

// Snapshot returns the current window and starts a new one.
func (s *FrameStats) Snapshot() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := Sample{Window: now.Sub(s.start), Frames: s.frames}
	if secs := out.Window.Seconds(); secs > 0 {
		out.FPS = float64(s.frames) / secs
	}
	if s.samples > 0 {
		out.ValidRatio = float64(s.valid) / float64(s.samples)
	}
	if s.valid > 0 {
		out.MeanRange = s.rangeSum / float64(s.valid)
		out.MeanConfidence = s.confidence / float64(s.valid)
	}

	s.start = now
	s.frames, s.samples, s.valid = 0, 0, 0
	s.rangeSum, s.confidence = 0, 0
	return out
}

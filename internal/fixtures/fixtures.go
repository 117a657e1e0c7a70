// Package fixtures provides sensor and depth frame fixtures for tests.
package fixtures

import "github.com/ayusman/depthcam/internal/capture"

// Sensor IDs returned by Sensors.
const (
	BackColorID   = "0"
	FrontDepthID  = "1"
	ExternalTOFID = "2"
)

// Sensors returns a phone-like layout: a back colour camera, a front depth
// sensor and an external time-of-flight module without a front facing.
func Sensors() []capture.SensorDescriptor {
	return []capture.SensorDescriptor{
		{
			ID:           BackColorID,
			Facing:       capture.FacingBack,
			Capabilities: []capture.Capability{capture.CapabilityBackwardCompatible, capture.CapabilityManualSensor},
			PhysicalSize: capture.SizeF{Width: 6.4, Height: 4.8},
			FocalLengths: []float64{4.4},
		},
		{
			ID:           FrontDepthID,
			Facing:       capture.FacingFront,
			Capabilities: []capture.Capability{capture.CapabilityDepthOutput},
			PhysicalSize: capture.SizeF{Width: 3.6, Height: 2.7},
			FocalLengths: []float64{1.8},
		},
		{
			ID:           ExternalTOFID,
			Facing:       capture.FacingExternal,
			Capabilities: []capture.Capability{capture.CapabilityDepthOutput},
		},
	}
}

// Wall returns one frame at a constant range in millimetres with full confidence.
func Wall(width, height int, rangeMM uint16) []uint16 {
	f := make([]uint16, width*height)
	for i := range f {
		f[i] = rangeMM & 0x1FFF
	}
	return f
}

// Sequence returns n walls receding from nearMM in steps of stepMM.
func Sequence(width, height, n int, nearMM, stepMM uint16) [][]uint16 {
	frames := make([][]uint16, n)
	for i := range frames {
		frames[i] = Wall(width, height, nearMM+uint16(i)*stepMM)
	}
	return frames
}

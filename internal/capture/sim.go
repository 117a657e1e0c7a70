package capture

import "math"

// SimulatedSensorID is the ID of the depth sensor exposed by NewSimulatedPlatform.
const SimulatedSensorID = "sim-depth"

// SimulatedSensors returns the sensors exposed in simulation: a front depth
// sensor and a back colour camera.
func SimulatedSensors() []SensorDescriptor {
	return []SensorDescriptor{
		{
			ID:           "sim-color",
			Facing:       FacingBack,
			Capabilities: []Capability{CapabilityBackwardCompatible, CapabilityRaw},
			PhysicalSize: SizeF{Width: 5.6, Height: 4.2},
			FocalLengths: []float64{4.3},
		},
		{
			ID:           SimulatedSensorID,
			Facing:       FacingFront,
			Capabilities: []Capability{CapabilityDepthOutput},
			PhysicalSize: SizeF{Width: 3.6, Height: 2.7},
			FocalLengths: []float64{1.8},
		},
	}
}

// SimulatedScene renders n frames of a disc sweeping across a tilted plane.
// The disc is reported with lower confidence than the plane.
func SimulatedScene(width, height, n int) [][]uint16 {
	frames := make([][]uint16, n)
	radius := float64(min(width, height)) / 6
	for i := range frames {
		phase := 2 * math.Pi * float64(i) / float64(n)
		cx := float64(width)/2 + float64(width)/3*math.Cos(phase)
		cy := float64(height) / 2

		f := make([]uint16, width*height)
		for y := 0; y < height; y++ {
			plane := 1500 + 2000*y/max(height-1, 1)
			for x := 0; x < width; x++ {
				dx, dy := float64(x)-cx, float64(y)-cy
				if dx*dx+dy*dy <= radius*radius {
					f[y*width+x] = 2<<13 | 600
					continue
				}
				f[y*width+x] = uint16(plane) & depthRangeMask
			}
		}
		frames[i] = f
	}
	return frames
}

// NewSimulatedPlatform returns a platform that streams SimulatedScene at the
// frame interval of fps.
func NewSimulatedPlatform(width, height int, fps FPSRange) *MockPlatform {
	p := NewMockPlatform(SimulatedSensors(), SimulatedScene(width, height, 60), true)
	p.FrameInterval = fps.FrameInterval()
	return p
}

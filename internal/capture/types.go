package capture

import (
	"fmt"
	"strings"
	"time"
)

// Default stream settings.
const (
	DefaultFPSMin     = 15
	DefaultFPSMax     = 30
	DefaultWidth      = 640
	DefaultHeight     = 480
	DefaultQueueDepth = 2
)

// DefaultFPSRange is the frame-rate bound used when none is configured.
var DefaultFPSRange = FPSRange{Min: DefaultFPSMin, Max: DefaultFPSMax}

// Facing is the direction a sensor points relative to the device.
type Facing int

const (
	FacingFront Facing = iota
	FacingBack
	FacingExternal
)

func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingBack:
		return "back"
	case FacingExternal:
		return "external"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// ParseFacing converts a name such as "front" into a Facing.
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front":
		return FacingFront, nil
	case "back":
		return FacingBack, nil
	case "external":
		return FacingExternal, nil
	}
	return 0, fmt.Errorf("unknown facing %q", s)
}

// MarshalText encodes the facing by name.
func (f Facing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes a facing name.
func (f *Facing) UnmarshalText(b []byte) error {
	v, err := ParseFacing(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Capability is a hardware feature flag reported per sensor.
type Capability string

// Known capabilities. Platforms may report others.
const (
	CapabilityBackwardCompatible Capability = "BACKWARD_COMPATIBLE"
	CapabilityDepthOutput        Capability = "DEPTH_OUTPUT"
	CapabilityManualSensor       Capability = "MANUAL_SENSOR"
	CapabilityRaw                Capability = "RAW"
)

// SizeF is a physical size in millimetres.
type SizeF struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SensorDescriptor describes one sensor as reported by the platform.
// It is read once per discovery pass and never modified.
type SensorDescriptor struct {
	ID           string       `json:"id"`
	Facing       Facing       `json:"facing"`
	Capabilities []Capability `json:"capabilities"`
	PhysicalSize SizeF        `json:"physical_size"`
	FocalLengths []float64    `json:"focal_lengths"`
}

// HasCapability reports whether the sensor declares c.
func (d SensorDescriptor) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// FPSRange bounds the frame rate of a repeating request.
type FPSRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Validate checks that 0 < Min <= Max.
func (r FPSRange) Validate() error {
	if r.Min <= 0 || r.Max < r.Min {
		return fmt.Errorf("invalid fps range [%d, %d]", r.Min, r.Max)
	}
	return nil
}

// FrameInterval is the delay between frames at the upper bound.
func (r FPSRange) FrameInterval() time.Duration {
	if r.Max <= 0 {
		return time.Second / DefaultFPSMax
	}
	return time.Second / time.Duration(r.Max)
}

func (r FPSRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// ControlMode selects how the platform drives exposure and focus.
type ControlMode int

const (
	ControlModeOff ControlMode = iota
	ControlModeAuto
)

func (m ControlMode) String() string {
	if m == ControlModeAuto {
		return "auto"
	}
	return "off"
}

// StreamConfig holds the parameters of a repeating request.
// It must not be modified once submitted.
type StreamConfig struct {
	SessionID   string
	FPS         FPSRange
	Target      *BufferQueue
	ControlMode ControlMode
	Orientation int
}

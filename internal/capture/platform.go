package capture

import (
	"context"
	"fmt"
)

// Platform exposes the sensors of the host and opens them as devices.
// OpenDevice returns immediately; the outcome arrives on cb.
type Platform interface {
	SensorIDs(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, id string) (SensorDescriptor, error)
	OpenDevice(id string, cb DeviceCallbacks) error
}

// DeviceCallbacks receives device lifecycle notifications.
type DeviceCallbacks interface {
	OnOpened(dev Device)
	OnDisconnected(dev Device)
	OnError(dev Device, code DeviceErrorCode)
	OnClosed(dev Device)
}

// Device is an exclusively opened sensor.
type Device interface {
	ID() string
	// CreateSession binds the device to targets. The result arrives on cb.
	CreateSession(targets []*BufferQueue, cb SessionCallbacks) error
	Close()
}

// SessionCallbacks receives session configuration results.
type SessionCallbacks interface {
	OnConfigured(s Session)
	OnConfigureFailed(s Session)
}

// Session is a configured binding between a device and its output queues.
type Session interface {
	// SetRepeatingRequest replaces the active repeating request. The platform
	// keeps filling the target queue until StopRepeating or Close.
	SetRepeatingRequest(cfg StreamConfig) error
	StopRepeating() error
	Close()
}

// DeviceErrorCode is the reason reported with OnError.
type DeviceErrorCode int

const (
	ErrorCameraInUse DeviceErrorCode = iota + 1
	ErrorMaxCamerasInUse
	ErrorCameraDisabled
	ErrorCameraDevice
	ErrorCameraService
)

func (c DeviceErrorCode) String() string {
	switch c {
	case ErrorCameraInUse:
		return "camera in use"
	case ErrorMaxCamerasInUse:
		return "max cameras in use"
	case ErrorCameraDisabled:
		return "camera disabled"
	case ErrorCameraDevice:
		return "camera device"
	case ErrorCameraService:
		return "camera service"
	default:
		return fmt.Sprintf("error code %d", int(c))
	}
}

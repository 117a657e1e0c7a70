package capture

import "errors"

var (
	// ErrPermissionDenied is returned by Open when device access was not granted.
	ErrPermissionDenied = errors.New("capture: permission denied")
	// ErrDeviceAccess is returned when enumeration or open fails at the platform layer.
	ErrDeviceAccess = errors.New("capture: device access error")
	// ErrAlreadyOpening is returned when an open is attempted while a session handle exists.
	ErrAlreadyOpening = errors.New("capture: already opening")
	// ErrConfigureFailed is recorded when the platform rejects the session configuration.
	ErrConfigureFailed = errors.New("capture: session configuration failed")
	// ErrDeviceGone is returned for any operation on a disconnected device.
	ErrDeviceGone = errors.New("capture: device disconnected")
	// ErrNotFound is returned when no sensor satisfies the selection predicate.
	ErrNotFound = errors.New("capture: no matching sensor")

	ErrRequestBeforeConfigured = errors.New("capture: repeating request before session configured")
	ErrIllegalTransition       = errors.New("capture: illegal state transition")
	ErrNotStreaming            = errors.New("capture: not streaming")

	ErrNoBuffer           = errors.New("capture: no buffer available")
	ErrMaxBuffersAcquired = errors.New("capture: max buffers acquired")
	ErrBufferReleased     = errors.New("capture: buffer already released")
	ErrQueueClosed        = errors.New("capture: buffer queue closed")
)

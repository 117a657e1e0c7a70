package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Predicate selects a sensor.
type Predicate func(SensorDescriptor) bool

// DepthFront matches front-facing sensors that declare depth output.
func DepthFront(d SensorDescriptor) bool {
	return d.Facing == FacingFront && d.HasCapability(CapabilityDepthOutput)
}

// Scanner discovers sensors on a Platform.
type Scanner struct {
	platform Platform
	logger   *slog.Logger

	// Predicate picks the sensor returned by FindDepthFrontSensor.
	// Nil means DepthFront.
	Predicate Predicate
}

// NewScanner creates a Scanner over p.
func NewScanner(p Platform, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{platform: p, logger: logger}
}

// Scan describes every sensor the platform reports, in enumeration order.
func (s *Scanner) Scan(ctx context.Context) ([]SensorDescriptor, error) {
	ids, err := s.platform.SensorIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate sensors: %w", ErrDeviceAccess, err)
	}

	sensors := make([]SensorDescriptor, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := s.platform.Describe(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: describe sensor %s: %w", ErrDeviceAccess, id, err)
		}
		s.logger.Debug("sensor",
			"id", d.ID,
			"facing", d.Facing.String(),
			"capabilities", d.Capabilities)
		sensors = append(sensors, d)
	}
	return sensors, nil
}

// FindDepthFrontSensor returns the first sensor, in platform enumeration
// order, that satisfies the predicate. Which sensor wins when several
// qualify depends on that order and is not otherwise defined.
//
// The error matches ErrNotFound when nothing qualifies and additionally
// ErrDeviceAccess when the platform could not be queried.
func (s *Scanner) FindDepthFrontSensor(ctx context.Context) (SensorDescriptor, error) {
	match := s.Predicate
	if match == nil {
		match = DepthFront
	}

	ids, err := s.platform.SensorIDs(ctx)
	if err != nil {
		return SensorDescriptor{}, fmt.Errorf("%w: %w: enumerate sensors: %w", ErrNotFound, ErrDeviceAccess, err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return SensorDescriptor{}, err
		}
		d, err := s.platform.Describe(ctx, id)
		if err != nil {
			return SensorDescriptor{}, fmt.Errorf("%w: %w: describe sensor %s: %w", ErrNotFound, ErrDeviceAccess, id, err)
		}
		if !match(d) {
			continue
		}

		attrs := []any{
			"id", d.ID,
			"sensor_width_mm", d.PhysicalSize.Width,
			"sensor_height_mm", d.PhysicalSize.Height,
		}
		if fov, ok := FieldOfView(d); ok {
			attrs = append(attrs, "approx_fov_deg", fov*180/math.Pi)
		}
		s.logger.Info("depth sensor selected", attrs...)
		return d, nil
	}

	return SensorDescriptor{}, ErrNotFound
}

// FieldOfView estimates the horizontal field of view in radians from the
// physical sensor width and the first focal length. The reported size may
// cover more than the active array, so the value is approximate.
func FieldOfView(d SensorDescriptor) (float64, bool) {
	if len(d.FocalLengths) == 0 || d.FocalLengths[0] <= 0 || d.PhysicalSize.Width <= 0 {
		return 0, false
	}
	return 2 * math.Atan(d.PhysicalSize.Width/(2*d.FocalLengths[0])), true
}

package capture

import (
	"errors"
	"fmt"
	"log/slog"
)

// StreamConfigurator builds and submits repeating requests.
type StreamConfigurator struct {
	logger *slog.Logger
}

// NewStreamConfigurator creates a StreamConfigurator.
func NewStreamConfigurator(logger *slog.Logger) *StreamConfigurator {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamConfigurator{logger: logger}
}

// Build returns the repeating request for h: automatic control, target as
// the only output and frame rate bounded by fps.
func (c *StreamConfigurator) Build(h *SessionHandle, fps FPSRange, target *BufferQueue) (StreamConfig, error) {
	if h == nil {
		return StreamConfig{}, errors.New("build stream config: nil session handle")
	}
	if target == nil {
		return StreamConfig{}, errors.New("build stream config: nil target queue")
	}
	if err := fps.Validate(); err != nil {
		return StreamConfig{}, fmt.Errorf("build stream config: %w", err)
	}

	return StreamConfig{
		SessionID:   h.ID.String(),
		FPS:         fps,
		Target:      target,
		ControlMode: ControlModeAuto,
		Orientation: 0,
	}, nil
}

// Submit installs cfg as the repeating request of s.
func (c *StreamConfigurator) Submit(s Session, cfg StreamConfig) error {
	if s == nil {
		return ErrRequestBeforeConfigured
	}
	if err := s.SetRepeatingRequest(cfg); err != nil {
		return fmt.Errorf("set repeating request: %w", err)
	}

	c.logger.Info("repeating request submitted",
		"session_id", cfg.SessionID,
		"fps", cfg.FPS.String(),
		"control_mode", cfg.ControlMode.String(),
		"target", fmt.Sprintf("%dx%d", cfg.Target.Width(), cfg.Target.Height()))
	return nil
}

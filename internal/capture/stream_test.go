package capture

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestStreamConfigurator_Build(t *testing.T) {
	c := NewStreamConfigurator(nil)
	h := &SessionHandle{ID: uuid.New()}
	q := NewBufferQueue(4, 3, 2)

	cfg, err := c.Build(h, DefaultFPSRange, q)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if cfg.ControlMode != ControlModeAuto {
		t.Errorf("ControlMode = %v, want auto", cfg.ControlMode)
	}
	if cfg.FPS != (FPSRange{Min: 15, Max: 30}) {
		t.Errorf("FPS = %v, want [15, 30]", cfg.FPS)
	}
	if cfg.Target != q {
		t.Error("Target is not the supplied queue")
	}
	if cfg.SessionID != h.ID.String() {
		t.Errorf("SessionID = %q, want %q", cfg.SessionID, h.ID)
	}
	if cfg.Orientation != 0 {
		t.Errorf("Orientation = %d, want 0", cfg.Orientation)
	}
}

func TestStreamConfigurator_BuildInvalid(t *testing.T) {
	c := NewStreamConfigurator(nil)
	h := &SessionHandle{ID: uuid.New()}
	q := NewBufferQueue(4, 3, 2)

	tests := []struct {
		name   string
		handle *SessionHandle
		fps    FPSRange
		target *BufferQueue
	}{
		{"nil handle", nil, DefaultFPSRange, q},
		{"nil target", h, DefaultFPSRange, nil},
		{"zero min", h, FPSRange{Min: 0, Max: 30}, q},
		{"min above max", h, FPSRange{Min: 30, Max: 15}, q},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Build(tt.handle, tt.fps, tt.target); err == nil {
				t.Error("Build() expected error")
			}
		})
	}
}

func TestStreamConfigurator_Submit(t *testing.T) {
	c := NewStreamConfigurator(nil)
	q := NewBufferQueue(4, 3, 2)
	cfg, _ := c.Build(&SessionHandle{ID: uuid.New()}, DefaultFPSRange, q)

	if err := c.Submit(nil, cfg); !errors.Is(err, ErrRequestBeforeConfigured) {
		t.Errorf("Submit(nil) error = %v, want ErrRequestBeforeConfigured", err)
	}

	p := NewMockPlatform(nil, nil, false)
	s := &MockSession{device: &MockDevice{platform: p}, target: q}
	if err := c.Submit(s, cfg); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	got, ok := s.Repeating()
	if !ok {
		t.Fatal("session has no repeating request")
	}
	if got.Target != q || got.ControlMode != ControlModeAuto {
		t.Errorf("repeating request = %+v", got)
	}

	p.RequestErr = errors.New("rejected")
	if err := c.Submit(s, cfg); err == nil {
		t.Error("Submit() expected error from platform")
	}
}

package tray

import (
	"testing"

	"github.com/ayusman/depthcam/internal/capture"
)

func TestToggleRequestsOppositeOfState(t *testing.T) {
	tests := []struct {
		state capture.State
		want  bool
	}{
		{capture.StateIdle, true},
		{capture.StateClosed, true},
		{capture.StateError, true},
		{capture.StateClosing, true},
		{capture.StateOpening, false},
		{capture.StateStreaming, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			var got []bool
			tr := New(Callbacks{Toggle: func(stream bool) { got = append(got, stream) }})

			tr.SetState(tt.state)
			tr.clickToggle()

			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("toggle in %s requested %v, want [%v]", tt.state, got, tt.want)
			}
		})
	}
}

func TestTitles(t *testing.T) {
	if got := toggleTitle(capture.StateStreaming); got != "● Streaming" {
		t.Errorf("toggleTitle(streaming) = %q", got)
	}
	if got := toggleTitle(capture.StateError); got != "○ Stopped" {
		t.Errorf("toggleTitle(error) = %q", got)
	}
	if got := stateTitle(capture.StateSessionConfiguring); got != "State: session_configuring" {
		t.Errorf("stateTitle() = %q", got)
	}
}

func TestSetStateBeforeRun(t *testing.T) {
	tr := New(Callbacks{})
	if tr.State() != capture.StateIdle {
		t.Errorf("initial State() = %v, want idle", tr.State())
	}
	tr.SetState(capture.StateStreaming)
	if tr.State() != capture.StateStreaming {
		t.Errorf("State() = %v, want streaming", tr.State())
	}

	// No callbacks registered.
	tr.clickToggle()
}

// Package tray provides a system tray menu for starting and stopping the depth stream.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/depthcam/internal/capture"
)

// Callbacks are invoked from the tray's menu goroutine. Nil fields are skipped.
type Callbacks struct {
	// Toggle is called with true to start streaming and false to stop.
	Toggle  func(stream bool)
	Preview func()
	Quit    func()
}

// Tray mirrors the capture state in a menu bar icon.
type Tray struct {
	cb Callbacks

	mu     sync.RWMutex
	state  capture.State
	toggle *systray.MenuItem
	status *systray.MenuItem
}

// New creates a tray showing an idle camera.
func New(cb Callbacks) *Tray {
	return &Tray{cb: cb, state: capture.StateIdle}
}

// Run shows the tray and blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.build, func() {})
}

func (t *Tray) build() {
	systray.SetTitle("Depthcam")
	systray.SetTooltip("Depthcam depth stream")

	t.mu.Lock()
	t.toggle = systray.AddMenuItem(toggleTitle(t.state), "Start or stop the depth stream")
	systray.AddSeparator()
	t.status = systray.AddMenuItem(stateTitle(t.state), "Capture state")
	t.status.Disable()
	toggle := t.toggle
	t.mu.Unlock()

	systray.AddSeparator()
	preview := systray.AddMenuItem("Open Preview...", "Open the live preview in a browser")
	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Quit Depthcam")

	go func() {
		for {
			select {
			case <-toggle.ClickedCh:
				t.clickToggle()
			case <-preview.ClickedCh:
				if t.cb.Preview != nil {
					t.cb.Preview()
				}
			case <-quit.ClickedCh:
				if t.cb.Quit != nil {
					t.cb.Quit()
				}
				systray.Quit()
				return
			}
		}
	}()
}

// clickToggle asks to stop an active stream or start an inactive one.
// The menu follows the resulting transitions through SetState.
func (t *Tray) clickToggle() {
	if t.cb.Toggle != nil {
		t.cb.Toggle(!active(t.State()))
	}
}

// SetState updates the menu for a new capture state.
func (t *Tray) SetState(s capture.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = s
	if t.toggle != nil {
		t.toggle.SetTitle(toggleTitle(s))
		t.status.SetTitle(stateTitle(s))
	}
}

// State returns the last state passed to SetState.
func (t *Tray) State() capture.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Quit closes the tray and returns from Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// active reports whether a session is open or on its way to streaming.
func active(s capture.State) bool {
	switch s {
	case capture.StateOpening, capture.StateOpen, capture.StateSessionConfiguring, capture.StateStreaming:
		return true
	}
	return false
}

func toggleTitle(s capture.State) string {
	if active(s) {
		return "● Streaming"
	}
	return "○ Stopped"
}

func stateTitle(s capture.State) string {
	return "State: " + s.String()
}

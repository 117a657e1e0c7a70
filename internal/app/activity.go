package app

import (
	"context"
	"time"

	"github.com/ayusman/depthcam/internal/events"
)

// runActivity drops the stream to the idle frame rate after IdleTimeout
// without motion and restores the configured rate when motion returns.
func (a *App) runActivity(ctx context.Context) {
	defer a.wg.Done()

	timeout := a.cfg.Camera.Motion.IdleTimeout
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
			a.setIdle(false)
		case now := <-ticker.C:
			a.mu.RLock()
			quiet := !a.idle && !a.lastMotion.IsZero() && now.Sub(a.lastMotion) > timeout
			a.mu.RUnlock()
			if quiet {
				a.setIdle(true)
			}
		}
	}
}

func (a *App) onMotion(percent float64) {
	a.mu.Lock()
	a.lastMotion = time.Now()
	idle := a.idle
	a.mu.Unlock()

	if idle {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

// resetActivity starts a new session in active mode.
func (a *App) resetActivity(at time.Time) {
	if a.motion == nil {
		return
	}
	a.motion.Reset()
	a.mu.Lock()
	a.idle = false
	a.lastMotion = at
	a.mu.Unlock()
}

// setIdle switches the repeating request between the idle and configured
// frame rates. Failures leave the mode unchanged; the stream may be closing.
func (a *App) setIdle(idle bool) {
	a.mu.RLock()
	current := a.idle
	a.mu.RUnlock()
	if current == idle {
		return
	}

	fps := a.cfg.Camera.FPSRange()
	if idle {
		fps = a.cfg.Camera.Motion.IdleFPSRange()
	}
	if err := a.SetFrameRate(fps); err != nil {
		a.logger.Debug("frame rate switch skipped", "idle", idle, "error", err)
		return
	}

	a.mu.Lock()
	a.idle = idle
	if !idle {
		a.lastMotion = time.Now()
	}
	a.mu.Unlock()

	if idle {
		a.logger.Info("no motion, switched to idle frame rate", "fps", fps.String())
	} else {
		a.logger.Info("motion detected, switched to active frame rate", "fps", fps.String())
	}

	info, _ := a.controller.Handle()
	a.publish(events.Event{
		Type:      events.TypeMotion,
		At:        time.Now(),
		SessionID: info.ID,
		SensorID:  info.SensorID,
		Data: map[string]any{
			"moving": !idle,
			"fps":    fps,
		},
	})
}

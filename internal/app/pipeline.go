package app

import (
	"context"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
	"github.com/ayusman/depthcam/internal/events"
	"github.com/ayusman/depthcam/internal/telemetry"
)

// fanout delivers each frame to every consumer in turn. The buffer is only
// valid for the duration of ConsumeFrame, so consumers copy what they keep.
type fanout []capture.FrameConsumer

func (f fanout) ConsumeFrame(buf *capture.FrameBuffer) {
	for _, c := range f {
		c.ConsumeFrame(buf)
	}
}

func (a *App) frameConsumers() fanout {
	f := fanout{a.preview, a.stats}
	if a.motion != nil {
		f = append(f, a.motion)
	}
	for _, p := range a.processes {
		f = append(f, p)
	}
	return f
}

// counters holds the cumulative values seen at the previous statistics
// window so each window reports deltas.
type counters struct {
	session string
	dropped uint64
	skipped uint64
	panics  uint64
	fps     capture.FPSRange
}

// runStats publishes a statistics window every StatsInterval.
func (a *App) runStats(ctx context.Context) {
	defer a.wg.Done()

	interval := a.cfg.Camera.StatsInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.publishStats(now)
		}
	}
}

// flushStats publishes the partial window of a session that is closing.
func (a *App) flushStats() {
	a.publishStats(time.Now())
}

// publishStats closes the current window and sends it to the journal, the
// event publishers and InfluxDB.
func (a *App) publishStats(now time.Time) telemetry.Sample {
	s := a.collectStats()

	a.mu.RLock()
	influx := a.influx
	a.mu.RUnlock()

	if s.SessionID != "" && a.journal != nil {
		a.journal.RecordStats(s.SessionID, s.Frames, s.Dropped)
	}
	if influx != nil && s.SessionID != "" {
		influx.Write(s, now)
	}
	a.publish(events.Event{
		Type:      events.TypeStats,
		At:        now,
		SessionID: s.SessionID,
		SensorID:  s.SensorID,
		Data:      s,
	})
	return s
}

func (a *App) collectStats() telemetry.Sample {
	s := a.stats.Snapshot()
	s.State = a.controller.State().String()
	dispatch := a.controller.Dispatcher().Stats()
	info, ok := a.controller.Handle()

	a.mu.Lock()
	defer a.mu.Unlock()

	s.Skipped = dispatch.Skipped - a.last.skipped
	s.Panics = dispatch.Panics - a.last.panics
	a.last.skipped, a.last.panics = dispatch.Skipped, dispatch.Panics

	if !ok {
		return s
	}
	s.SessionID, s.SensorID = info.ID, info.SensorID
	if info.ID != a.last.session {
		a.last.session = info.ID
		a.last.dropped = 0
		a.last.fps = capture.FPSRange{}
	}
	s.Dropped = info.Dropped - a.last.dropped
	a.last.dropped = info.Dropped

	if info.Configured && info.FPS != a.last.fps {
		a.last.fps = info.FPS
		if a.journal != nil {
			a.journal.RecordFPS(info.ID, info.FPS)
		}
	}
	return s
}

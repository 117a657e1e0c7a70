package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
	"github.com/ayusman/depthcam/internal/config"
	"github.com/ayusman/depthcam/internal/events"
	"github.com/ayusman/depthcam/internal/logging"
	"github.com/ayusman/depthcam/internal/store"
)

const (
	testWidth  = 64
	testHeight = 48
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Camera.Simulate = true
	cfg.Camera.Width = testWidth
	cfg.Camera.Height = testHeight
	cfg.Camera.StatsInterval = time.Hour
	cfg.Store.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Consumers.Dir = t.TempDir()
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *capture.MockPlatform, *store.Store) {
	t.Helper()

	s, err := store.New(cfg.Store.Path)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	platform := capture.NewMockPlatform(
		capture.SimulatedSensors(),
		capture.SimulatedScene(testWidth, testHeight, 4),
		true,
	)
	a, err := New(Options{Config: cfg, Store: s, Logger: logging.Discard(), Platform: platform})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(a.Stop)
	return a, platform, s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() accepted missing config")
	}
}

func TestApp_OpenStreamClose(t *testing.T) {
	a, platform, s := newTestApp(t, testConfig(t))
	sub, cancel := a.Events().Subscribe()
	defer cancel()

	if err := a.OpenCamera(context.Background()); err != nil {
		t.Fatalf("OpenCamera() error = %v", err)
	}
	status := a.Status()
	if status.State != "streaming" {
		t.Fatalf("State = %q, want streaming", status.State)
	}
	if status.Handle == nil || status.Handle.SensorID != capture.SimulatedSensorID {
		t.Fatalf("Handle = %+v, want sensor %s", status.Handle, capture.SimulatedSensorID)
	}
	sessionID := status.Handle.ID

	if n := platform.Emit(1); n != 1 {
		t.Fatalf("Emit() = %d, want 1", n)
	}
	waitFor(t, "first frame", func() bool { return a.Controller().Dispatcher().Stats().Delivered == 1 })
	if n := platform.Emit(1); n != 1 {
		t.Fatalf("Emit() = %d, want 1", n)
	}
	waitFor(t, "second frame", func() bool { return a.Controller().Dispatcher().Stats().Delivered == 2 })

	snap, ok := a.Preview().Latest()
	if !ok || snap.Width != testWidth || len(snap.Samples) != testWidth*testHeight {
		t.Fatalf("Preview().Latest() = %dx%d (%v)", snap.Width, snap.Height, ok)
	}

	sample := a.publishStats(time.Now())
	if sample.Frames != 2 || sample.SessionID != sessionID {
		t.Errorf("sample = %+v, want 2 frames for %s", sample, sessionID)
	}
	if sample.MeanRange <= 0 || sample.ValidRatio != 1 {
		t.Errorf("sample range stats = %v / %v", sample.MeanRange, sample.ValidRatio)
	}

	if err := a.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera() error = %v", err)
	}
	if got := a.Status().State; got != "closed" {
		t.Errorf("State after close = %q, want closed", got)
	}

	sess, err := s.Sessions().GetByID(sessionID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sess.FinalState != "closed" || sess.EndedAt == nil {
		t.Errorf("session = %+v, want closed", sess)
	}
	if sess.Frames != 2 {
		t.Errorf("session frames = %d, want 2", sess.Frames)
	}
	if sess.FPS != capture.DefaultFPSRange {
		t.Errorf("session fps = %v, want %v", sess.FPS, capture.DefaultFPSRange)
	}

	var states []string
	var sawStats bool
	for len(sub) > 0 {
		e := <-sub
		switch e.Type {
		case events.TypeTransition:
			states = append(states, e.To)
		case events.TypeStats:
			sawStats = true
		}
	}
	want := []string{"opening", "open", "session_configuring", "streaming", "closing", "closed"}
	if len(states) != len(want) {
		t.Fatalf("transition events = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, states[i], want[i])
		}
	}
	if !sawStats {
		t.Error("no stats event published")
	}
}

func TestApp_SetFrameRate(t *testing.T) {
	a, platform, s := newTestApp(t, testConfig(t))

	fps := capture.FPSRange{Min: 5, Max: 10}
	if err := a.SetFrameRate(fps); !errors.Is(err, capture.ErrNotStreaming) {
		t.Errorf("SetFrameRate() before open error = %v, want ErrNotStreaming", err)
	}

	if err := a.OpenCamera(context.Background()); err != nil {
		t.Fatalf("OpenCamera() error = %v", err)
	}
	if err := a.SetFrameRate(fps); err != nil {
		t.Fatalf("SetFrameRate() error = %v", err)
	}

	requests := platform.Requests()
	if len(requests) != 2 || requests[1].FPS != fps {
		t.Errorf("requests = %+v, want second request at %v", requests, fps)
	}

	info, _ := a.Controller().Handle()
	sess, err := s.Sessions().GetByID(info.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sess.FPS != fps {
		t.Errorf("session fps = %v, want %v", sess.FPS, fps)
	}
}

func TestApp_Sensors(t *testing.T) {
	a, _, s := newTestApp(t, testConfig(t))

	sensors, err := a.Sensors(context.Background())
	if err != nil {
		t.Fatalf("Sensors() error = %v", err)
	}
	if len(sensors) != 2 {
		t.Fatalf("Sensors() = %d sensors, want 2", len(sensors))
	}

	var depth bool
	for _, info := range sensors {
		if info.ID != capture.SimulatedSensorID {
			if info.DepthFront {
				t.Errorf("sensor %s reported as front depth", info.ID)
			}
			continue
		}
		depth = true
		if !info.DepthFront {
			t.Error("simulated depth sensor not reported as front depth")
		}
		if info.FOVDegrees < 89.9 || info.FOVDegrees > 90.1 {
			t.Errorf("FOVDegrees = %v, want 90", info.FOVDegrees)
		}
	}
	if !depth {
		t.Errorf("depth sensor missing from %+v", sensors)
	}

	stored, err := s.Sensors().List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored %d sensors, want 2", len(stored))
	}
}

func TestApp_PermissionDenied(t *testing.T) {
	cfg := testConfig(t)
	cfg.Camera.PermissionDevice = filepath.Join(t.TempDir(), "missing-video-node")
	a, platform, _ := newTestApp(t, cfg)

	err := a.OpenCamera(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("OpenCamera() error = %v, want ErrPermissionDenied", err)
	}
	if platform.Opens() != 0 {
		t.Errorf("platform opened %d devices, want 0", platform.Opens())
	}
	if got := a.Status().State; got != "idle" {
		t.Errorf("State = %q, want idle", got)
	}
}

func TestApp_NoDepthSensor(t *testing.T) {
	cfg := testConfig(t)
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	platform := capture.NewMockPlatform(capture.SimulatedSensors()[:1], nil, false)
	a, err := New(Options{Config: cfg, Store: s, Logger: logging.Discard(), Platform: platform})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := a.OpenCamera(context.Background()); !errors.Is(err, capture.ErrNotFound) {
		t.Errorf("OpenCamera() error = %v, want ErrNotFound", err)
	}
}

func TestApp_DisconnectRecordsError(t *testing.T) {
	a, platform, s := newTestApp(t, testConfig(t))

	if err := a.OpenCamera(context.Background()); err != nil {
		t.Fatalf("OpenCamera() error = %v", err)
	}
	info, _ := a.Controller().Handle()

	platform.Disconnect()

	status := a.Status()
	if status.State != "error" || status.Error == "" {
		t.Errorf("status = %+v, want error state with message", status)
	}
	if err := a.SetFrameRate(capture.DefaultFPSRange); !errors.Is(err, capture.ErrDeviceGone) {
		t.Errorf("SetFrameRate() error = %v, want ErrDeviceGone", err)
	}

	sess, err := s.Sessions().GetByID(info.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sess.FinalState != "error" || sess.Error == "" {
		t.Errorf("session = %+v, want error state", sess)
	}

	if err := a.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera() error = %v", err)
	}
	if got := a.Status().State; got != "closed" {
		t.Errorf("State after close = %q, want closed", got)
	}
}

func TestApp_IdleFrameRate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	cfg := testConfig(t)
	cfg.Camera.Motion.Enabled = true
	cfg.Camera.Motion.IdleTimeout = 40 * time.Millisecond
	idle := cfg.Camera.Motion.IdleFPSRange()
	active := cfg.Camera.FPSRange()

	a, platform, _ := newTestApp(t, cfg)
	sub, cancel := a.Events().Subscribe()
	defer cancel()

	if err := a.OpenCamera(context.Background()); err != nil {
		t.Fatalf("OpenCamera() error = %v", err)
	}

	lastFPS := func() capture.FPSRange {
		requests := platform.Requests()
		return requests[len(requests)-1].FPS
	}
	waitFor(t, "idle frame rate", func() bool { return lastFPS() == idle })

	// The simulated disc moves a quarter turn between frames.
	for i := uint64(1); i <= 2; i++ {
		platform.Emit(1)
		waitFor(t, "frame delivery", func() bool { return a.Controller().Dispatcher().Stats().Delivered == i })
	}
	waitFor(t, "active frame rate", func() bool { return lastFPS() == active })

	var moving []bool
	timeout := time.After(2 * time.Second)
	for len(moving) < 2 {
		select {
		case e := <-sub:
			if e.Type == events.TypeMotion {
				moving = append(moving, e.Data.(map[string]any)["moving"].(bool))
			}
		case <-timeout:
			t.Fatalf("motion events = %v, want two", moving)
		}
	}
	if moving[0] || !moving[1] {
		t.Errorf("motion events = %v, want [false true ...]", moving)
	}
}

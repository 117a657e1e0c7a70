// Package app wires the depth capture pipeline to storage, events and telemetry.
package app

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
	"github.com/ayusman/depthcam/internal/config"
	"github.com/ayusman/depthcam/internal/consumer"
	"github.com/ayusman/depthcam/internal/events"
	"github.com/ayusman/depthcam/internal/logging"
	"github.com/ayusman/depthcam/internal/server"
	"github.com/ayusman/depthcam/internal/server/api"
	"github.com/ayusman/depthcam/internal/store"
	"github.com/ayusman/depthcam/internal/telemetry"
)

// Options configures an App.
type Options struct {
	Config *config.Config
	// Store is optional; without it sessions are not journaled.
	Store  *store.Store
	Logger *slog.Logger
	// Platform overrides the platform selected from Config.Camera.
	Platform capture.Platform
}

// App owns one capture controller and everything that observes it.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	platform   capture.Platform
	scanner    *capture.Scanner
	controller *capture.Controller
	journal    *store.Journal
	hub        *events.Hub
	preview    *server.Preview
	stats      *telemetry.FrameStats
	consumers  *consumer.Manager
	processes  []*consumer.Process
	motion     *capture.MotionDetector
	wake       chan struct{}

	mu         sync.RWMutex
	publisher  events.Multi
	mqtt       *events.MQTTPublisher
	influx     *telemetry.Writer
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	last       counters
	idle       bool
	lastMotion time.Time
}

// New builds an App from opts. Nothing is opened until Start or OpenCamera.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("app: config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	platform := opts.Platform
	if platform == nil {
		if cfg.Camera.Simulate {
			platform = capture.NewSimulatedPlatform(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPSRange())
			logger.Info("using simulated depth platform")
		} else {
			platform = capture.NewOpenCVPlatform(cfg.Camera.DeviceSpecs(), logging.Component(logger, "platform"))
		}
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		store:     opts.Store,
		platform:  platform,
		scanner:   capture.NewScanner(platform, logging.Component(logger, "scanner")),
		hub:       events.NewHub(),
		preview:   server.NewPreview(),
		stats:     telemetry.NewFrameStats(),
		consumers: consumer.NewManager(cfg.Consumers.Dir, logging.Component(logger, "consumer")),
	}
	a.publisher = events.Multi{a.hub}

	if err := a.consumers.Discover(); err != nil {
		logger.Warn("consumer discovery failed", "dir", cfg.Consumers.Dir, "error", err)
	}
	for _, name := range cfg.Consumers.Enabled {
		c, err := a.consumers.Get(name)
		if err != nil {
			logger.Warn("enabled consumer not found", "consumer", name, "error", err)
			continue
		}
		p := consumer.NewProcess(c, logging.Component(logger, "consumer"))
		p.OnResult = a.onResult
		a.processes = append(a.processes, p)
	}

	if m := cfg.Camera.Motion; m.Enabled {
		a.motion = capture.NewMotionDetector(m.Threshold, m.Delta)
		a.motion.OnMotion = a.onMotion
		a.wake = make(chan struct{}, 1)
	}

	var permission capture.PermissionChecker
	if cfg.Camera.PermissionDevice != "" {
		permission = capture.DeviceFilePermission{Path: cfg.Camera.PermissionDevice}
	}

	a.controller = capture.NewController(platform, a.frameConsumers(), capture.ControllerOptions{
		FPS:        cfg.Camera.FPSRange(),
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
		QueueDepth: cfg.Camera.QueueDepth,
		Permission: permission,
		Logger:     logging.Component(logger, "capture"),
	})

	if opts.Store != nil {
		a.journal = store.NewJournal(opts.Store, logging.Component(logger, "journal"))
		a.journal.Snapshot = a.controller.Handle
	}
	a.controller.Subscribe(a.onTransition)

	return a, nil
}

// Start connects the optional exporters, launches consumer processes and
// the statistics loop, and opens the camera when auto start is configured.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	if a.cfg.MQTT.Enabled {
		mqtt := events.NewMQTTPublisher(a.cfg.MQTT, logging.Component(a.logger, "mqtt"))
		if err := mqtt.Connect(ctx); err != nil {
			a.logger.Warn("mqtt unavailable, events stay local", "error", err)
		} else {
			a.mu.Lock()
			a.mqtt = mqtt
			a.publisher = append(a.publisher, mqtt)
			a.mu.Unlock()
		}
	}

	influx, err := telemetry.Connect(ctx, a.cfg.InfluxDB, logging.Component(a.logger, "influxdb"))
	switch {
	case err == nil:
		a.mu.Lock()
		a.influx = influx
		a.mu.Unlock()
	case !errors.Is(err, telemetry.ErrDisabled):
		a.logger.Warn("influxdb unavailable, stream statistics are not exported", "error", err)
	}

	for _, p := range a.processes {
		if err := p.Start(runCtx); err != nil {
			a.logger.Warn("consumer failed to start", "consumer", p.Name(), "error", err)
		}
	}

	a.wg.Add(1)
	go a.runStats(runCtx)
	if a.motion != nil {
		a.wg.Add(1)
		go a.runActivity(runCtx)
	}

	a.logger.Info("capture service started",
		"sensors", len(a.cfg.Camera.Sensors),
		"consumers", len(a.processes),
		"simulate", a.cfg.Camera.Simulate)

	if a.cfg.Camera.AutoStart {
		if err := a.OpenCamera(ctx); err != nil {
			a.logger.Error("auto start failed", "error", err)
		}
	}
	return nil
}

// Stop closes the camera and shuts down everything Start launched.
func (a *App) Stop() {
	if err := a.controller.Close(); err != nil {
		a.logger.Warn("error closing camera", "error", err)
	}

	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	a.wg.Wait()

	for _, p := range a.processes {
		p.Stop()
	}

	a.mu.Lock()
	mqtt, influx := a.mqtt, a.influx
	a.mqtt, a.influx = nil, nil
	a.publisher = events.Multi{a.hub}
	a.mu.Unlock()

	if mqtt != nil {
		mqtt.Close()
	}
	if influx != nil {
		influx.Close()
	}
	if a.motion != nil {
		a.motion.Close()
	}
	a.logger.Info("capture service stopped")
}

// Subscribe registers fn for every controller transition.
func (a *App) Subscribe(fn func(capture.Transition)) {
	a.controller.Subscribe(fn)
}

// Controller returns the capture controller.
func (a *App) Controller() *capture.Controller {
	return a.controller
}

// Preview returns the latest-frame buffer served by the stream endpoint.
func (a *App) Preview() *server.Preview {
	return a.preview
}

// Events returns the hub websocket clients subscribe to.
func (a *App) Events() *events.Hub {
	return a.hub
}

// Processes returns the enabled consumer processes.
func (a *App) Processes() []*consumer.Process {
	return a.processes
}

// Status implements api.Camera.
func (a *App) Status() api.CameraStatus {
	st := api.CameraStatus{
		State:    a.controller.State().String(),
		Dispatch: a.controller.Dispatcher().Stats(),
		Config:   a.cfg.Camera.FPSRange(),
	}
	if err := a.controller.Err(); err != nil {
		st.Error = err.Error()
	}
	if info, ok := a.controller.Handle(); ok {
		st.Handle = &info
	}
	return st
}

// OpenCamera finds the front depth sensor and opens it.
func (a *App) OpenCamera(ctx context.Context) error {
	sensor, err := a.scanner.FindDepthFrontSensor(ctx)
	if err != nil {
		return err
	}
	a.remember(sensor)
	return a.controller.Open(sensor)
}

// CloseCamera implements api.Camera.
func (a *App) CloseCamera() error {
	return a.controller.Close()
}

// SetFrameRate implements api.Camera.
func (a *App) SetFrameRate(fps capture.FPSRange) error {
	if err := a.controller.UpdateFrameRate(fps); err != nil {
		return err
	}
	if info, ok := a.controller.Handle(); ok && a.journal != nil {
		a.journal.RecordFPS(info.ID, fps)
		a.mu.Lock()
		a.last.fps = fps
		a.mu.Unlock()
	}
	a.logger.Info("frame rate updated", "fps", fps.String())
	return nil
}

// Sensors implements api.Camera. Every scanned sensor is recorded in the store.
func (a *App) Sensors(ctx context.Context) ([]api.SensorInfo, error) {
	found, err := a.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.SensorInfo, 0, len(found))
	for _, d := range found {
		a.remember(d)
		info := api.SensorInfo{SensorDescriptor: d, DepthFront: capture.DepthFront(d)}
		if rad, ok := capture.FieldOfView(d); ok {
			info.FOVDegrees = rad * 180 / math.Pi
		}
		out = append(out, info)
	}
	return out, nil
}

func (a *App) remember(d capture.SensorDescriptor) {
	if a.store == nil {
		return
	}
	if err := a.store.Sensors().Upsert(d); err != nil {
		a.logger.Warn("failed to record sensor", "sensor_id", d.ID, "error", err)
	}
}

func (a *App) publish(e events.Event) {
	a.mu.RLock()
	p := a.publisher
	a.mu.RUnlock()
	p.Publish(e)
}

func (a *App) onTransition(t capture.Transition) {
	if a.journal != nil {
		a.journal.Record(t)
	}
	switch t.To {
	case capture.StateOpening:
		for _, p := range a.processes {
			p.SetSession(t.SessionID)
		}
	case capture.StateStreaming:
		a.resetActivity(t.At)
	case capture.StateClosing:
		a.flushStats()
	}
	a.publish(events.FromTransition(t))
}

func (a *App) onResult(name string, r consumer.Result) {
	info, _ := a.controller.Handle()
	a.publish(events.Event{
		Type:      events.TypeResult,
		At:        time.Now(),
		SessionID: info.ID,
		SensorID:  info.SensorID,
		Data: map[string]any{
			"consumer": name,
			"seq":      r.Seq,
			"data":     r.Data,
		},
	})
}

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionHandle is an open device bound to one capture session.
// It is owned by the Controller and never shared.
type SessionHandle struct {
	ID       uuid.UUID
	Sensor   SensorDescriptor
	OpenedAt time.Time

	device  Device
	session Session
	queue   *BufferQueue
	config  *StreamConfig
	gone    bool
}

// HandleInfo is a read-only snapshot of the current SessionHandle.
type HandleInfo struct {
	ID         string    `json:"id"`
	SensorID   string    `json:"sensor_id"`
	OpenedAt   time.Time `json:"opened_at"`
	Configured bool      `json:"configured"`
	Gone       bool      `json:"gone"`
	FPS        FPSRange  `json:"fps"`
	Dropped    uint64    `json:"dropped"`
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	FPS        FPSRange
	Width      int
	Height     int
	QueueDepth int
	Permission PermissionChecker
	Logger     *slog.Logger
}

// Controller drives one depth device through open, session configuration,
// streaming and close. Every step after Open is triggered by a platform
// callback; no method blocks waiting for the platform.
type Controller struct {
	platform     Platform
	dispatcher   *FrameDispatcher
	configurator *StreamConfigurator
	permission   PermissionChecker
	logger       *slog.Logger
	opts         ControllerOptions

	mu        sync.Mutex
	state     State
	handle    *SessionHandle
	lastErr   error
	listeners []func(Transition)
	outbox    []Transition
	emitting  bool

	// requestMu orders repeating request submission against teardown.
	requestMu sync.Mutex
}

// NewController creates a Controller in the Idle state delivering frames to consumer.
func NewController(p Platform, consumer FrameConsumer, opts ControllerOptions) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FPS == (FPSRange{}) {
		opts.FPS = DefaultFPSRange
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Permission == nil {
		opts.Permission = AlwaysGranted
	}

	return &Controller{
		platform:     p,
		dispatcher:   NewFrameDispatcher(consumer, opts.Logger),
		configurator: NewStreamConfigurator(opts.Logger),
		permission:   opts.Permission,
		logger:       opts.Logger,
		opts:         opts,
		state:        StateIdle,
	}
}

// Subscribe registers fn to receive every state transition in order.
// fn may call back into the Controller; transitions it causes are
// delivered after fn returns.
func (c *Controller) Subscribe(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that caused the last transition to Error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Handle returns a snapshot of the current session handle.
func (c *Controller) Handle() (HandleInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.handle
	if h == nil {
		return HandleInfo{}, false
	}
	info := HandleInfo{
		ID:       h.ID.String(),
		SensorID: h.Sensor.ID,
		OpenedAt: h.OpenedAt,
		Gone:     h.gone,
		Dropped:  h.queue.Dropped(),
	}
	if h.config != nil {
		info.Configured = true
		info.FPS = h.config.FPS
	}
	return info, true
}

// Dispatcher returns the frame dispatcher owned by the controller.
func (c *Controller) Dispatcher() *FrameDispatcher {
	return c.dispatcher
}

// Open starts opening sensor. It returns once the platform has accepted the
// request; progress is reported through state transitions.
func (c *Controller) Open(sensor SensorDescriptor) error {
	c.mu.Lock()
	if c.handle != nil || !c.canOpenLocked() {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: sensor %s (state %s)", ErrAlreadyOpening, sensor.ID, state)
	}
	if !c.permission.Granted() {
		c.mu.Unlock()
		return fmt.Errorf("%w: sensor %s", ErrPermissionDenied, sensor.ID)
	}

	h := &SessionHandle{
		ID:       uuid.New(),
		Sensor:   sensor,
		OpenedAt: time.Now(),
		queue:    NewBufferQueue(c.opts.Width, c.opts.Height, c.opts.QueueDepth),
	}
	c.handle = h
	c.lastErr = nil
	c.transitionLocked(StateOpening, nil)
	c.mu.Unlock()
	c.emit()

	c.logger.Info("opening device", "sensor_id", sensor.ID, "session_id", h.ID)

	if err := c.platform.OpenDevice(sensor.ID, &attempt{c: c, h: h}); err != nil {
		err = fmt.Errorf("%w: open sensor %s: %w", ErrDeviceAccess, sensor.ID, err)
		c.mu.Lock()
		if c.handle == h {
			c.lastErr = err
			c.transitionLocked(StateError, err)
			c.handle = nil
		}
		c.mu.Unlock()
		c.emit()
		h.queue.Close()
		return err
	}
	return nil
}

func (c *Controller) canOpenLocked() bool {
	return c.state == StateIdle || c.state == StateClosed || c.state == StateError
}

// Close tears the session down. It is a no-op when nothing is open.
// In-flight frame dispatch finishes before the device is closed.
func (c *Controller) Close() error {
	c.mu.Lock()
	h := c.handle

	switch {
	case c.state == StateIdle || c.state == StateClosed || c.state == StateClosing:
		c.mu.Unlock()
		return nil

	case c.state == StateOpening:
		// The device is closed as soon as OnOpened or OnError arrives.
		c.transitionLocked(StateClosing, nil)
		c.mu.Unlock()
		c.emit()
		return nil

	case h == nil || h.device == nil:
		c.transitionLocked(StateClosed, nil)
		c.handle = nil
		c.mu.Unlock()
		c.emit()
		if h != nil {
			h.queue.Close()
		}
		return nil
	}

	c.transitionLocked(StateClosing, nil)
	c.mu.Unlock()
	c.emit()

	c.teardown(h)
	return nil
}

// teardown stops the repeating request, quiesces dispatch and closes the
// session and device. A device that is gone will never report OnClosed, so
// the close is completed here.
func (c *Controller) teardown(h *SessionHandle) {
	c.requestMu.Lock()
	if h.session != nil && h.config != nil && !h.gone {
		if err := h.session.StopRepeating(); err != nil {
			c.logger.Warn("stop repeating failed", "session_id", h.ID, "error", err)
		}
	}
	c.requestMu.Unlock()

	c.dispatcher.Stop()

	if h.session != nil {
		h.session.Close()
	}

	c.mu.Lock()
	gone := h.gone
	c.mu.Unlock()

	if h.device != nil {
		h.device.Close()
	}
	h.queue.Close()

	if gone {
		c.finishClose(h)
	}
}

// finishClose moves a closing handle to Closed.
func (c *Controller) finishClose(h *SessionHandle) {
	c.mu.Lock()
	if c.handle != h || c.state != StateClosing {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(StateClosed, nil)
	c.handle = nil
	c.mu.Unlock()
	c.emit()
	h.queue.Close()

	c.logger.Info("device closed", "sensor_id", h.Sensor.ID, "session_id", h.ID)
}

// UpdateFrameRate replaces the repeating request with one bounded by fps.
func (c *Controller) UpdateFrameRate(fps FPSRange) error {
	c.mu.Lock()
	h := c.handle
	switch {
	case h != nil && h.gone:
		c.mu.Unlock()
		return ErrDeviceGone
	case h == nil || c.state != StateStreaming:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotStreaming, state)
	}
	cfg, err := c.configurator.Build(h, fps, h.queue)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.submit(h, cfg)
}

// submit installs cfg on h's session. Requests are only ever issued in the
// Streaming state.
func (c *Controller) submit(h *SessionHandle, cfg StreamConfig) error {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	c.mu.Lock()
	if c.handle != h || c.state != StateStreaming {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrRequestBeforeConfigured, state)
	}
	if h.gone {
		c.mu.Unlock()
		return ErrDeviceGone
	}
	session := h.session
	c.mu.Unlock()

	if err := c.configurator.Submit(session, cfg); err != nil {
		return err
	}

	c.mu.Lock()
	h.config = &cfg
	c.mu.Unlock()
	return nil
}

// transitionLocked moves to next if the table allows it and queues the
// transition for delivery by emit once c.mu is released.
func (c *Controller) transitionLocked(next State, err error) bool {
	prev := c.state
	if !CanTransition(prev, next) {
		c.logger.Error("refusing state transition",
			"from", prev.String(),
			"to", next.String(),
			"error", ErrIllegalTransition)
		return false
	}

	c.state = next
	t := Transition{From: prev, To: next, Err: err, At: time.Now()}
	if c.handle != nil {
		t.SessionID = c.handle.ID.String()
		t.SensorID = c.handle.Sensor.ID
	}
	c.outbox = append(c.outbox, t)
	return true
}

// emit delivers queued transitions to listeners in the order they were
// made. When another goroutine is already delivering, the queued
// transitions are left to it and emit returns at once.
func (c *Controller) emit() {
	c.mu.Lock()
	if c.emitting {
		c.mu.Unlock()
		return
	}
	c.emitting = true

	for len(c.outbox) > 0 {
		ts := c.outbox
		c.outbox = nil
		listeners := slices.Clone(c.listeners)
		c.mu.Unlock()

		for _, t := range ts {
			for _, fn := range listeners {
				fn(t)
			}
		}
		c.mu.Lock()
	}
	c.emitting = false
	c.mu.Unlock()
}

// fail records err and moves h to Error.
func (c *Controller) fail(h *SessionHandle, err error) {
	c.mu.Lock()
	if c.handle != h {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	c.transitionLocked(StateError, err)
	c.mu.Unlock()
	c.emit()

	c.logger.Error("capture session failed", "sensor_id", h.Sensor.ID, "session_id", h.ID, "error", err)
}

// attempt carries the callbacks of one open attempt so late notifications
// from an earlier device are recognised and ignored.
type attempt struct {
	c *Controller
	h *SessionHandle
}

func (a *attempt) OnOpened(dev Device) {
	c, h := a.c, a.h

	c.mu.Lock()
	if c.handle != h {
		c.mu.Unlock()
		dev.Close()
		return
	}
	h.device = dev
	if c.state == StateClosing {
		c.mu.Unlock()
		c.logger.Info("closing device opened after close request", "sensor_id", h.Sensor.ID)
		dev.Close()
		h.queue.Close()
		return
	}
	if c.state != StateOpening {
		c.mu.Unlock()
		return
	}

	c.transitionLocked(StateOpen, nil)
	c.transitionLocked(StateSessionConfiguring, nil)
	queue := h.queue
	c.mu.Unlock()
	c.emit()

	c.logger.Info("device opened", "sensor_id", h.Sensor.ID, "session_id", h.ID)

	if err := dev.CreateSession([]*BufferQueue{queue}, a); err != nil {
		c.fail(h, fmt.Errorf("%w: create session: %w", ErrConfigureFailed, err))
	}
}

func (a *attempt) OnConfigured(s Session) {
	c, h := a.c, a.h

	c.mu.Lock()
	if c.handle != h || c.state != StateSessionConfiguring {
		c.mu.Unlock()
		s.Close()
		return
	}
	h.session = s
	c.transitionLocked(StateStreaming, nil)
	cfg, err := c.configurator.Build(h, c.opts.FPS, h.queue)
	if err == nil {
		// Started under c.mu so a concurrent Close stops it only afterwards.
		c.dispatcher.Start(h.queue)
	}
	c.mu.Unlock()
	c.emit()

	if err != nil {
		c.fail(h, fmt.Errorf("%w: %w", ErrConfigureFailed, err))
		return
	}

	if err := c.submit(h, cfg); err != nil && !errors.Is(err, ErrRequestBeforeConfigured) {
		c.fail(h, fmt.Errorf("%w: %w", ErrDeviceAccess, err))
	}
}

func (a *attempt) OnConfigureFailed(s Session) {
	c, h := a.c, a.h

	c.mu.Lock()
	if c.handle != h || c.state != StateSessionConfiguring {
		c.mu.Unlock()
		if s != nil {
			s.Close()
		}
		return
	}
	h.session = s
	c.mu.Unlock()

	c.fail(h, ErrConfigureFailed)
}

func (a *attempt) OnError(dev Device, code DeviceErrorCode) {
	a.deviceFailed(dev, fmt.Errorf("%w: %s", ErrDeviceAccess, code), false)
}

func (a *attempt) OnDisconnected(dev Device) {
	a.deviceFailed(dev, ErrDeviceGone, true)
}

func (a *attempt) deviceFailed(dev Device, err error, gone bool) {
	c, h := a.c, a.h

	c.mu.Lock()
	if c.handle != h {
		c.mu.Unlock()
		return
	}

	switch c.state {
	case StateOpening:
		// The attempt is over and the handle is discarded.
		c.lastErr = err
		c.transitionLocked(StateError, err)
		c.handle = nil
		c.mu.Unlock()
		c.emit()
		c.logger.Error("device open failed", "sensor_id", h.Sensor.ID, "error", err)
		dev.Close()
		h.queue.Close()

	case StateClosing:
		h.gone = true
		c.mu.Unlock()
		c.finishClose(h)
		dev.Close()

	case StateOpen, StateSessionConfiguring, StateStreaming:
		if h.device == nil {
			h.device = dev
		}
		h.gone = h.gone || gone
		c.lastErr = err
		c.transitionLocked(StateError, err)
		c.mu.Unlock()
		c.emit()
		c.logger.Error("device failed", "sensor_id", h.Sensor.ID, "session_id", h.ID, "error", err)
		c.dispatcher.Stop()

	default:
		h.gone = h.gone || gone
		c.mu.Unlock()
	}
}

func (a *attempt) OnClosed(dev Device) {
	c, h := a.c, a.h

	c.mu.Lock()
	if c.handle != h {
		c.mu.Unlock()
		return
	}
	if c.state != StateClosing {
		// Closed underneath us without a request.
		h.gone = true
		if c.state != StateError {
			c.lastErr = ErrDeviceGone
			c.transitionLocked(StateError, ErrDeviceGone)
		}
		c.mu.Unlock()
		c.emit()
		c.dispatcher.Stop()
		return
	}
	c.mu.Unlock()

	c.finishClose(h)
}

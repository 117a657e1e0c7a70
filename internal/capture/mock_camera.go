package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MockPlatform is an in-memory Platform that plays back pre-recorded depth
// frames. Callbacks are delivered synchronously on the calling goroutine
// unless HoldOpen or HoldConfigure defer them until the test releases them.
type MockPlatform struct {
	// EnumerateErr fails SensorIDs.
	EnumerateErr error
	// DescribeErr fails Describe for individual sensors.
	DescribeErr map[string]error
	// OpenErr makes OpenDevice fail synchronously.
	OpenErr error
	// HoldOpen defers OnOpened until CompleteOpen or FailOpen.
	HoldOpen bool
	// HoldConfigure defers the session result until CompleteConfigure.
	HoldConfigure bool
	// FailConfigure reports OnConfigureFailed instead of OnConfigured.
	FailConfigure bool
	// RequestErr fails SetRepeatingRequest.
	RequestErr error
	// FrameInterval > 0 emits frames automatically while a repeating request is active.
	FrameInterval time.Duration
	// OnRequest observes every accepted repeating request.
	OnRequest func(StreamConfig)

	mu       sync.Mutex
	sensors  []SensorDescriptor
	frames   [][]uint16
	index    int
	loop     bool
	opens    int
	device   *MockDevice
	requests []StreamConfig
}

// NewMockPlatform creates a platform exposing sensors and playing back frames.
func NewMockPlatform(sensors []SensorDescriptor, frames [][]uint16, loop bool) *MockPlatform {
	return &MockPlatform{
		sensors: sensors,
		frames:  frames,
		loop:    loop,
	}
}

func (p *MockPlatform) SensorIDs(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.EnumerateErr != nil {
		return nil, p.EnumerateErr
	}
	ids := make([]string, 0, len(p.sensors))
	for _, s := range p.sensors {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (p *MockPlatform) Describe(ctx context.Context, id string) (SensorDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.DescribeErr[id]; err != nil {
		return SensorDescriptor{}, err
	}
	for _, s := range p.sensors {
		if s.ID == id {
			return s, nil
		}
	}
	return SensorDescriptor{}, fmt.Errorf("unknown sensor %q", id)
}

func (p *MockPlatform) OpenDevice(id string, cb DeviceCallbacks) error {
	p.mu.Lock()
	if p.OpenErr != nil {
		p.mu.Unlock()
		return p.OpenErr
	}
	if p.device != nil && !p.device.isClosed() {
		p.mu.Unlock()
		return fmt.Errorf("sensor %s in use", id)
	}
	p.opens++
	dev := &MockDevice{id: id, platform: p, cb: cb}
	p.device = dev
	hold := p.HoldOpen
	p.mu.Unlock()

	if !hold {
		cb.OnOpened(dev)
	}
	return nil
}

// CompleteOpen delivers OnOpened for a held open.
func (p *MockPlatform) CompleteOpen() {
	if dev := p.Device(); dev != nil {
		dev.cb.OnOpened(dev)
	}
}

// FailOpen delivers OnError for a held open.
func (p *MockPlatform) FailOpen(code DeviceErrorCode) {
	if dev := p.Device(); dev != nil {
		dev.cb.OnError(dev, code)
	}
}

// CompleteConfigure delivers the result of a held session configuration.
func (p *MockPlatform) CompleteConfigure(ok bool) {
	s := p.Session()
	if s == nil {
		return
	}
	if ok {
		s.cb.OnConfigured(s)
	} else {
		s.cb.OnConfigureFailed(s)
	}
}

// Disconnect reports the open device as gone.
func (p *MockPlatform) Disconnect() {
	dev := p.Device()
	if dev == nil {
		return
	}
	if s := dev.currentSession(); s != nil {
		s.StopRepeating()
	}
	dev.cb.OnDisconnected(dev)
}

// DeviceError reports a fatal device error on the open device.
func (p *MockPlatform) DeviceError(code DeviceErrorCode) {
	if dev := p.Device(); dev != nil {
		dev.cb.OnError(dev, code)
	}
}

// Device returns the most recently opened device.
func (p *MockPlatform) Device() *MockDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// Session returns the session of the most recently opened device.
func (p *MockPlatform) Session() *MockSession {
	dev := p.Device()
	if dev == nil {
		return nil
	}
	return dev.currentSession()
}

// Opens returns how many times OpenDevice succeeded.
func (p *MockPlatform) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Requests returns every accepted repeating request.
func (p *MockPlatform) Requests() []StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StreamConfig(nil), p.requests...)
}

// SetFrames replaces the frame sequence
func (p *MockPlatform) SetFrames(frames [][]uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = frames
	p.index = 0
}

// Reset restarts playback from the beginning
func (p *MockPlatform) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
}

// nextFrame returns the next playback frame, or nil when playback is
// exhausted or empty.
func (p *MockPlatform) nextFrame() ([]uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.frames) == 0 {
		return nil, true
	}
	if p.index >= len(p.frames) {
		if !p.loop {
			return nil, false
		}
		p.index = 0
	}
	f := p.frames[p.index]
	p.index++
	return f, true
}

// Emit pushes up to n frames into the active session's target queue and
// returns how many were queued. Frames are only produced while a repeating
// request is active.
func (p *MockPlatform) Emit(n int) int {
	s := p.Session()
	if s == nil {
		return 0
	}

	queued := 0
	for i := 0; i < n; i++ {
		target := s.repeatingTarget()
		if target == nil {
			break
		}
		frame, ok := p.nextFrame()
		if !ok {
			break
		}
		buf, ok := target.Dequeue()
		if !ok {
			continue
		}
		if frame != nil {
			copy(buf.Samples, frame)
		} else {
			for j := range buf.Samples {
				buf.Samples[j] = uint16(j) & depthRangeMask
			}
		}
		if err := target.Queue(buf); err != nil {
			break
		}
		queued++
	}
	return queued
}

// EmitCorrupt queues one frame whose samples do not match its dimensions.
func (p *MockPlatform) EmitCorrupt() bool {
	s := p.Session()
	if s == nil {
		return false
	}
	target := s.repeatingTarget()
	if target == nil {
		return false
	}
	buf, ok := target.Dequeue()
	if !ok {
		return false
	}
	buf.Samples = buf.Samples[:len(buf.Samples)/2]
	return target.Queue(buf) == nil
}

// MockDevice is the Device handed out by MockPlatform.
type MockDevice struct {
	id       string
	platform *MockPlatform
	cb       DeviceCallbacks

	mu      sync.Mutex
	session *MockSession
	closed  bool
}

func (d *MockDevice) ID() string { return d.id }

func (d *MockDevice) CreateSession(targets []*BufferQueue, cb SessionCallbacks) error {
	if len(targets) != 1 || targets[0] == nil {
		return errors.New("mock: exactly one target queue required")
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("mock: device closed")
	}
	s := &MockSession{device: d, target: targets[0], cb: cb}
	d.session = s
	d.mu.Unlock()

	p := d.platform
	p.mu.Lock()
	hold, fail := p.HoldConfigure, p.FailConfigure
	p.mu.Unlock()

	switch {
	case hold:
	case fail:
		cb.OnConfigureFailed(s)
	default:
		cb.OnConfigured(s)
	}
	return nil
}

func (d *MockDevice) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	s := d.session
	d.mu.Unlock()

	if s != nil {
		s.Close()
	}
	d.cb.OnClosed(d)
}

func (d *MockDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *MockDevice) currentSession() *MockSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// MockSession is the Session handed out by MockDevice.
type MockSession struct {
	device *MockDevice
	target *BufferQueue
	cb     SessionCallbacks

	mu        sync.Mutex
	repeating *StreamConfig
	closed    bool
	stop      chan struct{}
	done      chan struct{}
}

func (s *MockSession) SetRepeatingRequest(cfg StreamConfig) error {
	p := s.device.platform

	p.mu.Lock()
	reqErr, interval, hook := p.RequestErr, p.FrameInterval, p.OnRequest
	p.mu.Unlock()

	if reqErr != nil {
		return reqErr
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("mock: session closed")
	}
	s.repeating = &cfg
	startTicker := interval > 0 && s.stop == nil
	if startTicker {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run(interval, s.stop, s.done)
	}
	s.mu.Unlock()

	p.mu.Lock()
	p.requests = append(p.requests, cfg)
	p.mu.Unlock()

	if hook != nil {
		hook(cfg)
	}
	return nil
}

func (s *MockSession) run(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.device.platform.Emit(1)
		}
	}
}

func (s *MockSession) StopRepeating() error {
	s.mu.Lock()
	s.repeating = nil
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *MockSession) Close() {
	s.StopRepeating()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Repeating returns the active repeating request, if any.
func (s *MockSession) Repeating() (StreamConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repeating == nil {
		return StreamConfig{}, false
	}
	return *s.repeating, true
}

func (s *MockSession) repeatingTarget() *BufferQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repeating == nil || s.closed {
		return nil
	}
	return s.repeating.Target
}

// Package capture discovers depth sensors and drives one of them through
// open, session configuration and repeating capture, handing each frame to
// a consumer through a bounded buffer queue.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// OpenCV capture backends used for depth devices.
const (
	BackendAny     = "any"
	BackendV4L2    = "v4l2"
	BackendOpenNI2 = "openni2"
)

const (
	apiAny     = gocv.VideoCaptureAPI(0)
	apiV4L2    = gocv.VideoCaptureAPI(200)
	apiOpenNI2 = gocv.VideoCaptureAPI(1600)
)

// maxReadFailures is the number of consecutive failed reads after which a
// device is reported as disconnected.
const maxReadFailures = 10

// ErrCameraNotOpen is returned when using a device that has been closed.
var ErrCameraNotOpen = errors.New("camera is not open")

// DeviceSpec describes a depth device reachable through OpenCV video capture.
type DeviceSpec struct {
	ID           string
	Device       string
	Backend      string
	Facing       Facing
	Capabilities []Capability
	PhysicalSize SizeF
	FocalLengths []float64
}

// Descriptor returns the sensor descriptor advertised for the device.
func (s DeviceSpec) Descriptor() SensorDescriptor {
	return SensorDescriptor{
		ID:           s.ID,
		Facing:       s.Facing,
		Capabilities: append([]Capability(nil), s.Capabilities...),
		PhysicalSize: s.PhysicalSize,
		FocalLengths: append([]float64(nil), s.FocalLengths...),
	}
}

func (s DeviceSpec) api() gocv.VideoCaptureAPI {
	switch strings.ToLower(s.Backend) {
	case BackendV4L2:
		return apiV4L2
	case BackendOpenNI2:
		return apiOpenNI2
	default:
		return apiAny
	}
}

// source returns the device as an index when numeric, or a path otherwise.
func (s DeviceSpec) source() interface{} {
	if n, err := strconv.Atoi(s.Device); err == nil {
		return n
	}
	return s.Device
}

// OpenCVPlatform exposes configured depth devices through GoCV.
type OpenCVPlatform struct {
	specs  []DeviceSpec
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]*cvDevice
}

// NewOpenCVPlatform creates a platform over specs.
func NewOpenCVPlatform(specs []DeviceSpec, logger *slog.Logger) *OpenCVPlatform {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenCVPlatform{
		specs:  specs,
		logger: logger,
		open:   make(map[string]*cvDevice),
	}
}

func (p *OpenCVPlatform) SensorIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(p.specs))
	for _, s := range p.specs {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (p *OpenCVPlatform) Describe(ctx context.Context, id string) (SensorDescriptor, error) {
	spec, ok := p.spec(id)
	if !ok {
		return SensorDescriptor{}, fmt.Errorf("unknown sensor %q", id)
	}
	return spec.Descriptor(), nil
}

func (p *OpenCVPlatform) spec(id string) (DeviceSpec, bool) {
	for _, s := range p.specs {
		if s.ID == id {
			return s, true
		}
	}
	return DeviceSpec{}, false
}

// OpenDevice opens the capture on its own goroutine and reports the result
// on cb.
func (p *OpenCVPlatform) OpenDevice(id string, cb DeviceCallbacks) error {
	spec, ok := p.spec(id)
	if !ok {
		return fmt.Errorf("unknown sensor %q", id)
	}

	p.mu.Lock()
	if _, busy := p.open[id]; busy {
		p.mu.Unlock()
		return fmt.Errorf("sensor %s in use", id)
	}
	dev := &cvDevice{spec: spec, platform: p, cb: cb}
	p.open[id] = dev
	p.mu.Unlock()

	go func() {
		vc, err := gocv.OpenVideoCaptureWithAPI(spec.source(), spec.api())
		if err != nil {
			p.logger.Error("open video capture failed", "sensor_id", id, "device", spec.Device, "error", err)
			p.release(id)
			cb.OnError(dev, ErrorCameraDevice)
			return
		}
		if !vc.IsOpened() {
			vc.Close()
			p.release(id)
			cb.OnError(dev, ErrorCameraDevice)
			return
		}

		// Keep raw 16-bit samples instead of BGR conversion.
		vc.Set(gocv.VideoCaptureConvertRGB, 0)

		dev.mu.Lock()
		dev.capture = vc
		dev.mu.Unlock()
		cb.OnOpened(dev)
	}()
	return nil
}

func (p *OpenCVPlatform) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.open, id)
}

// cvDevice is an opened gocv.VideoCapture.
type cvDevice struct {
	spec     DeviceSpec
	platform *OpenCVPlatform
	cb       DeviceCallbacks

	mu      sync.Mutex
	capture *gocv.VideoCapture
	session *cvSession
	closed  bool
}

func (d *cvDevice) ID() string { return d.spec.ID }

func (d *cvDevice) CreateSession(targets []*BufferQueue, cb SessionCallbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.capture == nil {
		return ErrCameraNotOpen
	}

	s := &cvSession{device: d}
	d.session = s

	go func() {
		if len(targets) != 1 || targets[0] == nil {
			cb.OnConfigureFailed(s)
			return
		}
		s.mu.Lock()
		s.target = targets[0]
		s.mu.Unlock()

		d.mu.Lock()
		if d.capture != nil {
			d.capture.Set(gocv.VideoCaptureFrameWidth, float64(targets[0].Width()))
			d.capture.Set(gocv.VideoCaptureFrameHeight, float64(targets[0].Height()))
		}
		d.mu.Unlock()
		cb.OnConfigured(s)
	}()
	return nil
}

// Close stops capture and releases resources.
func (d *cvDevice) Close() {
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

	d.mu.Lock()
	if d.capture != nil {
		if err := d.capture.Close(); err != nil {
			d.platform.logger.Warn("close video capture failed", "sensor_id", d.spec.ID, "error", err)
		}
		d.capture = nil
	}
	d.mu.Unlock()

	d.platform.release(d.spec.ID)
	d.cb.OnClosed(d)
}

// readInto reads one frame and converts it into buf.
func (d *cvDevice) readInto(buf *FrameBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := d.capture.Read(&mat); !ok {
		return errors.New("failed to read frame from camera")
	}
	if mat.Empty() {
		return errors.New("captured frame is empty")
	}
	return fillDepth16(mat, buf)
}

// fillDepth16 converts mat to single-channel 16-bit samples of the buffer's
// size and copies them into buf.
func fillDepth16(mat gocv.Mat, buf *FrameBuffer) error {
	src := mat
	if src.Channels() > 1 {
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
		src = gray
	}

	depth := gocv.NewMat()
	defer depth.Close()
	if src.Type() == gocv.MatTypeCV16UC1 {
		src.CopyTo(&depth)
	} else {
		// 8-bit input is stretched over the 13-bit range.
		src.ConvertToWithParams(&depth, gocv.MatTypeCV16UC1, float32(depthRangeMask)/255, 0)
	}

	if depth.Cols() != buf.Width || depth.Rows() != buf.Height {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(depth, &resized, image.Pt(buf.Width, buf.Height), 0, 0, gocv.InterpolationNearestNeighbor)
		resized.CopyTo(&depth)
	}

	data, err := depth.DataPtrUint16()
	if err != nil {
		return fmt.Errorf("depth data: %w", err)
	}
	if len(data) != len(buf.Samples) {
		return fmt.Errorf("depth data: got %d samples, want %d", len(data), len(buf.Samples))
	}
	copy(buf.Samples, data)
	return nil
}

// cvSession runs the capture loop for the active repeating request.
type cvSession struct {
	device *cvDevice

	mu      sync.Mutex
	target  *BufferQueue
	request *StreamConfig
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

func (s *cvSession) SetRepeatingRequest(cfg StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrCameraNotOpen
	}
	if cfg.Target != s.target {
		return errors.New("request target is not part of the session")
	}

	s.device.mu.Lock()
	if s.device.capture != nil {
		s.device.capture.Set(gocv.VideoCaptureFPS, float64(cfg.FPS.Max))
		if cfg.ControlMode == ControlModeAuto {
			s.device.capture.Set(gocv.VideoCaptureAutoExposure, 1)
		}
	}
	s.device.mu.Unlock()

	s.request = &cfg
	if s.stop == nil {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run(s.stop, s.done)
	}
	return nil
}

func (s *cvSession) currentRequest() *StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

// run reads frames at the request's upper frame rate until stopped.
func (s *cvSession) run(stop, done chan struct{}) {
	defer close(done)

	logger := s.device.platform.logger
	failures := 0
	for {
		req := s.currentRequest()
		if req == nil {
			return
		}

		select {
		case <-stop:
			return
		case <-time.After(req.FPS.FrameInterval()):
		}

		buf, ok := req.Target.Dequeue()
		if !ok {
			continue
		}
		if err := s.device.readInto(buf); err != nil {
			req.Target.Cancel(buf)
			failures++
			logger.Debug("depth read failed", "sensor_id", s.device.spec.ID, "failures", failures, "error", err)
			if failures >= maxReadFailures {
				logger.Warn("depth device stopped producing frames", "sensor_id", s.device.spec.ID)
				go s.device.cb.OnDisconnected(s.device)
				return
			}
			continue
		}
		failures = 0
		req.Target.Queue(buf)
	}
}

func (s *cvSession) StopRepeating() error {
	s.mu.Lock()
	s.request = nil
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *cvSession) Close() {
	s.StopRepeating()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

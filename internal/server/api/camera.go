package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/depthcam/internal/capture"
)

// CameraStatus describes the controller as reported by GET /api/camera.
type CameraStatus struct {
	State    string                `json:"state"`
	Error    string                `json:"error,omitempty"`
	Handle   *capture.HandleInfo   `json:"handle,omitempty"`
	Dispatch capture.DispatchStats `json:"dispatch"`
	Config   capture.FPSRange      `json:"configured_fps"`
}

// SensorInfo is a scanned sensor with derived diagnostics.
type SensorInfo struct {
	capture.SensorDescriptor
	FOVDegrees float64 `json:"fov_deg,omitempty"`
	DepthFront bool    `json:"depth_front"`
}

// Camera is the capture service behind the camera and sensor endpoints.
type Camera interface {
	Status() CameraStatus
	OpenCamera(ctx context.Context) error
	CloseCamera() error
	SetFrameRate(fps capture.FPSRange) error
	Sensors(ctx context.Context) ([]SensorInfo, error)
}

// CameraHandler handles /api/camera requests.
type CameraHandler struct {
	camera Camera
}

// NewCameraHandler creates a new CameraHandler.
func NewCameraHandler(c Camera) *CameraHandler {
	return &CameraHandler{camera: c}
}

// ServeHTTP routes /api/camera, /api/camera/open, /api/camera/close and
// /api/camera/fps.
func (h *CameraHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/camera"), "/")

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, h.camera.Status())

	case "open":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if err := h.camera.OpenCamera(r.Context()); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, h.camera.Status())

	case "close":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if err := h.camera.CloseCamera(); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, h.camera.Status())

	case "fps":
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var fps capture.FPSRange
		if err := json.NewDecoder(r.Body).Decode(&fps); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if err := fps.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.camera.SetFrameRate(fps); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, h.camera.Status())

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// SensorsHandler handles GET /api/sensors.
type SensorsHandler struct {
	camera Camera
}

// NewSensorsHandler creates a new SensorsHandler.
func NewSensorsHandler(c Camera) *SensorsHandler {
	return &SensorsHandler{camera: c}
}

type listSensorsResponse struct {
	Sensors []SensorInfo `json:"sensors"`
}

// ServeHTTP lists the sensors exposed by the platform.
func (h *SensorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	sensors, err := h.camera.Sensors(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if sensors == nil {
		sensors = []SensorInfo{}
	}
	writeJSON(w, http.StatusOK, listSensorsResponse{Sensors: sensors})
}

// statusFor maps capture errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrAlreadyOpening), errors.Is(err, capture.ErrNotStreaming),
		errors.Is(err, capture.ErrRequestBeforeConfigured):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceGone):
		return http.StatusGone
	case errors.Is(err, capture.ErrDeviceAccess), errors.Is(err, capture.ErrConfigureFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ayusman/depthcam/internal/capture"
)

type fakeCamera struct {
	state    string
	openErr  error
	closeErr error
	fpsErr   error
	fps      capture.FPSRange
	sensors  []SensorInfo
	opens    int
}

func (c *fakeCamera) Status() CameraStatus { return CameraStatus{State: c.state, Config: c.fps} }

func (c *fakeCamera) OpenCamera(ctx context.Context) error {
	c.opens++
	if c.openErr == nil {
		c.state = "opening"
	}
	return c.openErr
}

func (c *fakeCamera) CloseCamera() error {
	if c.closeErr == nil {
		c.state = "closing"
	}
	return c.closeErr
}

func (c *fakeCamera) SetFrameRate(fps capture.FPSRange) error {
	if c.fpsErr != nil {
		return c.fpsErr
	}
	c.fps = fps
	return nil
}

func (c *fakeCamera) Sensors(ctx context.Context) ([]SensorInfo, error) { return c.sensors, nil }

func TestCameraHandler_Status(t *testing.T) {
	h := NewCameraHandler(&fakeCamera{state: "idle"})

	req := httptest.NewRequest(http.MethodGet, "/api/camera", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var status CameraStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.State != "idle" {
		t.Errorf("State = %q, want idle", status.State)
	}
}

func TestCameraHandler_OpenErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"permission", capture.ErrPermissionDenied, http.StatusForbidden},
		{"no sensor", fmt.Errorf("%w: no depth sensor", capture.ErrNotFound), http.StatusNotFound},
		{"busy", capture.ErrAlreadyOpening, http.StatusConflict},
		{"access", fmt.Errorf("%w: open failed", capture.ErrDeviceAccess), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCameraHandler(&fakeCamera{state: "idle", openErr: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/camera/open", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCameraHandler_Methods(t *testing.T) {
	cam := &fakeCamera{state: "idle"}
	h := NewCameraHandler(cam)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/camera"},
		{http.MethodGet, "/api/camera/open"},
		{http.MethodGet, "/api/camera/close"},
		{http.MethodPost, "/api/camera/fps"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, rec.Code, http.StatusMethodNotAllowed)
		}
	}
	if cam.opens != 0 {
		t.Errorf("GET /api/camera/open should not open the camera")
	}
}

func TestCameraHandler_FrameRate(t *testing.T) {
	cam := &fakeCamera{state: "streaming"}
	h := NewCameraHandler(cam)

	put := func(body string) int {
		req := httptest.NewRequest(http.MethodPut, "/api/camera/fps", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := put(`{"min": 5, "max": 10}`); code != http.StatusOK {
		t.Errorf("valid range: status = %d", code)
	}
	if cam.fps != (capture.FPSRange{Min: 5, Max: 10}) {
		t.Errorf("fps = %v, want [5, 10]", cam.fps)
	}
	if code := put(`{"min": 30, "max": 10}`); code != http.StatusBadRequest {
		t.Errorf("inverted range: status = %d, want 400", code)
	}
	if code := put(`not json`); code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", code)
	}

	cam.fpsErr = capture.ErrNotStreaming
	if code := put(`{"min": 5, "max": 10}`); code != http.StatusConflict {
		t.Errorf("not streaming: status = %d, want 409", code)
	}
	cam.fpsErr = capture.ErrDeviceGone
	if code := put(`{"min": 5, "max": 10}`); code != http.StatusGone {
		t.Errorf("device gone: status = %d, want 410", code)
	}
}

func TestSensorsHandler(t *testing.T) {
	cam := &fakeCamera{sensors: []SensorInfo{{
		SensorDescriptor: capture.SensorDescriptor{ID: "1", Facing: capture.FacingFront},
		DepthFront:       true,
		FOVDegrees:       90,
	}}}
	h := NewSensorsHandler(cam)

	req := httptest.NewRequest(http.MethodGet, "/api/sensors", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Sensors []struct {
			ID         string  `json:"id"`
			Facing     string  `json:"facing"`
			DepthFront bool    `json:"depth_front"`
			FOV        float64 `json:"fov_deg"`
		} `json:"sensors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Sensors) != 1 || resp.Sensors[0].Facing != "front" || !resp.Sensors[0].DepthFront {
		t.Errorf("response = %+v", resp)
	}
}

package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/depthcam/internal/surface"
)

const minFrameGap = 66 * time.Millisecond // ~15 FPS

// StreamHandler serves the depth preview as MJPEG, fitted and rotated onto
// a surface of the requested size.
type StreamHandler struct {
	preview  *Preview
	rotation float64
	maxRange uint16
	logger   *slog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(p *Preview, rotation float64, maxRange int, logger *slog.Logger) *StreamHandler {
	if maxRange <= 0 || maxRange > 0x1FFF {
		maxRange = surface.DefaultMaxRange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{preview: p, rotation: rotation, maxRange: uint16(maxRange), logger: logger}
}

// mjpegSurface renders each presented image to JPEG and writes it as one
// multipart part.
type mjpegSurface struct {
	w    io.Writer
	size surface.Size
}

func (s *mjpegSurface) Size() surface.Size { return s.size }

func (s *mjpegSurface) Present(img gocv.Mat, m surface.Matrix) error {
	out, err := surface.Render(img, m, s.size)
	if err != nil {
		return err
	}
	defer out.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, out)
	if err != nil {
		return err
	}
	defer buf.Close()

	fmt.Fprintf(s.w, "--frame\r\n")
	fmt.Fprintf(s.w, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(s.w, "Content-Length: %d\r\n\r\n", buf.Len())
	if _, err := s.w.Write(buf.GetBytes()); err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "\r\n")
	return err
}

// ServeHTTP streams MJPEG frames until the client disconnects.
// Query parameters width and height set the surface size.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	size, err := surfaceSize(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	out := &mjpegSurface{w: w, size: size}
	var (
		presenter *surface.Presenter
		calcSrc   surface.Size
		seq       uint64
	)

	for {
		snap, err := h.preview.Next(r.Context(), seq)
		if err != nil {
			return
		}
		seq = snap.Seq

		src := surface.Size{Width: snap.Width, Height: snap.Height}
		if presenter == nil || src != calcSrc {
			presenter = surface.NewPresenter(surface.NewCalculatorWithRotation(src.Width, src.Height, h.rotation), out)
			calcSrc = src
		}
		if out.size.Width == 0 {
			// Default to the rotated source so the whole frame is visible.
			out.size = surface.Size{Width: src.Height, Height: src.Width}
		}

		gray, err := surface.GrayFromDepth(snap.Samples, snap.Width, snap.Height, h.maxRange)
		if err != nil {
			h.logger.Debug("preview frame skipped", "seq", snap.Seq, "error", err)
			continue
		}
		err = presenter.Present(gray)
		gray.Close()
		if err != nil {
			h.logger.Debug("preview stream ended", "error", err)
			return
		}

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(minFrameGap):
		}
	}
}

func surfaceSize(r *http.Request) (surface.Size, error) {
	var size surface.Size
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"width", &size.Width}, {"height", &size.Height}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 4096 {
			return size, fmt.Errorf("invalid %s %q", p.name, v)
		}
		*p.dst = n
	}
	if (size.Width == 0) != (size.Height == 0) {
		return size, fmt.Errorf("width and height must be given together")
	}
	return size, nil
}

package main

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ayusman/depthcam/internal/consumer"
)

func TestSummarize(t *testing.T) {
	// 2x2 frame: one empty sample, one near sample, two at 1000mm with
	// confidence code 2.
	samples := []uint16{0, 400, 2<<13 | 1000, 2<<13 | 1000}
	frame := consumer.Frame{Width: 2, Height: 2, Depth: consumer.EncodeDepth(samples)}

	data := summarize(frame, 500)

	if got := data["valid_ratio"]; got != 0.75 {
		t.Errorf("valid_ratio = %v, want 0.75", got)
	}
	if got := data["nearest_mm"]; got != 400 {
		t.Errorf("nearest_mm = %v, want 400", got)
	}
	if got := data["mean_mm"]; got != 800.0 {
		t.Errorf("mean_mm = %v, want 800", got)
	}
	if got := data["near_ratio"].(float64); got < 0.33 || got > 0.34 {
		t.Errorf("near_ratio = %v, want 1/3", got)
	}
}

func TestSummarize_Empty(t *testing.T) {
	frame := consumer.Frame{Width: 2, Height: 1, Depth: consumer.EncodeDepth([]uint16{0, 0})}
	data := summarize(frame, 500)
	if _, ok := data["nearest_mm"]; ok {
		t.Error("nearest_mm reported for a frame without valid samples")
	}

	bad := consumer.Frame{Width: 4, Height: 4, Depth: consumer.EncodeDepth([]uint16{1})}
	if _, ok := summarize(bad, 500)["error"]; !ok {
		t.Error("mismatched frame not reported")
	}
}

func TestRun(t *testing.T) {
	var in bytes.Buffer
	for seq := uint64(1); seq <= 3; seq++ {
		frame := consumer.Frame{Seq: seq, Width: 1, Height: 1, Depth: consumer.EncodeDepth([]uint16{300})}
		if err := consumer.WriteMessage(&in, frame); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}

	var out bytes.Buffer
	if err := run(&in, &out, 500); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	for want := uint64(1); want <= 3; want++ {
		var r consumer.Result
		if err := consumer.ReadMessage(&out, &r); err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if r.Seq != want {
			t.Errorf("Seq = %d, want %d", r.Seq, want)
		}
	}
	var extra consumer.Result
	if err := consumer.ReadMessage(&out, &extra); !errors.Is(err, io.EOF) {
		t.Errorf("trailing ReadMessage() error = %v, want EOF", err)
	}
}

package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/depthcam/internal/capture"
	"github.com/ayusman/depthcam/internal/events"
)

func depthFrame(seq uint64, w, h int, value uint16) *capture.FrameBuffer {
	samples := make([]uint16, w*h)
	for i := range samples {
		samples[i] = value
	}
	return &capture.FrameBuffer{Width: w, Height: h, Samples: samples, Seq: seq, Timestamp: time.Now()}
}

func TestPreview_CopiesFrames(t *testing.T) {
	p := NewPreview()
	if _, ok := p.Latest(); ok {
		t.Fatal("empty preview reported a frame")
	}

	buf := depthFrame(1, 2, 2, 1000)
	p.ConsumeFrame(buf)
	buf.Samples[0] = 0

	snap, ok := p.Latest()
	if !ok || snap.Seq != 1 || snap.Samples[0] != 1000 {
		t.Errorf("Latest() = %+v, %v; want an independent copy of frame 1", snap, ok)
	}
}

func TestPreview_Next(t *testing.T) {
	p := NewPreview()

	got := make(chan uint64, 1)
	go func() {
		snap, err := p.Next(context.Background(), 0)
		if err == nil {
			got <- snap.Seq
		}
	}()

	time.Sleep(10 * time.Millisecond)
	p.ConsumeFrame(depthFrame(5, 1, 1, 1))

	select {
	case seq := <-got:
		if seq != 5 {
			t.Errorf("Next() seq = %d, want 5", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next() did not return after a frame arrived")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Next(ctx, 5); err == nil {
		t.Error("Next() should fail once the context is done and no newer frame exists")
	}
}

func TestStreamHandler_MJPEG(t *testing.T) {
	p := NewPreview()
	p.ConsumeFrame(depthFrame(1, 64, 48, 2000))

	srv := httptest.NewServer(New(Config{Preview: p, Rotation: 270, MaxRange: 4000}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream?width=120&height=160")
	if err != nil {
		t.Fatalf("GET /api/stream error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	for _, want := range []string{"--frame", "Content-Type: image/jpeg"} {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading part header: %v", err)
		}
		if strings.TrimSpace(line) != want {
			t.Errorf("part header = %q, want %q", strings.TrimSpace(line), want)
		}
	}
}

func TestStreamHandler_BadSize(t *testing.T) {
	h := NewStreamHandler(NewPreview(), 270, 0, nil)

	for _, q := range []string{"width=0&height=10", "width=10", "width=abc&height=10"} {
		req := httptest.NewRequest(http.MethodGet, "/api/stream?"+q, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestEventsHandler(t *testing.T) {
	hub := events.NewHub()
	srv := httptest.NewServer(New(Config{Events: hub}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(events.Event{Type: events.TypeTransition, From: "open", To: "session_configuring"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if e.Type != events.TypeTransition || e.To != "session_configuring" {
		t.Errorf("event = %+v", e)
	}
}

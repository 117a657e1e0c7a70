package capture

import (
	"testing"
)

func streamingMock(t *testing.T, frames [][]uint16, loop bool) (*MockPlatform, *BufferQueue) {
	t.Helper()
	p := NewMockPlatform([]SensorDescriptor{depthFront("1")}, frames, loop)
	c := NewController(p, nil, ControllerOptions{Width: 2, Height: 1})
	t.Cleanup(func() { c.Close() })

	// Hold frames in the queue so the test can read them directly.
	p.OnRequest = func(StreamConfig) { c.Dispatcher().Stop() }
	if err := c.Open(depthFront("1")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	reqs := p.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	return p, reqs[0].Target
}

func TestMockPlatform_Playback(t *testing.T) {
	p, q := streamingMock(t, [][]uint16{{1, 1}, {2, 2}}, false)

	if n := p.Emit(5); n != 2 {
		t.Errorf("Emit(5) = %d, want 2 without loop", n)
	}

	for _, want := range []uint16{1, 2} {
		buf, err := q.AcquireNextFrame()
		if err != nil {
			t.Fatalf("AcquireNextFrame() error = %v", err)
		}
		if buf.Samples[0] != want {
			t.Errorf("sample = %d, want %d", buf.Samples[0], want)
		}
		buf.Close()
	}

	p.Reset()
	if n := p.Emit(1); n != 1 {
		t.Errorf("Emit(1) after Reset() = %d, want 1", n)
	}
}

func TestMockPlatform_Loop(t *testing.T) {
	p, q := streamingMock(t, [][]uint16{{9, 9}}, true)

	// Should loop indefinitely
	for i := 0; i < 5; i++ {
		if n := p.Emit(1); n != 1 {
			t.Fatalf("Emit() iteration %d = %d", i, n)
		}
		buf, err := q.AcquireNextFrame()
		if err != nil {
			t.Fatalf("AcquireNextFrame() iteration %d error = %v", i, err)
		}
		buf.Close()
	}
}

func TestMockPlatform_NoFramesBeforeRequest(t *testing.T) {
	p := NewMockPlatform([]SensorDescriptor{depthFront("1")}, nil, true)
	if n := p.Emit(3); n != 0 {
		t.Errorf("Emit() without a session = %d, want 0", n)
	}

	p.HoldConfigure = true
	c := NewController(p, nil, ControllerOptions{Width: 2, Height: 1})
	defer c.Close()
	c.Open(depthFront("1"))

	if n := p.Emit(3); n != 0 {
		t.Errorf("Emit() before the repeating request = %d, want 0", n)
	}
}

func TestMockPlatform_SetFrames(t *testing.T) {
	p, q := streamingMock(t, nil, false)

	// With no frames the mock produces a ramp.
	p.Emit(1)
	buf, err := q.AcquireNextFrame()
	if err != nil {
		t.Fatalf("AcquireNextFrame() error = %v", err)
	}
	if buf.Samples[1] != 1 {
		t.Errorf("ramp sample = %d, want 1", buf.Samples[1])
	}
	buf.Close()

	p.SetFrames([][]uint16{{4, 4}})
	p.Emit(1)
	buf, _ = q.AcquireNextFrame()
	if buf.Samples[0] != 4 {
		t.Errorf("sample = %d, want 4", buf.Samples[0])
	}
	buf.Close()
}

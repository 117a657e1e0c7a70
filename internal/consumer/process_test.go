package consumer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

func scriptConsumer(t *testing.T, script string, every int) *Consumer {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "consumer.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return &Consumer{
		Manifest:   Manifest{Name: "test", Executable: "consumer.sh", Every: every},
		Path:       dir,
		Executable: path,
	}
}

func TestProcess_EchoesResults(t *testing.T) {
	// cat echoes each framed Frame back; it decodes as a Result with the same seq.
	p := NewProcess(scriptConsumer(t, "#!/bin/sh\nexec cat\n", 0), nil)

	var mu sync.Mutex
	var seqs []uint64
	got := make(chan struct{}, 8)
	p.OnResult = func(name string, r Result) {
		mu.Lock()
		seqs = append(seqs, r.Seq)
		mu.Unlock()
		got <- struct{}{}
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()
	p.SetSession("s1")

	for seq := uint64(1); seq <= 3; seq++ {
		p.ConsumeFrame(&capture.FrameBuffer{Width: 2, Height: 1, Samples: []uint16{1, 2}, Seq: seq})
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatalf("no result for frame %d", seq)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Errorf("result seqs = %v, want [1 2 3]", seqs)
	}
	if s := p.Stats(); s.Sent != 3 || s.Results != 3 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestProcess_Decimation(t *testing.T) {
	p := NewProcess(scriptConsumer(t, "#!/bin/sh\nexec cat > /dev/null\n", 3), nil)

	// Not started: selected frames count as dropped, skipped ones do not.
	for seq := uint64(1); seq <= 6; seq++ {
		p.ConsumeFrame(&capture.FrameBuffer{Width: 1, Height: 1, Samples: []uint16{0}, Seq: seq})
	}
	if s := p.Stats(); s.Dropped != 2 || s.Sent != 0 {
		t.Errorf("Stats() = %+v, want 2 dropped", s)
	}
}

func TestProcess_StartFailure(t *testing.T) {
	p := NewProcess(&Consumer{
		Manifest:   Manifest{Name: "missing", Executable: "nope"},
		Path:       t.TempDir(),
		Executable: filepath.Join(t.TempDir(), "nope"),
	}, nil)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start() expected error for missing executable")
	}
	p.Stop()
}

// stallingStdin accepts writes until stall is set, then blocks every write
// until it is closed.
type stallingStdin struct {
	stall    atomic.Bool
	inflight atomic.Int32
	overlap  atomic.Bool
	blocked  chan struct{}
	closed   chan struct{}
	once     sync.Once

	mu  sync.Mutex
	buf bytes.Buffer
}

func newStallingStdin() *stallingStdin {
	return &stallingStdin{blocked: make(chan struct{}, 1), closed: make(chan struct{})}
}

func (w *stallingStdin) Write(b []byte) (int, error) {
	if w.inflight.Add(1) > 1 {
		w.overlap.Store(true)
	}
	defer w.inflight.Add(-1)

	if w.stall.Load() {
		select {
		case w.blocked <- struct{}{}:
		default:
		}
		<-w.closed
		return 0, io.ErrClosedPipe
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(b)
}

func (w *stallingStdin) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

func TestProcess_StalledConsumerKeepsFraming(t *testing.T) {
	p := NewProcess(&Consumer{Manifest: Manifest{Name: "slow"}}, nil)
	p.writeTimeout = 50 * time.Millisecond

	stdin := newStallingStdin()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	killed := make(chan struct{})
	var killOnce sync.Once
	p.stdin = stdin
	p.input = make(chan Frame, inputDepth)
	// Killing the process closes its stdin.
	p.cancel = func() {
		killOnce.Do(func() { close(killed) })
		stdin.Close()
		cancel()
	}

	p.wg.Add(1)
	go p.writeFrames(ctx)

	frame := func(seq uint64) Frame {
		return Frame{Seq: seq, Width: 2, Height: 1, Depth: EncodeDepth([]uint16{uint16(seq), 0})}
	}
	p.input <- frame(1)
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Sent != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first frame was not written")
		}
		time.Sleep(time.Millisecond)
	}

	stdin.stall.Store(true)
	p.input <- frame(2)
	select {
	case <-stdin.blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("second frame never reached stdin")
	}
	p.input <- frame(3)

	select {
	case <-killed:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled consumer was not killed")
	}
	p.wg.Wait()

	if stdin.overlap.Load() {
		t.Error("a write started while another was pending")
	}

	stdin.mu.Lock()
	r := bytes.NewReader(stdin.buf.Bytes())
	stdin.mu.Unlock()
	var got Frame
	if err := ReadMessage(r, &got); err != nil || got.Seq != 1 {
		t.Fatalf("first message = %+v, %v", got, err)
	}
	if err := ReadMessage(r, &got); !errors.Is(err, io.EOF) {
		t.Errorf("stream after stall: err = %v, want clean EOF", err)
	}
	if s := p.Stats(); s.Sent != 1 || s.Dropped == 0 {
		t.Errorf("Stats() = %+v, want 1 sent and the stalled frame dropped", s)
	}
}

package consumer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

const (
	inputDepth   = 2
	writeTimeout = 2 * time.Second
	stopTimeout  = 2 * time.Second
)

// ProcessStats counts frames handed to a consumer process.
type ProcessStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Results uint64 `json:"results"`
}

// Process runs a consumer executable and streams frames to it.
// ConsumeFrame never blocks; frames are dropped while the process is busy
// and a process that stops reading is killed.
type Process struct {
	consumer *Consumer
	logger   *slog.Logger

	// OnResult, when set, receives every result the process writes.
	OnResult func(name string, r Result)

	writeTimeout time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	input  chan Frame
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reads  sync.WaitGroup
	done   chan struct{}
	active atomic.Bool

	session atomic.Value // string
	seen    atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
	results atomic.Uint64
}

// NewProcess prepares c for running.
func NewProcess(c *Consumer, logger *slog.Logger) *Process {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Process{
		consumer:     c,
		logger:       logger.With("consumer", c.Manifest.Name),
		writeTimeout: writeTimeout,
	}
	p.session.Store("")
	return p
}

// Name returns the consumer name.
func (p *Process) Name() string {
	return p.consumer.Manifest.Name
}

// SetSession tags subsequent frames with a session ID.
func (p *Process) SetSession(id string) {
	p.session.Store(id)
}

// Start spawns the consumer process.
func (p *Process) Start(ctx context.Context) error {
	if p.active.Load() {
		return errors.New("consumer already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, p.consumer.Executable, p.consumer.Manifest.Args...)
	cmd.Dir = p.consumer.Path

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.cancel = cancel
	p.input = make(chan Frame, inputDepth)
	p.done = make(chan struct{})
	p.active.Store(true)

	p.logger.Info("consumer started", "pid", cmd.Process.Pid)

	p.wg.Add(1)
	go p.writeFrames(ctx)
	p.reads.Add(2)
	go p.readResults(stdout)
	go p.logStderr(stderr)

	// Wait closes the pipes, so it runs only after both readers hit EOF.
	go func() {
		p.reads.Wait()
		err := cmd.Wait()
		p.active.Store(false)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("consumer exited", "error", err)
		}
		close(p.done)
	}()

	return nil
}

// ConsumeFrame copies buf and queues it for the process.
func (p *Process) ConsumeFrame(buf *capture.FrameBuffer) {
	n := p.seen.Add(1)
	if every := p.consumer.Manifest.Every; every > 1 && (n-1)%uint64(every) != 0 {
		return
	}
	if !p.active.Load() {
		p.dropped.Add(1)
		return
	}

	frame := Frame{
		SessionID: p.session.Load().(string),
		Seq:       buf.Seq,
		Timestamp: buf.Timestamp,
		Width:     buf.Width,
		Height:    buf.Height,
		Depth:     EncodeDepth(buf.Samples),
	}

	select {
	case p.input <- frame:
	default:
		p.dropped.Add(1)
	}
}

func (p *Process) writeFrames(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.input:
			if err := p.write(frame); err != nil {
				p.dropped.Add(1)
				p.logger.Warn("failed to send frame to consumer", "seq", frame.Seq, "error", err)
				continue
			}
			p.sent.Add(1)
		}
	}
}

// write sends one frame on stdin. writeFrames is the only caller, so
// messages never interleave. A consumer that stalls a write for longer than
// writeTimeout is killed, which fails the pending write.
func (p *Process) write(frame Frame) error {
	stall := time.AfterFunc(p.writeTimeout, func() {
		p.logger.Error("consumer stalled reading frames, killing", "seq", frame.Seq, "timeout", p.writeTimeout)
		p.cancel()
	})
	defer stall.Stop()
	return WriteMessage(p.stdin, frame)
}

func (p *Process) readResults(stdout io.Reader) {
	defer p.reads.Done()

	r := bufio.NewReader(stdout)
	for {
		var res Result
		if err := ReadMessage(r, &res); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Debug("consumer output closed", "error", err)
			}
			return
		}
		p.results.Add(1)
		if p.OnResult != nil {
			p.OnResult(p.Name(), res)
		}
	}
}

func (p *Process) logStderr(stderr io.Reader) {
	defer p.reads.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		p.logger.Debug("consumer stderr", "line", scanner.Text())
	}
}

// Stop closes stdin and waits for the process to exit, killing it after a
// timeout.
func (p *Process) Stop() {
	if p.cmd == nil {
		return
	}
	p.active.Store(false)
	p.stdin.Close()

	select {
	case <-p.done:
	case <-time.After(stopTimeout):
		p.logger.Warn("consumer did not exit, killing")
		p.cancel()
		<-p.done
	}
	p.cancel()
	p.wg.Wait()
	p.cmd = nil

	p.logger.Info("consumer stopped", "sent", p.sent.Load(), "dropped", p.dropped.Load())
}

// Stats returns delivery counters.
func (p *Process) Stats() ProcessStats {
	return ProcessStats{
		Sent:    p.sent.Load(),
		Dropped: p.dropped.Load(),
		Results: p.results.Load(),
	}
}

package capture

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// FrameConsumer receives depth frames. The buffer is only valid for the
// duration of the call; implementations that need the data later must copy it.
type FrameConsumer interface {
	ConsumeFrame(buf *FrameBuffer)
}

// ConsumerFunc adapts a function to FrameConsumer.
type ConsumerFunc func(buf *FrameBuffer)

// ConsumeFrame calls f(buf).
func (f ConsumerFunc) ConsumeFrame(buf *FrameBuffer) { f(buf) }

// DispatchStats counts dispatcher outcomes.
type DispatchStats struct {
	Delivered uint64 `json:"delivered"`
	Skipped   uint64 `json:"skipped"`
	Panics    uint64 `json:"panics"`
}

// FrameDispatcher moves frames from a BufferQueue to a FrameConsumer, one
// buffer per frame-available notification.
type FrameDispatcher struct {
	consumer FrameConsumer
	logger   *slog.Logger

	dispatchMu sync.Mutex

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool

	delivered atomic.Uint64
	skipped   atomic.Uint64
	panics    atomic.Uint64
}

// NewFrameDispatcher creates a dispatcher delivering to consumer.
func NewFrameDispatcher(consumer FrameConsumer, logger *slog.Logger) *FrameDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameDispatcher{
		consumer: consumer,
		logger:   logger,
	}
}

// OnFrameAvailable acquires one frame, hands it to the consumer and releases
// it on every exit path. A wake with no ready frame does nothing.
func (d *FrameDispatcher) OnFrameAvailable(q *BufferQueue) {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	buf, err := q.AcquireNextFrame()
	if err != nil {
		if !errors.Is(err, ErrNoBuffer) && !errors.Is(err, ErrQueueClosed) {
			d.skipped.Add(1)
			d.logger.Warn("acquire frame failed", "error", err)
		}
		return
	}
	defer func() {
		if err := buf.Close(); err != nil {
			d.logger.Error("release frame failed", "seq", buf.Seq, "error", err)
		}
	}()

	if !buf.Valid() {
		d.skipped.Add(1)
		d.logger.Warn("skipping corrupt frame",
			"seq", buf.Seq,
			"width", buf.Width,
			"height", buf.Height,
			"samples", len(buf.Samples))
		return
	}

	d.deliver(buf)
}

func (d *FrameDispatcher) deliver(buf *FrameBuffer) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("frame consumer panicked", "seq", buf.Seq, "panic", r)
		}
	}()

	if d.consumer != nil {
		d.consumer.ConsumeFrame(buf)
	}
	d.delivered.Add(1)
}

// Start runs the dispatch loop for q on its own goroutine.
// Calling Start while running is a no-op.
func (d *FrameDispatcher) Start(q *BufferQueue) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.loop(q, d.stop)
}

func (d *FrameDispatcher) loop(q *BufferQueue, stop <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-q.Available():
			d.OnFrameAvailable(q)
		}
	}
}

// Stop ends the dispatch loop and waits for any in-flight dispatch to
// release its buffer.
func (d *FrameDispatcher) Stop() {
	d.mu.Lock()
	if d.running {
		close(d.stop)
		d.running = false
	}
	d.mu.Unlock()

	d.wg.Wait()

	// Wait out a direct OnFrameAvailable call as well.
	d.dispatchMu.Lock()
	d.dispatchMu.Unlock()
}

// Running reports whether the dispatch loop is active.
func (d *FrameDispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stats returns a snapshot of the dispatch counters.
func (d *FrameDispatcher) Stats() DispatchStats {
	return DispatchStats{
		Delivered: d.delivered.Load(),
		Skipped:   d.skipped.Load(),
		Panics:    d.panics.Load(),
	}
}

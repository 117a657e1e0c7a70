package capture

import (
	"fmt"
	"sync"
	"time"
)

// DEPTH16 sample layout: the low 13 bits hold the range in millimetres and
// the high 3 bits hold the confidence code.
const (
	depthRangeMask      = 0x1FFF
	depthConfidenceBits = 13
)

type bufferState int

const (
	bufferFree bufferState = iota
	bufferFilling
	bufferReady
	bufferAcquired
)

// FrameBuffer is a single DEPTH16 frame owned by a BufferQueue.
// A consumer holds it for the duration of one dispatch and must release it
// exactly once with Close. Every AcquireNextFrame returns a new handle, so
// closing a stale handle fails even after its slot has been reused.
type FrameBuffer struct {
	Width     int
	Height    int
	Samples   []uint16
	Seq       uint64
	Timestamp time.Time

	q       *BufferQueue
	state   bufferState
	backing []uint16
	// slot is the pooled buffer behind an acquired handle; gen is the slot
	// generation the handle was issued for.
	slot *FrameBuffer
	gen  uint64
}

// Valid reports whether the sample slice matches the frame dimensions.
func (b *FrameBuffer) Valid() bool {
	return b.Width > 0 && b.Height > 0 && len(b.Samples) == b.Width*b.Height
}

// Range returns the depth at (x, y) in millimetres.
func (b *FrameBuffer) Range(x, y int) uint16 {
	return b.Samples[y*b.Width+x] & depthRangeMask
}

// Confidence returns the confidence at (x, y) in [0, 1].
// A code of 0 means full confidence.
func (b *FrameBuffer) Confidence(x, y int) float64 {
	code := b.Samples[y*b.Width+x] >> depthConfidenceBits
	if code == 0 {
		return 1
	}
	return float64(code-1) / 7
}

// Close returns the buffer to its queue.
func (b *FrameBuffer) Close() error {
	if b.q == nil {
		return ErrBufferReleased
	}
	return b.q.release(b)
}

// BufferQueue is a bounded pool of frame buffers shared between a producer
// (the platform) and a single consumer. When the consumer falls behind the
// oldest ready frame is recycled, so memory and latency stay bounded.
type BufferQueue struct {
	width     int
	height    int
	maxImages int

	mu       sync.Mutex
	free     []*FrameBuffer
	ready    []*FrameBuffer
	acquired int
	seq      uint64
	dropped  uint64
	closed   bool

	available chan struct{}
}

// NewBufferQueue allocates maxImages buffers of width x height samples.
func NewBufferQueue(width, height, maxImages int) *BufferQueue {
	if maxImages <= 0 {
		maxImages = DefaultQueueDepth
	}
	q := &BufferQueue{
		width:     width,
		height:    height,
		maxImages: maxImages,
		available: make(chan struct{}, maxImages),
	}
	for i := 0; i < maxImages; i++ {
		samples := make([]uint16, width*height)
		q.free = append(q.free, &FrameBuffer{
			Width:   width,
			Height:  height,
			Samples: samples,
			q:       q,
			backing: samples,
		})
	}
	return q
}

// Width returns the frame width.
func (q *BufferQueue) Width() int { return q.width }

// Height returns the frame height.
func (q *BufferQueue) Height() int { return q.height }

// MaxImages returns the queue depth.
func (q *BufferQueue) MaxImages() int { return q.maxImages }

// Available signals once per queued frame. Notifications may outnumber
// ready frames when a frame is recycled before it was acquired.
func (q *BufferQueue) Available() <-chan struct{} {
	return q.available
}

// Dequeue hands the producer an empty buffer to fill. If every buffer is
// ready, the oldest ready frame is dropped and reused. It returns false when
// all buffers are held by the consumer or the queue is closed.
func (q *BufferQueue) Dequeue() (*FrameBuffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}

	var buf *FrameBuffer
	switch {
	case len(q.free) > 0:
		buf = q.free[0]
		q.free = q.free[1:]
	case len(q.ready) > 0:
		buf = q.ready[0]
		q.ready = q.ready[1:]
		q.dropped++
	default:
		q.dropped++
		return nil, false
	}

	buf.Width, buf.Height = q.width, q.height
	buf.Samples = buf.backing
	buf.Timestamp = time.Time{}
	buf.state = bufferFilling
	return buf, true
}

// Queue publishes a filled buffer to the consumer.
func (q *BufferQueue) Queue(buf *FrameBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if buf.q != q || buf.state != bufferFilling {
		return fmt.Errorf("queue buffer: not dequeued from this queue")
	}
	if q.closed {
		buf.state = bufferFree
		q.free = append(q.free, buf)
		return ErrQueueClosed
	}

	q.seq++
	buf.Seq = q.seq
	if buf.Timestamp.IsZero() {
		buf.Timestamp = time.Now()
	}
	buf.state = bufferReady
	q.ready = append(q.ready, buf)

	select {
	case q.available <- struct{}{}:
	default:
	}
	return nil
}

// Cancel returns a dequeued buffer without publishing it.
func (q *BufferQueue) Cancel(buf *FrameBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if buf.q != q || buf.state != bufferFilling {
		return
	}
	buf.state = bufferFree
	q.free = append(q.free, buf)
}

// AcquireNextFrame takes the oldest ready frame. The caller must Close it.
func (q *BufferQueue) AcquireNextFrame() (*FrameBuffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if q.acquired >= q.maxImages {
		return nil, ErrMaxBuffersAcquired
	}
	if len(q.ready) == 0 {
		return nil, ErrNoBuffer
	}

	slot := q.ready[0]
	q.ready = q.ready[1:]
	slot.state = bufferAcquired
	slot.gen++
	q.acquired++

	buf := *slot
	buf.slot = slot
	return &buf, nil
}

func (q *BufferQueue) release(buf *FrameBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot := buf.slot
	if slot == nil || slot.state != bufferAcquired || slot.gen != buf.gen {
		return ErrBufferReleased
	}
	slot.state = bufferFree
	q.acquired--
	q.free = append(q.free, slot)
	return nil
}

// Acquired returns the number of buffers currently held by the consumer.
func (q *BufferQueue) Acquired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acquired
}

// Dropped returns the number of frames lost to backpressure.
func (q *BufferQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops the queue. Ready frames are discarded; acquired buffers may
// still be released.
func (q *BufferQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, buf := range q.ready {
		buf.state = bufferFree
		q.free = append(q.free, buf)
	}
	q.ready = nil
}

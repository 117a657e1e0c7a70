package server

import (
	"context"
	"sync"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

// Snapshot is a copy of one delivered depth frame.
type Snapshot struct {
	Width     int
	Height    int
	Samples   []uint16
	Seq       uint64
	Timestamp time.Time
}

// Preview keeps a copy of the latest frame for the stream endpoint.
type Preview struct {
	mu      sync.Mutex
	latest  Snapshot
	have    bool
	updated chan struct{}
}

// NewPreview creates an empty Preview.
func NewPreview() *Preview {
	return &Preview{updated: make(chan struct{})}
}

// ConsumeFrame implements capture.FrameConsumer.
func (p *Preview) ConsumeFrame(buf *capture.FrameBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Readers may still hold the previous slice.
	samples := make([]uint16, len(buf.Samples))
	copy(samples, buf.Samples)

	p.latest = Snapshot{
		Width:     buf.Width,
		Height:    buf.Height,
		Samples:   samples,
		Seq:       buf.Seq,
		Timestamp: buf.Timestamp,
	}
	p.have = true
	close(p.updated)
	p.updated = make(chan struct{})
}

// Latest returns the most recent frame, if any.
func (p *Preview) Latest() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.have
}

// Next blocks until a frame newer than seq arrives or ctx is done.
func (p *Preview) Next(ctx context.Context, seq uint64) (Snapshot, error) {
	for {
		p.mu.Lock()
		if p.have && p.latest.Seq != seq {
			snap := p.latest
			p.mu.Unlock()
			return snap, nil
		}
		updated := p.updated
		p.mu.Unlock()

		select {
		case <-updated:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}

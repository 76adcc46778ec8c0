package ui

import (
	"context"
	"sync"
	"time"
)

// Buffer levels in bytes that steer the render size.
const (
	minBuffered = 9600
	maxBuffered = 19200
)

// RenderPeriod is how often the renderer produces a chunk.
const RenderPeriod = 10 * time.Millisecond

// Source produces interleaved stereo samples. *board.Board implements it.
type Source interface {
	Render(frames int) []int16
}

// Sink accepts rendered samples and reports how much is still queued.
// *Player implements it.
type Sink interface {
	Queue(samples []int16)
	Buffered() int
}

// Renderer pulls audio from a Source on a fixed period and feeds a Sink.
// The chunk size is nudged up when the sink runs low and down when it
// backs up, so output tracks the device clock rather than the ticker.
type Renderer struct {
	src  Source
	out  Sink
	rate int

	mu     sync.Mutex
	paused bool
	frames uint64
}

// NewRenderer creates a renderer at sampleRate frames per second.
func NewRenderer(src Source, out Sink, sampleRate int) *Renderer {
	return &Renderer{src: src, out: out, rate: sampleRate}
}

// Run renders until ctx is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	t := time.NewTicker(RenderPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.step()
		}
	}
}

// chunk returns the frames to render for one period given the sink level.
func (r *Renderer) chunk(buffered int) int {
	n := r.rate * int(RenderPeriod/time.Millisecond) / 1000
	switch {
	case buffered < minBuffered:
		n += n / 10
	case buffered > maxBuffered:
		n -= n / 10
	}
	return n
}

func (r *Renderer) step() {
	r.mu.Lock()
	paused := r.paused
	r.mu.Unlock()
	if paused {
		return
	}

	n := r.chunk(r.out.Buffered())
	r.out.Queue(r.src.Render(n))

	r.mu.Lock()
	r.frames += uint64(n)
	r.mu.Unlock()
}

// Pause stops rendering. The chips hold their state and the device plays
// silence.
func (r *Renderer) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

// Resume restarts rendering after Pause.
func (r *Renderer) Resume() {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
}

// Paused reports whether rendering is paused.
func (r *Renderer) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Frames returns the total frames rendered.
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

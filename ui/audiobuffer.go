package ui

import (
	"io"
	"sync"
)

// Ring is a byte FIFO between the render goroutine and the audio
// device. Writes never block and drop the oldest bytes on overflow.
// Reads never block either: a short ring is padded with silence so the
// device keeps running while the firmware is idle.
type Ring struct {
	mu        sync.Mutex
	buf       []byte
	head      int
	n         int
	closed    bool
	underruns int
}

// NewRing creates a ring holding up to capacity bytes. capacity should
// be a multiple of the 4-byte stereo frame.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p and returns the number of old bytes it displaced.
func (r *Ring) Write(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(p) == 0 {
		return 0
	}

	size := len(r.buf)
	dropped := 0
	if len(p) > size {
		dropped = len(p) - size
		p = p[dropped:]
	}
	if over := r.n + len(p) - size; over > 0 {
		r.head = (r.head + over) % size
		r.n -= over
		dropped += over
	}

	tail := (r.head + r.n) % size
	k := copy(r.buf[tail:], p)
	copy(r.buf, p[k:])
	r.n += len(p)
	return dropped
}

// Read fills p from the ring and pads any shortfall with zeros. It
// returns io.EOF once the ring is closed and drained.
func (r *Ring) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed && r.n == 0 {
		return 0, io.EOF
	}

	size := len(r.buf)
	n := min(len(p), r.n)
	k := copy(p[:n], r.buf[r.head:min(r.head+n, size)])
	copy(p[k:n], r.buf)
	r.head = (r.head + n) % size
	r.n -= n

	if n < len(p) {
		clear(p[n:])
		if !r.closed {
			r.underruns++
		}
	}
	return len(p), nil
}

// Buffered returns the bytes waiting to be read.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Underruns returns how many reads were padded with silence.
func (r *Ring) Underruns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.underruns
}

// Reset discards all buffered bytes.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.head = 0
	r.n = 0
	r.mu.Unlock()
}

// Close stops accepting writes. Buffered bytes can still be read.
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

package firmware

import (
	"github.com/pkg/errors"
)

// MaxPoints is the capacity of an envelope.
const MaxPoints = 12

// NoIndex disables the sustain or loop point of an envelope.
const NoIndex = 0xFF

// Point is one breakpoint of an envelope.
type Point struct {
	Tick  uint16
	Value float32
}

// Envelope is a piecewise-linear curve over scheduler ticks with an
// optional sustain hold point and an optional loop section that repeats
// while the note is held.
type Envelope struct {
	Points    [MaxPoints]Point
	Count     uint8
	Sustain   uint8
	LoopStart uint8
	LoopEnd   uint8
}

// NewEnvelope builds an envelope from points with no sustain or loop.
func NewEnvelope(points ...Point) Envelope {
	e := Envelope{Sustain: NoIndex, LoopStart: NoIndex, LoopEnd: NoIndex}
	e.Count = uint8(copy(e.Points[:], points))
	return e
}

// Validate checks the point count, tick ordering and index ranges.
func (e *Envelope) Validate() error {
	if e.Count > MaxPoints {
		return errors.Errorf("envelope has %d points (max %d)", e.Count, MaxPoints)
	}
	for i := 1; i < int(e.Count); i++ {
		if e.Points[i].Tick < e.Points[i-1].Tick {
			return errors.Errorf("envelope point %d tick %d precedes point %d tick %d",
				i, e.Points[i].Tick, i-1, e.Points[i-1].Tick)
		}
	}
	for _, idx := range []uint8{e.Sustain, e.LoopStart, e.LoopEnd} {
		if idx != NoIndex && idx >= e.Count {
			return errors.Errorf("envelope index %d out of range (%d points)", idx, e.Count)
		}
	}
	return nil
}

// Done reports whether the cursor sits on the final point.
func (e *Envelope) Done(point uint8) bool {
	return e.Count == 0 || int(point) >= int(e.Count)-1
}

// Advance moves the cursors forward one tick and returns the envelope
// value at the new position. The cursor holds on the sustain point while
// the note is held and on the last point forever. Reaching LoopEnd while
// held jumps back to LoopStart.
func (e *Envelope) Advance(tick *uint16, point *uint8, released bool) float64 {
	p := *point
	if (p == e.Sustain && !released) || e.Done(p) {
		return float64(e.Points[p].Value)
	}

	*tick++
	next := e.Points[p+1]
	if *tick >= next.Tick {
		p++
		if p == e.LoopEnd && e.LoopStart < MaxPoints && !released {
			p = e.LoopStart
			*tick = e.Points[p].Tick
		}
		*point = p
		return float64(e.Points[p].Value)
	}

	a := e.Points[p]
	if *tick <= a.Tick {
		return float64(a.Value)
	}
	frac := float64(*tick-a.Tick) / float64(next.Tick-a.Tick)
	return float64(a.Value) + float64(next.Value-a.Value)*frac
}

package firmware

import (
	"math"
	"time"
)

// fadeUnitUs is the fade length per step of release velocity below 127.
const fadeUnitUs = 1_000_000 / 64

// tick advances every channel by one scheduler period. Must hold s.mu.
func (s *Synth) tick(now uint64) {
	for i := 0; i < s.active; i++ {
		c := &s.channels[i]
		switch {
		case c.instrument != nil:
			s.stepInstrument(i)
		case c.fading():
			s.stepFade(i, now)
		}
	}
}

// stepInstrument advances each envelope track of channel i and finishes
// the voice once nothing is left to play.
func (s *Synth) stepInstrument(i int) {
	c := &s.channels[i]
	patch := c.instrument

	done := true
	for t := Track(0); t < numTracks; t++ {
		env := &patch.Envelopes[t]
		if env.Count == 0 {
			if c.tick[t] == 0 {
				c.tick[t] = 1
				s.writeStatic(i, t)
			}
			continue
		}
		v := env.Advance(&c.tick[t], &c.point[t], c.released)
		s.writeTrack(i, t, v)
		if !env.Done(c.point[t]) {
			done = false
		}
	}

	if patch.Envelopes[TrackVolume].Count == 0 {
		done = c.released
	}
	if done {
		s.finishVoice(i)
	}
}

// bendOf returns the pitch bend applying to channel i.
func (s *Synth) bendOf(i int) float64 {
	if s.mode == ModeMono {
		if i < MIDIChannels {
			return s.bend[i]
		}
		return 0
	}
	if mc := s.alloc.owner(i); mc != free {
		return s.bend[mc]
	}
	return 0
}

// writeTrack stores an envelope value in channel i and queues the
// matching chip write.
func (s *Synth) writeTrack(i int, t Track, v float64) {
	c := &s.channels[i]
	switch t {
	case TrackVolume:
		c.amplitude = clampFloat(v*c.level, 0, 1)
		s.queueVolume(i, false)
	case TrackPan:
		pan := clampFloat(v, -1, 1)
		if pan != c.pan {
			c.pan = pan
			if s.dual {
				s.queueVolume(i, true)
			}
		}
	case TrackFrequency:
		c.pitchOffset = v
		c.frequency = bendFrequency(c.baseFreq, s.bendOf(i)+v)
		s.queueFrequency(i)
	case TrackDuty:
		c.duty = clampFloat(v, 0, 1)
		if c.wave == WaveSquare {
			s.queueWave(i)
		}
	case TrackCutoff:
		c.cutoff = clampFloat(v, 0, CutoffMax)
		s.queueFilter(i)
	case TrackResonance:
		c.resonance = clampFloat(v, 0, 1)
		s.queueFilter(i)
	}
}

// writeStatic sends the channel's current value for a track that has no
// envelope points.
func (s *Synth) writeStatic(i int, t Track) {
	c := &s.channels[i]
	switch t {
	case TrackVolume:
		c.amplitude = clampFloat(c.level, 0, 1)
		s.queueVolume(i, true)
	case TrackPan:
		if s.dual {
			s.queueVolume(i, true)
		}
	case TrackFrequency:
		s.queueFrequency(i)
	case TrackDuty:
		if c.wave == WaveSquare {
			s.queueWave(i)
		}
	case TrackCutoff, TrackResonance:
		s.queueFilter(i)
	}
}

// finishVoice detaches the instrument from channel i, turns its
// waveform off and frees the note once the whole chain is quiet.
func (s *Synth) finishVoice(i int) {
	c := &s.channels[i]
	c.clearInstrument()
	c.wave = WaveNone
	s.queueWave(i)
	s.settleChain(c.head)
}

// stepFade moves channel i along its linear fade.
func (s *Synth) stepFade(i int, now uint64) {
	c := &s.channels[i]
	var elapsed uint64
	if now > c.fadeStart {
		elapsed = now - c.fadeStart
	}

	if elapsed >= c.fadeLength {
		c.amplitude = clampFloat(c.fadeInit+float64(c.fadeDirection), 0, 1)
		release := c.fadeRelease
		c.clearFade()
		s.queueVolume(i, false)
		if release {
			s.settleChain(c.head)
		}
		return
	}

	frac := float64(elapsed) / float64(c.fadeLength)
	c.amplitude = clampFloat(c.fadeInit+frac*float64(c.fadeDirection), 0, 1)
	s.queueVolume(i, false)
}

// FadeVelocity returns the Note Off velocity that requests a fade of
// roughly d. Fades are quantized to 1/64 s and capped just under two
// seconds; a zero duration is a plain release.
func FadeVelocity(d time.Duration) uint8 {
	if d <= 0 {
		return 127
	}
	steps := math.Floor(math.Min(d.Seconds(), 126.0/64) * 64)
	if steps < 1 {
		steps = 1
	}
	return uint8(127 - steps)
}

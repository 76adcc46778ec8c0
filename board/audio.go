package board

import (
	"math"

	"github.com/user-none/go-chip-sn76489"
)

const (
	// SampleRate is the output rate of Render.
	SampleRate    = 48000
	psgClockHz    = 3579545
	psgBufferSize = 4096
	psgGain       = 1898.0 / 4
	lpfCutoffHz   = 4000.0
)

// lpfAlpha is the smoothing factor for the first-order RC output filter.
// Derived from: alpha = dt / (RC + dt) where RC = 1/(2*pi*fc).
var lpfAlpha = 1.0 / (float64(SampleRate)/(2*math.Pi*lpfCutoffHz) + 1)

// mixer renders every chip's tone generator into one stereo stream.
type mixer struct {
	stereo   bool
	cycleAcc float64
	buf      []int16
	prevL    float64
	prevR    float64
}

// EnableAudio attaches a tone generator to every chip so Render produces
// sound. On stereo boards even chips feed the left output and odd chips
// the right; otherwise every chip feeds both.
func (b *Board) EnableAudio() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mixer != nil {
		return
	}
	for _, c := range b.chips {
		c.psg = sn76489.New(psgClockHz, SampleRate, psgBufferSize, sn76489.Sega)
		c.psg.SetGain(psgGain)
		c.sound()
	}
	b.mixer = &mixer{stereo: b.rev.Stereo}
}

// Render produces frames of 16-bit stereo PCM. It returns nil until
// EnableAudio has been called.
func (b *Board) Render(frames int) []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.mixer
	if m == nil || frames <= 0 {
		return nil
	}

	m.cycleAcc += float64(frames) * psgClockHz / SampleRate
	cycles := int(m.cycleAcc)
	m.cycleAcc -= float64(cycles)

	mixL := make([]float64, frames)
	mixR := make([]float64, frames)
	for i, c := range b.chips {
		c.psg.Run(cycles)
		samples, n := c.psg.GetBuffer()
		n = min(n, frames)
		for k := 0; k < n; k++ {
			v := float64(samples[k])
			switch {
			case !m.stereo:
				mixL[k] += v
				mixR[k] += v
			case i%2 == 0:
				mixL[k] += v
			default:
				mixR[k] += v
			}
		}
		c.psg.ResetBuffer()
	}

	m.buf = m.buf[:0]
	for k := 0; k < frames; k++ {
		m.prevL = lpfAlpha*mixL[k] + (1-lpfAlpha)*m.prevL
		m.prevR = lpfAlpha*mixR[k] + (1-lpfAlpha)*m.prevR
		m.buf = append(m.buf, clampSample(m.prevL), clampSample(m.prevR))
	}
	return m.buf
}

func clampSample(v float64) int16 {
	return int16(math.Round(math.Max(-32768, math.Min(32767, v))))
}

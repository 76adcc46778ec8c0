package firmware

import "math"

// WaveType is the oscillator waveform of a channel.
type WaveType uint8

const (
	WaveNone WaveType = iota
	WaveSine
	WaveTriangle
	WaveSawtooth
	WaveReverseSawtooth
	WaveSquare
	WaveNoise
	WaveCustom
	WavePitchedNoise
)

// chipWaveCodes translates WaveType into the chip's waveform numbering.
var chipWaveCodes = [...]byte{0, 5, 4, 2, 3, 1, 6, 0, 6}

// ChipCodeSquare is the chip waveform code that takes a duty byte.
const ChipCodeSquare = 1

// ChipCode returns the chip waveform number for w.
func (w WaveType) ChipCode() byte {
	if int(w) >= len(chipWaveCodes) {
		return 0
	}
	return chipWaveCodes[w]
}

// Valid reports whether w is a known waveform.
func (w WaveType) Valid() bool {
	return w <= WavePitchedNoise
}

func (w WaveType) String() string {
	switch w {
	case WaveNone:
		return "none"
	case WaveSine:
		return "sine"
	case WaveTriangle:
		return "triangle"
	case WaveSawtooth:
		return "sawtooth"
	case WaveReverseSawtooth:
		return "rsawtooth"
	case WaveSquare:
		return "square"
	case WaveNoise:
		return "noise"
	case WaveCustom:
		return "custom"
	case WavePitchedNoise:
		return "pitched_noise"
	}
	return "unknown"
}

// Track indexes the six envelope-driven parameters of a patch.
type Track int

const (
	TrackVolume Track = iota
	TrackPan
	TrackFrequency
	TrackDuty
	TrackCutoff
	TrackResonance
	numTracks
)

// CutoffMax is the filter cutoff that bypasses the filter.
const CutoffMax = 20000.0

// noChannel marks an empty channel link or allocation slot.
const noChannel = -1

// channel is the state of one physical synthesis voice.
type channel struct {
	wave      WaveType
	duty      float64
	frequency uint32 // Hz, before clock scaling
	amplitude float64
	pan       float64
	cutoff    float64
	resonance float64

	// Linear fade, mutually exclusive with instrument
	fadeInit      float64
	fadeStart     uint64
	fadeLength    uint64 // microseconds; 0 = no fade
	fadeDirection int
	fadeRelease   bool // fade was triggered by a note release

	instrument *Patch
	program    int
	tick       [numTracks]uint16
	point      [numTracks]uint8
	released   bool

	linked int // next channel of the note's chain
	head   int // first channel of the note's chain
	note   uint8

	baseFreq    float64 // Hz before pitch bend and pitch envelope
	pitchOffset float64 // semitones from the frequency envelope
	level       float64 // velocity scale applied to the volume envelope
}

func (c *channel) reset() {
	*c = channel{
		duty:      0.5,
		amplitude: 1.0,
		cutoff:    CutoffMax,
		program:   -1,
		linked:    noChannel,
		head:      noChannel,
		level:     1.0,
	}
}

func (c *channel) fading() bool {
	return c.fadeLength > 0
}

func (c *channel) clearFade() {
	c.fadeLength = 0
	c.fadeStart = 0
	c.fadeInit = 0
	c.fadeDirection = 0
	c.fadeRelease = false
}

// clearInstrument detaches the patch and rewinds the envelope cursors.
func (c *channel) clearInstrument() {
	c.instrument = nil
	c.program = -1
	c.released = false
	c.tick = [numTracks]uint16{}
	c.point = [numTracks]uint8{}
	c.pitchOffset = 0
}

// idle reports whether nothing is driving the channel's output.
func (c *channel) idle() bool {
	return c.instrument == nil && !c.fading()
}

// noteFrequency is the equal-tempered frequency of a (fractional) MIDI note.
func noteFrequency(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

// bendFrequency applies a semitone offset to base and rounds to whole Hz.
func bendFrequency(base, semitones float64) uint32 {
	f := math.Round(base * math.Pow(2, semitones/12))
	if f < 0 {
		return 0
	}
	if f > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint32(f)
}

// ChannelState is a read-only copy of one channel for diagnostics.
type ChannelState struct {
	Index     int     `json:"index"`
	Wave      string  `json:"wave"`
	Duty      float64 `json:"duty"`
	Frequency uint32  `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
	Pan       float64 `json:"pan"`
	Cutoff    float64 `json:"cutoff"`
	Resonance float64 `json:"resonance"`
	Program   int     `json:"program"`
	Released  bool    `json:"released"`
	Fading    bool    `json:"fading"`
	Linked    int     `json:"linked"`
	Note      uint8   `json:"note"`
	Owner     int     `json:"owner"`
}

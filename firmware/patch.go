package firmware

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"

	"github.com/pkg/errors"
)

// BankSize is the number of patches, one per MIDI program.
const BankSize = 128

// Patch describes a waveform plus six parameter envelopes.
//
// Envelope values by track: volume 0..1 (scaled by note velocity), pan
// -1..1, frequency in semitones relative to the note, duty 0..1, cutoff
// in Hz, resonance 0..1. A track with no points holds the channel's own
// value instead.
type Patch struct {
	Envelopes [numTracks]Envelope
	Wave      WaveType
	Linked    uint8 // Program also triggered by this patch, 0 = none
	Detune    int8  // Semitones
}

// Bank is the in-memory patch table.
type Bank [BankSize]Patch

// PatchRecordSize is the encoded size of one patch.
const PatchRecordSize = 4 + int(numTracks)*(4+MaxPoints*6)

type envelopeRecord struct {
	Count     uint8
	Sustain   uint8
	LoopStart uint8
	LoopEnd   uint8
	Points    [MaxPoints]Point
}

type patchRecord struct {
	Wave      uint8
	Linked    uint8
	Detune    int8
	Reserved  uint8
	Envelopes [numTracks]envelopeRecord
}

// Validate checks that the patch can be installed on a channel.
func (p *Patch) Validate() error {
	if !p.Wave.Valid() {
		return errors.Errorf("invalid wave type %d", p.Wave)
	}
	if p.Linked >= BankSize {
		return errors.Errorf("linked program %d out of range", p.Linked)
	}
	for i := range p.Envelopes {
		if err := p.Envelopes[i].Validate(); err != nil {
			return errors.Wrapf(err, "track %d", i)
		}
	}
	return nil
}

// MarshalBinary encodes the patch as a little-endian record.
func (p *Patch) MarshalBinary() ([]byte, error) {
	rec := patchRecord{
		Wave:   uint8(p.Wave),
		Linked: p.Linked,
		Detune: p.Detune,
	}
	for i, e := range p.Envelopes {
		rec.Envelopes[i] = envelopeRecord{
			Count:     e.Count,
			Sustain:   e.Sustain,
			LoopStart: e.LoopStart,
			LoopEnd:   e.LoopEnd,
			Points:    e.Points,
		}
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes and validates a patch record.
func (p *Patch) UnmarshalBinary(data []byte) error {
	if len(data) != PatchRecordSize {
		return errors.Wrapf(ErrPatchSize, "got %d bytes, want %d", len(data), PatchRecordSize)
	}
	var rec patchRecord
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &rec); err != nil {
		return errors.Wrap(err, "decode patch record")
	}
	var out Patch
	out.Wave = WaveType(rec.Wave)
	out.Linked = rec.Linked
	out.Detune = rec.Detune
	for i, e := range rec.Envelopes {
		out.Envelopes[i] = Envelope{
			Points:    e.Points,
			Count:     e.Count,
			Sustain:   e.Sustain,
			LoopStart: e.LoopStart,
			LoopEnd:   e.LoopEnd,
		}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*p = out
	return nil
}

// DecodePatchUpload decodes an instrument upload payload: the program
// index byte followed by the Base64 text of a patch record.
func DecodePatchUpload(payload []byte) (int, Patch, error) {
	if len(payload) < 1 {
		return 0, Patch{}, errors.Wrap(ErrPatchSize, "empty instrument upload")
	}
	index := int(payload[0])
	if index >= BankSize {
		return 0, Patch{}, errors.Errorf("program %d out of range", index)
	}
	raw, err := base64.StdEncoding.DecodeString(string(payload[1:]))
	if err != nil {
		return 0, Patch{}, errors.Wrap(err, "decode instrument base64")
	}
	var p Patch
	if err := p.UnmarshalBinary(raw); err != nil {
		return 0, Patch{}, err
	}
	return index, p, nil
}

// EncodePatchUpload is the inverse of DecodePatchUpload.
func EncodePatchUpload(index int, p *Patch) ([]byte, error) {
	if index < 0 || index >= BankSize {
		return nil, errors.Errorf("program %d out of range", index)
	}
	raw, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := []byte{byte(index)}
	return append(out, base64.StdEncoding.EncodeToString(raw)...), nil
}

// staticPatch is a plain waveform with no envelopes.
func staticPatch(w WaveType) Patch {
	p := Patch{Wave: w}
	for i := range p.Envelopes {
		p.Envelopes[i] = NewEnvelope()
	}
	return p
}

// DefaultBank returns the boot-time patch table. Programs 0-6 are the
// bare waveforms; 7-10 demonstrate envelopes, loops and chains.
func DefaultBank() *Bank {
	var b Bank
	for i := range b {
		b[i] = staticPatch(WaveSine)
	}
	for i, w := range []WaveType{WaveSine, WaveTriangle, WaveSawtooth, WaveReverseSawtooth, WaveSquare, WaveNoise, WavePitchedNoise} {
		b[i] = staticPatch(w)
	}

	// 7: pluck, square with a decaying volume and narrowing duty
	pluck := staticPatch(WaveSquare)
	pluck.Envelopes[TrackVolume] = NewEnvelope(Point{0, 1}, Point{4, 0.7}, Point{40, 0})
	pluck.Envelopes[TrackDuty] = NewEnvelope(Point{0, 0.5}, Point{30, 0.125})
	b[7] = pluck

	// 8: pad, slow attack held at sustain, looping vibrato
	pad := staticPatch(WaveSine)
	pad.Envelopes[TrackVolume] = NewEnvelope(Point{0, 0}, Point{50, 0.8}, Point{100, 0})
	pad.Envelopes[TrackVolume].Sustain = 1
	vib := NewEnvelope(Point{0, 0}, Point{5, 0.15}, Point{15, -0.15}, Point{20, 0}, Point{21, 0})
	vib.LoopStart = 0
	vib.LoopEnd = 3
	pad.Envelopes[TrackFrequency] = vib
	b[8] = pad

	// 9: layered square, chained to 10 an octave up
	layer := staticPatch(WaveSquare)
	layer.Envelopes[TrackVolume] = NewEnvelope(Point{0, 1}, Point{20, 0.6}, Point{60, 0})
	layer.Envelopes[TrackVolume].Sustain = 1
	layer.Linked = 10
	b[9] = layer

	upper := staticPatch(WaveSine)
	upper.Envelopes[TrackVolume] = NewEnvelope(Point{0, 0.5}, Point{20, 0.3}, Point{60, 0})
	upper.Envelopes[TrackVolume].Sustain = 1
	upper.Detune = 12
	b[10] = upper

	// 11: filter sweep saw
	sweep := staticPatch(WaveSawtooth)
	sweep.Envelopes[TrackCutoff] = NewEnvelope(Point{0, 200}, Point{80, 8000})
	sweep.Envelopes[TrackResonance] = NewEnvelope(Point{0, 0.8}, Point{80, 0.3})
	b[11] = sweep

	return &b
}

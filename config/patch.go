package config

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/user-none/psgmidi/firmware"
)

// PatchSpec is the YAML form of a patch.
//
//	- program: 20
//	  wave: square
//	  linked: 21
//	  envelopes:
//	    volume: {points: [[0, 1], [20, 0.6], [60, 0]], sustain: 1}
type PatchSpec struct {
	Program   int                     `yaml:"program"`
	Wave      string                  `yaml:"wave"`
	Linked    int                     `yaml:"linked"`
	Detune    int                     `yaml:"detune"`
	Envelopes map[string]EnvelopeSpec `yaml:"envelopes"`
}

// EnvelopeSpec lists [tick, value] points. Sustain and loop indexes are
// optional.
type EnvelopeSpec struct {
	Points    [][]float64 `yaml:"points,flow"`
	Sustain   *int         `yaml:"sustain"`
	LoopStart *int         `yaml:"loop_start"`
	LoopEnd   *int         `yaml:"loop_end"`
}

var trackNames = map[string]firmware.Track{
	"volume":    firmware.TrackVolume,
	"pan":       firmware.TrackPan,
	"frequency": firmware.TrackFrequency,
	"duty":      firmware.TrackDuty,
	"cutoff":    firmware.TrackCutoff,
	"resonance": firmware.TrackResonance,
}

// ParseWave looks up a waveform by its String name.
func ParseWave(name string) (firmware.WaveType, error) {
	for w := firmware.WaveNone; w.Valid(); w++ {
		if w.String() == name {
			return w, nil
		}
	}
	return 0, errors.Errorf("unknown wave %q", name)
}

// Patch converts s to a firmware patch and validates it.
func (s *PatchSpec) Patch() (firmware.Patch, error) {
	if s.Program < 0 || s.Program >= firmware.BankSize {
		return firmware.Patch{}, errors.Errorf("program %d out of range", s.Program)
	}
	if s.Detune < -128 || s.Detune > 127 {
		return firmware.Patch{}, errors.Errorf("detune %d out of range", s.Detune)
	}
	if s.Linked < 0 || s.Linked >= firmware.BankSize {
		return firmware.Patch{}, errors.Errorf("linked program %d out of range", s.Linked)
	}
	wave, err := ParseWave(s.Wave)
	if err != nil {
		return firmware.Patch{}, err
	}

	p := firmware.Patch{Wave: wave, Linked: uint8(s.Linked), Detune: int8(s.Detune)}
	for i := range p.Envelopes {
		p.Envelopes[i] = firmware.NewEnvelope()
	}

	names := make([]string, 0, len(s.Envelopes))
	for name := range s.Envelopes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		track, ok := trackNames[name]
		if !ok {
			return firmware.Patch{}, errors.Errorf("unknown envelope %q", name)
		}
		env, err := s.Envelopes[name].envelope()
		if err != nil {
			return firmware.Patch{}, errors.Wrapf(err, "envelope %s", name)
		}
		p.Envelopes[track] = env
	}

	if err := p.Validate(); err != nil {
		return firmware.Patch{}, err
	}
	return p, nil
}

func (s EnvelopeSpec) envelope() (firmware.Envelope, error) {
	if len(s.Points) > firmware.MaxPoints {
		return firmware.Envelope{}, errors.Errorf("%d points (max %d)", len(s.Points), firmware.MaxPoints)
	}
	points := make([]firmware.Point, len(s.Points))
	for i, pt := range s.Points {
		if len(pt) != 2 {
			return firmware.Envelope{}, errors.Errorf("point %d has %d values, want [tick, value]", i, len(pt))
		}
		if pt[0] < 0 || pt[0] > 0xFFFF || pt[0] != float64(int(pt[0])) {
			return firmware.Envelope{}, errors.Errorf("point %d tick %v is not a 16-bit integer", i, pt[0])
		}
		points[i] = firmware.Point{Tick: uint16(pt[0]), Value: float32(pt[1])}
	}

	e := firmware.NewEnvelope(points...)
	for _, f := range []struct {
		src *int
		dst *uint8
	}{
		{s.Sustain, &e.Sustain},
		{s.LoopStart, &e.LoopStart},
		{s.LoopEnd, &e.LoopEnd},
	} {
		if f.src == nil {
			continue
		}
		if *f.src < 0 || *f.src >= len(points) {
			return firmware.Envelope{}, errors.Errorf("index %d outside %d points", *f.src, len(points))
		}
		*f.dst = uint8(*f.src)
	}
	return e, nil
}

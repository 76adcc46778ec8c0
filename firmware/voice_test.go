package firmware

import (
	"math"
	"testing"
	"time"
)

func TestNoteOn_Retrigger(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth

	r.send(t, noteOn(0, 60, 100))
	first := s.alloc.lookup(0, 60)
	if first != 0 {
		t.Fatalf("first note: got channel %d, want 0", first)
	}

	r.send(t, noteOn(0, 60, 50))
	if got := s.alloc.lookup(0, 60); got != first {
		t.Errorf("retrigger moved the note to channel %d", got)
	}
	if owner := s.alloc.owner(1); owner != free {
		t.Errorf("retrigger allocated channel 1 (owner %d)", owner)
	}
	if got, want := s.channels[first].amplitude, 50.0/127; got != want {
		t.Errorf("amplitude: got %v, want %v", got, want)
	}
}

func TestNoteOn_Frequency(t *testing.T) {
	r := newRig(t, R3)
	r.send(t, noteOn(0, 69, 100), noteOn(0, 60, 100))
	if got := r.synth.channels[0].frequency; got != 440 {
		t.Errorf("A4: got %d Hz, want 440", got)
	}
	if got := r.synth.channels[1].frequency; got != 262 {
		t.Errorf("C4: got %d Hz, want 262", got)
	}
}

func TestNoteOn_StaticVolumeWrittenOnce(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, noteOn(0, 60, 127))

	writes := 0
	for i := 0; i < 20; i++ {
		s.tick(r.clock.now)
		if _, ok := s.queue.Pending(0, ClassVolume); ok {
			writes++
		}
		s.flush()
	}
	if writes != 1 {
		t.Errorf("got %d volume writes, want 1", writes)
	}
}

func TestNoteOn_Exhaustion(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth

	for n := byte(0); n < 16; n++ {
		r.send(t, noteOn(0, 40+n, 100))
	}
	r.send(t, noteOn(0, 100, 100), noteOn(1, 101, 100))

	if got := s.alloc.lookup(0, 100); got != free {
		t.Errorf("excess note mapped to channel %d", got)
	}
	if got := s.alloc.lookup(1, 101); got != free {
		t.Errorf("excess note on channel 2 mapped to channel %d", got)
	}
	for n := 0; n < 16; n++ {
		if got := s.alloc.lookup(0, byte(40+n)); got != n {
			t.Errorf("note %d: got channel %d, want %d", 40+n, got, n)
		}
		if s.channels[n].note != byte(40+n) || s.alloc.owner(n) != 0 {
			t.Errorf("channel %d disturbed: note %d owner %d", n, s.channels[n].note, s.alloc.owner(n))
		}
	}
}

func TestNoteOff_PlainReleaseFreesStaticVoice(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, noteOn(0, 60, 100))
	r.send(t, noteOff(0, 60, 0))

	// The static patch finishes on the next tick
	if err := s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := s.alloc.lookup(0, 60); got != free {
		t.Errorf("note still mapped to channel %d", got)
	}
	if s.alloc.owner(0) != free || s.channels[0].wave != WaveNone {
		t.Errorf("channel 0 not recycled: owner %d wave %v", s.alloc.owner(0), s.channels[0].wave)
	}
}

func TestNoteOff_ZeroVelocityNoteOn(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, noteOn(0, 60, 100), noteOn(0, 60, 0))
	if !s.channels[0].released {
		t.Error("Note On with velocity 0 did not release the note")
	}
}

func TestNoteOff_Fade(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, noteOn(0, 60, 127))

	r.clock.now = 1_000_000
	r.send(t, noteOff(0, 60, 63))

	c := &s.channels[0]
	if c.fadeLength != 1_000_000 || c.fadeDirection != -1 || c.fadeInit != 1 {
		t.Fatalf("fade: length %d direction %d init %v", c.fadeLength, c.fadeDirection, c.fadeInit)
	}
	if c.instrument != nil {
		t.Error("fade kept the instrument")
	}

	s.tick(1_500_000)
	if math.Abs(c.amplitude-0.5) > 1e-9 {
		t.Errorf("midpoint: got %v, want 0.5", c.amplitude)
	}
	if s.alloc.lookup(0, 60) != 0 {
		t.Error("voice unmapped before the fade ended")
	}

	s.tick(2_000_000)
	if c.amplitude != 0 {
		t.Errorf("end: got %v, want 0", c.amplitude)
	}
	if c.fading() {
		t.Error("fade still active")
	}
	if s.alloc.lookup(0, 60) != free || s.alloc.owner(0) != free {
		t.Error("release fade did not unmap the voice")
	}
}

func TestFadeVelocity(t *testing.T) {
	tests := []struct {
		seconds float64
		want    uint8
	}{
		{0, 127},
		{1, 63},
		{0.5, 95},
		{10, 1},
		{0.001, 126},
	}
	for _, tt := range tests {
		d := time.Duration(tt.seconds * float64(time.Second))
		if got := FadeVelocity(d); got != tt.want {
			t.Errorf("%vs: got %d, want %d", tt.seconds, got, tt.want)
		}
	}
}

func TestLinkedChain(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, program(0, 9), noteOn(0, 60, 127))

	bank := s.bank
	if s.channels[0].instrument != &bank[9] || s.channels[1].instrument != &bank[10] {
		t.Fatal("chain did not install programs 9 and 10")
	}
	if s.channels[0].linked != 1 || s.channels[1].head != 0 {
		t.Errorf("chain links: linked %d head %d", s.channels[0].linked, s.channels[1].head)
	}
	if got := s.channels[1].frequency; got != 523 {
		t.Errorf("detuned link: got %d Hz, want 523", got)
	}
	if s.alloc.owner(1) != 0 {
		t.Errorf("linked channel owner: got %d, want 0", s.alloc.owner(1))
	}

	r.send(t, noteOff(0, 60, 0))
	if !s.channels[0].released || !s.channels[1].released {
		t.Fatal("release did not reach every link")
	}
	for i := 0; i < 100; i++ {
		if err := s.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if s.alloc.lookup(0, 60) != free || s.alloc.owner(0) != free || s.alloc.owner(1) != free {
		t.Error("chain not freed after its release tails ended")
	}
	if s.channels[0].wave != WaveNone || s.channels[1].wave != WaveNone {
		t.Error("finished voices not turned off")
	}
}

func TestAllNotesOff_OnlyOwnChannel(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, noteOn(0, 60, 100), noteOn(0, 62, 100), noteOn(1, 64, 100))
	r.send(t, control(0, ccAllNotesOff, 0))

	for _, p := range []int{0, 1} {
		if s.channels[p].amplitude != 0 {
			t.Errorf("channel %d: amplitude %v, want 0", p, s.channels[p].amplitude)
		}
		if s.alloc.owner(p) != free {
			t.Errorf("channel %d still owned by %d", p, s.alloc.owner(p))
		}
	}
	if s.alloc.lookup(0, 60) != free || s.alloc.lookup(0, 62) != free {
		t.Error("notes of MIDI channel 1 still mapped")
	}

	if s.alloc.owner(2) != 1 || s.alloc.lookup(1, 64) != 2 {
		t.Error("voice of MIDI channel 2 was freed")
	}
	if got, want := s.channels[2].amplitude, 100.0/127; got != want {
		t.Errorf("channel 2 amplitude: got %v, want %v", got, want)
	}
}

func TestProgramChange_Reapplies(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, noteOn(0, 60, 100), noteOn(1, 60, 100))
	r.send(t, program(0, 4))

	if s.channels[0].wave != WaveSquare || s.channels[0].instrument != &s.bank[4] {
		t.Errorf("channel 0: wave %v, want square", s.channels[0].wave)
	}
	if s.channels[1].wave != WaveSine {
		t.Errorf("other MIDI channel changed to %v", s.channels[1].wave)
	}
}

func TestProgramChange_ShorterChainFinishesLinks(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, program(0, 9), noteOn(0, 60, 127))
	r.send(t, program(0, 2))

	if s.channels[0].wave != WaveSawtooth {
		t.Errorf("head: wave %v, want sawtooth", s.channels[0].wave)
	}
	if s.channels[1].instrument != nil || s.channels[1].wave != WaveNone {
		t.Error("link beyond the new chain still playing")
	}
	if s.alloc.lookup(0, 60) != 0 {
		t.Error("note unmapped while its head still plays")
	}
}

func TestPitchBend(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, noteOn(0, 69, 100))

	// +1 semitone: 8192 + 4096
	r.send(t, Packet{Code: 0x0E, Status: 0xE0, Data1: 0x00, Data2: 0x60})
	if got := s.channels[0].frequency; got != 466 {
		t.Errorf("bent: got %d Hz, want 466", got)
	}

	r.send(t, Packet{Code: 0x0E, Status: 0xE0, Data1: 0x00, Data2: 0x40})
	if got := s.channels[0].frequency; got != 440 {
		t.Errorf("centred: got %d Hz, want 440", got)
	}
}

func TestControlChange_Duty(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, program(0, 4), noteOn(0, 60, 100), noteOn(1, 61, 100))
	r.send(t, control(0, ccDuty, 127), control(1, ccDuty, 127))

	if s.channels[0].duty != 1 {
		t.Errorf("square duty: got %v, want 1", s.channels[0].duty)
	}
	if s.channels[1].wave != WaveSine {
		t.Errorf("duty changed the sine channel's wave to %v", s.channels[1].wave)
	}
}

func TestMonoMode_DutyBeforeSquare(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, control(0, ccMono, 0))
	r.send(t, program(3, byte(WaveSine)), control(3, ccDuty, 32), program(3, byte(WaveSquare)))

	c := &s.channels[3]
	if c.wave != WaveSquare {
		t.Fatalf("wave: got %v, want square", c.wave)
	}
	if want := 32.0 / 127; c.duty != want {
		t.Errorf("duty: got %v, want %v", c.duty, want)
	}
}

func TestMonoMode_HostWaveNumbers(t *testing.T) {
	tests := []struct {
		prog byte
		want WaveType
	}{
		{0, WaveNone},
		{5, WaveSquare},
		{7, WaveCustom},
		{22, WavePitchedNoise},
	}
	for _, tt := range tests {
		r := newRig(t, R3)
		r.send(t, control(0, ccMono, 0), program(4, byte(WaveSine)), program(4, tt.prog))
		if got := r.synth.channels[4].wave; got != tt.want {
			t.Errorf("program %d: got %v, want %v", tt.prog, got, tt.want)
		}
	}
}

func TestMonoMode_UnknownProgramIgnored(t *testing.T) {
	r := newRig(t, R3)
	r.send(t, control(0, ccMono, 0), program(4, byte(WaveSine)))
	for _, prog := range []byte{8, 21, 23} {
		r.send(t, program(4, prog))
		if got := r.synth.channels[4].wave; got != WaveSine {
			t.Errorf("program %d: wave changed to %v", prog, got)
		}
	}
}

func TestMonoMode(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, control(0, ccMono, 0))
	if m, _ := s.Mode(); m != ModeMono {
		t.Fatalf("mode: got %v, want mono", m)
	}

	r.send(t, program(2, byte(WaveSquare)), noteOn(2, 69, 127))
	c := &s.channels[2]
	if c.wave != WaveSquare || c.frequency != 440 || c.amplitude != 1 {
		t.Errorf("channel 2: wave %v freq %d amplitude %v", c.wave, c.frequency, c.amplitude)
	}
	if s.alloc.owner(2) != free {
		t.Error("mono note went through the allocator")
	}

	r.send(t, control(2, ccFrequencyLSB, 0x10), control(2, ccFrequencyMSB, 0x03))
	if c.frequency != 400 {
		t.Errorf("direct frequency: got %d, want 400", c.frequency)
	}

	r.send(t, noteOff(2, 69, 0))
	if c.amplitude != 0 {
		t.Errorf("note off: amplitude %v, want 0", c.amplitude)
	}

	r.send(t, control(0, ccPoly, 0))
	if m, _ := s.Mode(); m != ModePoly {
		t.Errorf("mode: got %v, want poly", m)
	}
}

func TestStereoMode(t *testing.T) {
	r := newRig(t, R3)
	s := r.synth
	r.send(t, noteOn(0, 60, 100))
	r.send(t, control(0, ccStereo, 127))

	if _, dual := s.Mode(); !dual || s.active != 8 {
		t.Fatalf("dual %v, active %d; want true, 8", dual, s.active)
	}
	if s.alloc.lookup(0, 60) != free {
		t.Error("voices survived the stereo switch")
	}

	r1 := newRig(t, R1)
	r1.send(t, control(0, ccStereo, 127))
	if _, dual := r1.synth.Mode(); dual {
		t.Error("stereo enabled on a board without stereo support")
	}
}

func TestPanLevel(t *testing.T) {
	if got := panLevel(200, 0, 0); got != 200 {
		t.Errorf("centre left: got %d", got)
	}
	if got := panLevel(200, 1, 1); got != 0 {
		t.Errorf("hard left, right side: got %d", got)
	}
	if got := panLevel(200, -0.5, 0); got != 100 {
		t.Errorf("half right, left side: got %d", got)
	}
}

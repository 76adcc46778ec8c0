package firmware

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MIDIChannels is the number of MIDI channels on a port.
const MIDIChannels = 16

// Mode selects how MIDI channels map onto physical channels.
type Mode int

const (
	ModePoly Mode = iota // Voice allocator assigns channels per note
	ModeMono             // MIDI channel n drives physical channel n
)

func (m Mode) String() string {
	if m == ModeMono {
		return "mono"
	}
	return "poly"
}

// Config holds construction-time settings.
type Config struct {
	Revision Revision
	Bank     *Bank        // nil = DefaultBank()
	Logger   *slog.Logger // nil = slog.Default()
}

// Hardware bundles the collaborators the firmware drives.
type Hardware struct {
	Pins    Pins
	Timer   Timer
	Machine Machine
	Out     PacketWriter
}

// Synth owns every channel record, the allocation tables and the command
// queue behind one mutex. MIDI ingress (HandlePackets) and the scheduler
// (Step/Run) both take the lock, so a parameter change made by one
// packet batch is always complete before the next flush.
type Synth struct {
	mu sync.Mutex

	rev   Revision
	log   *slog.Logger
	hw    Hardware
	wire  *Wire
	queue *Queue
	bank  *Bank

	channels []channel
	active   int // channels addressable in the current stereo mode
	dual     bool
	mode     Mode

	alloc  allocator
	chains []chain // indexed by chain head channel

	program [MIDIChannels]uint8
	bend    [MIDIChannels]float64 // semitones
	freqLSB [MIDIChannels]uint8

	sysex sysexReader

	halted bool
}

// New boots the firmware: it checks the board revision, clears the
// shift register and resets every channel. A revision mismatch halts
// the board through the watchdog.
func New(cfg Config, hw Hardware) (*Synth, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	bank := cfg.Bank
	if bank == nil {
		bank = DefaultBank()
	}
	rev := cfg.Revision

	if got := hw.Machine.BoardRevision(); got != rev.ID {
		log.Error("board revision mismatch, halting", "want", rev.ID, "got", got, "profile", rev.Name)
		hw.Machine.WatchdogReboot()
		return nil, errors.Wrapf(ErrRevisionMismatch, "profile %s expects %d, board reports %d", rev.Name, rev.ID, got)
	}

	s := &Synth{
		rev:      rev,
		log:      log,
		hw:       hw,
		wire:     NewWire(hw.Pins, hw.Timer, rev.ShiftLength),
		queue:    NewQueue(rev.Chips),
		bank:     bank,
		channels: make([]channel, rev.Chips),
		chains:   make([]chain, rev.Chips),
		active:   rev.Chips,
		sysex:    newSysexReader(rev.VendorID),
	}
	s.alloc.reset(rev.Chips)
	for i := range s.channels {
		s.channels[i].reset()
	}
	s.wire.Init()
	log.Info("firmware ready", "revision", rev.Name, "channels", s.active)
	return s, nil
}

// Revision returns the active board profile.
func (s *Synth) Revision() Revision {
	return s.rev
}

// Halted reports whether the firmware has stopped serving input.
func (s *Synth) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Mode returns the current ingress mode and whether stereo pairing is on.
func (s *Synth) Mode() (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.dual
}

// Snapshot copies the state of every addressable channel.
func (s *Synth) Snapshot() []ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChannelState, s.active)
	for i := 0; i < s.active; i++ {
		c := &s.channels[i]
		out[i] = ChannelState{
			Index:     i,
			Wave:      c.wave.String(),
			Duty:      c.duty,
			Frequency: c.frequency,
			Amplitude: c.amplitude,
			Pan:       c.pan,
			Cutoff:    c.cutoff,
			Resonance: c.resonance,
			Program:   c.program,
			Released:  c.released,
			Fading:    c.fading(),
			Linked:    c.linked,
			Note:      c.note,
			Owner:     s.alloc.owner(i),
		}
	}
	return out
}

// Step runs one scheduler tick: envelopes and fades advance, then the
// command queue is flushed to the chips.
func (s *Synth) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		return ErrHalted
	}
	s.tick(s.hw.Timer.NowMicros())
	s.flush()
	return nil
}

// Run calls Step once per tick period until ctx is done or the firmware
// halts. Each iteration sleeps for whatever remains of the period; an
// overrun iteration is followed immediately by the next one.
func (s *Synth) Run(ctx context.Context) error {
	period := uint64(s.rev.TickPeriod / time.Microsecond)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := s.hw.Timer.NowMicros()
		if err := s.Step(); err != nil {
			return err
		}
		elapsed := s.hw.Timer.NowMicros() - start
		if elapsed < period {
			s.hw.Timer.SleepMicros(uint32(period - elapsed))
		}
	}
}

// halt stops all further processing. Must hold s.mu.
func (s *Synth) halt(reason string) {
	s.halted = true
	s.log.Warn("firmware halted", "reason", reason)
}

// flush drains the command queue onto the wire. Must hold s.mu.
func (s *Synth) flush() {
	s.queue.Flush(s.emit)
}

// chipsFor returns the chips driven by channel ch.
func (s *Synth) chipsFor(ch int) []int {
	if s.dual {
		return []int{2 * ch, 2*ch + 1}
	}
	return []int{ch}
}

// emit translates one queued write into command bytes for each chip the
// channel drives.
func (s *Synth) emit(ch int, c Class, data []byte) {
	L := s.rev.Layout
	for side, chip := range s.chipsFor(ch) {
		switch c {
		case ClassWave:
			s.wire.Write(chip, append([]byte{L.Wave | data[0]&0x3F}, data[1:]...)...)
		case ClassFrequency:
			s.wire.Write(chip, L.Frequency|data[0]&0x3F, data[1])
		case ClassVolume:
			v := data[0]
			if s.dual {
				v = panLevel(v, s.channels[ch].pan, side)
			}
			s.wire.Write(chip, L.Volume, v)
		case ClassAlpha, ClassBeta, ClassGamma:
			if !s.rev.Filter {
				continue
			}
			s.wire.Write(chip, L.Parameter|L.filterParam(c), data[0])
		}
	}
}

// panLevel scales a volume byte for the left (side 0) or right (side 1)
// chip of a stereo pair. Pan runs from -1 (right) to 1 (left).
func panLevel(v byte, pan float64, side int) byte {
	gain := math.Min(1, 1+pan)
	if side == 1 {
		gain = math.Min(1, 1-pan)
	}
	return byte(math.Round(float64(v) * clampFloat(gain, 0, 1)))
}

// queueWave queues the channel's waveform (and duty for square waves).
func (s *Synth) queueWave(i int) {
	c := &s.channels[i]
	code := c.wave.ChipCode()
	if code == ChipCodeSquare {
		s.queue.Set(i, ClassWave, code, byte(math.Round(clampFloat(c.duty, 0, 1)*255)))
		return
	}
	s.queue.Set(i, ClassWave, code)
}

// queueFrequency queues the 14-bit frequency word.
func (s *Synth) queueFrequency(i int) {
	word := math.Round(float64(s.channels[i].frequency) * s.rev.ClockMultiplier)
	w := uint16(clampFloat(word, 0, 0x3FFF))
	s.queue.Set(i, ClassFrequency, byte(w>>8)&0x3F, byte(w))
}

// queueVolume queues the channel amplitude as a level byte.
func (s *Synth) queueVolume(i int, force bool) {
	v := byte(math.Round(clampFloat(s.channels[i].amplitude, 0, 1) * 255))
	if force {
		s.queue.Force(i, ClassVolume, v)
		return
	}
	s.queue.Set(i, ClassVolume, v)
}

// queueFilter recomputes and queues the filter coefficients.
func (s *Synth) queueFilter(i int) {
	if !s.rev.Filter {
		return
	}
	c := &s.channels[i]
	a, b, g := filterCoefficients(c.cutoff, c.resonance, s.rev.FilterClockHz)
	s.queue.Set(i, ClassAlpha, a)
	s.queue.Set(i, ClassBeta, b)
	s.queue.Set(i, ClassGamma, g)
}

// silence stops channel i immediately and detaches it from any note.
func (s *Synth) silence(i int) {
	c := &s.channels[i]
	c.clearInstrument()
	c.clearFade()
	c.amplitude = 0
	s.queueVolume(i, false)
}

// silenceAll stops every channel and empties the allocation tables.
func (s *Synth) silenceAll() {
	for i := range s.channels {
		if i < s.active {
			s.silence(i)
		} else {
			s.channels[i].clearInstrument()
			s.channels[i].clearFade()
		}
		s.channels[i].linked = noChannel
		s.channels[i].head = noChannel
		s.chains[i] = chain{}
	}
	s.alloc.reset(len(s.channels))
}

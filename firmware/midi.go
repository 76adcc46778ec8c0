package firmware

import "fmt"

// Packet is a 4-byte USB-MIDI event packet.
type Packet struct {
	Code   byte // Cable number (high nibble) and code index number (low nibble)
	Status byte
	Data1  byte
	Data2  byte
}

// ReprogramDone is sent to the host once a chip reprogram has been written.
var ReprogramDone = Packet{Code: 0x0F, Status: 0xFF, Data1: 0x00, Data2: 0x00}

// CIN returns the code index number.
func (p Packet) CIN() byte {
	return p.Code & 0x0F
}

// Bytes returns the packet in wire order.
func (p Packet) Bytes() [4]byte {
	return [4]byte{p.Code, p.Status, p.Data1, p.Data2}
}

func (p Packet) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X", p.Code, p.Status, p.Data1, p.Data2)
}

// PacketFromBytes decodes a packet in wire order.
func PacketFromBytes(b [4]byte) Packet {
	return Packet{Code: b[0], Status: b[1], Data1: b[2], Data2: b[3]}
}

// Code index numbers carrying SysEx data.
const (
	cinSysExContinue = 0x4 // Start or continue, three bytes
	cinSysExEnd1     = 0x5 // Ends with one byte
	cinSysExEnd2     = 0x6 // Ends with two bytes
	cinSysExEnd3     = 0x7 // Ends with three bytes
)

// Controllers handled by the firmware.
const (
	ccDuty         = 1
	ccVolume       = 7
	ccPan          = 10
	ccFrequencyMSB = 24
	ccFrequencyLSB = 56
	ccResonance    = 71
	ccCutoff       = 74
	ccStereo       = 86
	ccAllNotesOff  = 123
	ccMono         = 126
	ccPoly         = 127
)

// sysFullReset is the system sub-command that resets every chip and
// restarts the controller.
const sysFullReset = 0x0F

// HandlePackets processes one burst of MIDI packets under the lock.
// Malformed or unsupported messages are ignored. It returns ErrHalted
// once the firmware has stopped, including when a packet in this burst
// stopped it.
func (s *Synth) HandlePackets(pkts ...Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range pkts {
		if s.halted {
			return ErrHalted
		}
		s.handle(p)
	}
	if s.halted {
		return ErrHalted
	}
	return nil
}

func (s *Synth) handle(p Packet) {
	if cin := p.CIN(); cin >= cinSysExContinue && cin <= cinSysExEnd3 {
		s.sysexPacket(p)
		return
	}

	mc := p.Status & 0x0F
	d1, d2 := p.Data1&0x7F, p.Data2&0x7F
	switch p.Status & 0xF0 {
	case 0x80:
		s.noteOff(mc, d1, d2)
	case 0x90:
		if d2 == 0 {
			s.noteOff(mc, d1, 0)
			return
		}
		s.noteOn(mc, d1, d2)
	case 0xA0:
		s.polyAftertouch(mc, d1, d2)
	case 0xB0:
		s.controlChange(mc, d1, d2)
	case 0xC0:
		s.programChange(mc, d1)
	case 0xD0:
		s.channelAftertouch(mc, d1)
	case 0xE0:
		s.pitchBend(mc, d1, d2)
	case 0xF0:
		if mc == sysFullReset {
			s.fullReset()
		}
	default:
		s.log.Debug("ignoring packet", "packet", p)
	}
}

func (s *Synth) controlChange(mc, cc, v uint8) {
	value := float64(v) / 127

	switch cc {
	case ccDuty:
		for _, p := range s.targets(mc) {
			c := &s.channels[p]
			c.duty = value
			if c.wave == WaveSquare {
				s.queueWave(p)
			}
		}
	case ccVolume:
		for _, p := range s.targets(mc) {
			c := &s.channels[p]
			c.level = value
			c.amplitude = value
			s.queueVolume(p, false)
		}
	case ccPan:
		pan := clampFloat(float64(v)/63.5-1, -1, 1)
		for _, p := range s.targets(mc) {
			s.channels[p].pan = pan
			if s.dual {
				s.queueVolume(p, true)
			}
		}
	case ccFrequencyLSB:
		s.freqLSB[mc] = v
	case ccFrequencyMSB:
		freq := uint32(v)<<7 | uint32(s.freqLSB[mc])
		for _, p := range s.targets(mc) {
			c := &s.channels[p]
			c.clearInstrument()
			c.baseFreq = float64(freq)
			c.frequency = bendFrequency(c.baseFreq, s.bend[mc])
			s.queueFrequency(p)
		}
	case ccResonance:
		for _, p := range s.targets(mc) {
			s.channels[p].resonance = value
			s.queueFilter(p)
		}
	case ccCutoff:
		cutoff := controlCutoff(v)
		for _, p := range s.targets(mc) {
			s.channels[p].cutoff = cutoff
			s.queueFilter(p)
		}
	case ccStereo:
		s.setDual(v >= 64)
	case ccAllNotesOff:
		s.allNotesOff(mc)
	case ccMono:
		s.setMode(ModeMono)
	case ccPoly:
		s.setMode(ModePoly)
	}
}

// setDual switches stereo pairing. Every voice is stopped because the
// channel-to-chip mapping changes.
func (s *Synth) setDual(on bool) {
	if on && !s.rev.Stereo {
		s.log.Debug("stereo pairing not supported", "revision", s.rev.Name)
		return
	}
	if on == s.dual {
		return
	}
	s.dual = on
	s.active = s.rev.Chips
	if on {
		s.active = s.rev.Chips / 2
	}
	s.queue.Clear()
	s.silenceAll()
	s.log.Info("stereo pairing changed", "dual", on, "channels", s.active)
}

func (s *Synth) setMode(m Mode) {
	if m == s.mode {
		return
	}
	s.silenceAll()
	s.mode = m
	s.log.Info("ingress mode changed", "mode", m)
}

func (s *Synth) programChange(mc, prog uint8) {
	s.program[mc] = prog

	if s.mode == ModeMono {
		w, ok := hostWave(prog)
		if int(mc) >= s.active || !ok {
			return
		}
		s.channels[mc].wave = w
		s.queueWave(int(mc))
		return
	}

	for h := 0; h < s.active; h++ {
		if s.alloc.owner(h) == int(mc) && s.channels[h].head == h {
			s.reapply(h, mc, prog)
		}
	}
}

// hostWaveNoise is the program number host software uses for pitched noise.
const hostWaveNoise = 22

// hostWave maps a mono-mode program number to a waveform. Programs 0-7 are
// the waveforms in order.
func hostWave(prog uint8) (WaveType, bool) {
	switch {
	case prog == hostWaveNoise:
		return WavePitchedNoise, true
	case prog <= uint8(WaveCustom):
		return WaveType(prog), true
	}
	return WaveNone, false
}

// reapply restarts the chain headed by h with the patch chain starting at
// prog. Channels the new chain does not reach are finished; the chain is
// not extended onto new channels.
func (s *Synth) reapply(h int, mc, prog uint8) {
	members := s.members(h)
	patch := &s.bank[prog]
	for k, p := range members {
		c := &s.channels[p]
		released := c.released
		c.clearFade()
		c.clearInstrument()
		c.instrument = patch
		c.program = int(prog)
		c.released = released
		c.wave = patch.Wave
		c.amplitude = c.level
		c.baseFreq = noteFrequency(float64(c.note) + float64(patch.Detune))
		c.frequency = bendFrequency(c.baseFreq, s.bend[mc])
		s.queueWave(p)
		s.queueFrequency(p)

		if patch.Linked == 0 {
			for _, q := range members[k+1:] {
				s.finishVoice(q)
			}
			return
		}
		prog = patch.Linked
		patch = &s.bank[prog]
	}
}

func (s *Synth) polyAftertouch(mc, note, v uint8) {
	if s.mode == ModeMono {
		s.channelAftertouch(mc, v)
		return
	}
	h := s.alloc.lookup(mc, note)
	if h == free {
		return
	}
	for _, p := range s.members(h) {
		s.touch(p, v)
	}
}

func (s *Synth) channelAftertouch(mc, v uint8) {
	for _, p := range s.targets(mc) {
		s.touch(p, v)
	}
}

// touch rescales a sounding voice to a new pressure.
func (s *Synth) touch(p int, v uint8) {
	c := &s.channels[p]
	c.level = float64(v) / 127
	if c.instrument == nil && !c.fading() {
		c.amplitude = c.level
		s.queueVolume(p, false)
	}
}

// pitchBend retunes every channel of mc. The 14-bit value is centred on
// 8192 with 4096 steps per semitone.
func (s *Synth) pitchBend(mc, lsb, msb uint8) {
	semis := float64((int(lsb)|int(msb)<<7)-8192) / 4096
	s.bend[mc] = semis
	for _, p := range s.targets(mc) {
		c := &s.channels[p]
		c.frequency = bendFrequency(c.baseFreq, semis+c.pitchOffset)
		s.queueFrequency(p)
	}
}

// fullReset sends a reset to every chip, then reboots the controller.
func (s *Synth) fullReset() {
	L := s.rev.Layout
	s.log.Warn("full reset requested")
	for chip := 0; chip < s.rev.Chips; chip++ {
		s.wire.Write(chip, L.Parameter|L.ParamReset)
		s.wire.Settle(resetSettleUs)
	}
	s.hw.Machine.WatchdogReboot()
	s.halt("full reset")
}

package firmware

// maxChain bounds the channels one note can occupy.
const maxChain = 64

// free marks an unassigned allocation table entry.
const free = -1

// chain is the fixed-capacity list of channels sounding one note, head
// first, in the order the linked instruments were allocated.
type chain struct {
	idx [maxChain]int8
	n   int
}

func (c *chain) push(i int) bool {
	if c.n == maxChain {
		return false
	}
	c.idx[c.n] = int8(i)
	c.n++
	return true
}

// allocator holds the note-to-channel and channel-to-owner tables.
type allocator struct {
	channelOf [MIDIChannels][128]int8
	ownerOf   []int8
}

func (a *allocator) reset(channels int) {
	for mc := range a.channelOf {
		for n := range a.channelOf[mc] {
			a.channelOf[mc][n] = free
		}
	}
	a.ownerOf = make([]int8, channels)
	for i := range a.ownerOf {
		a.ownerOf[i] = free
	}
}

func (a *allocator) lookup(mc, note uint8) int {
	return int(a.channelOf[mc&0x0F][note&0x7F])
}

func (a *allocator) owner(p int) int {
	return int(a.ownerOf[p])
}

func (a *allocator) assign(mc, note uint8, p int) {
	a.channelOf[mc&0x0F][note&0x7F] = int8(p)
}

func (a *allocator) unmap(mc, note uint8) {
	a.channelOf[mc&0x0F][note&0x7F] = free
}

func (a *allocator) own(p int, mc uint8) {
	a.ownerOf[p] = int8(mc & 0x0F)
}

func (a *allocator) release(p int) {
	a.ownerOf[p] = free
}

// freeChannel returns the lowest channel with no owner and no live
// instrument, or noChannel when every voice is busy.
func (s *Synth) freeChannel() int {
	for i := 0; i < s.active; i++ {
		if s.alloc.owner(i) == free && s.channels[i].instrument == nil {
			return i
		}
	}
	return noChannel
}

// members returns the live channels of the chain headed by h.
func (s *Synth) members(h int) []int {
	ch := &s.chains[h]
	out := make([]int, 0, ch.n)
	for _, p := range ch.idx[:ch.n] {
		if s.channels[p].head == h {
			out = append(out, int(p))
		}
	}
	return out
}

// targets returns the channels a channel-wide message from mc affects.
func (s *Synth) targets(mc uint8) []int {
	if s.mode == ModeMono {
		if int(mc) < s.active {
			return []int{int(mc)}
		}
		return nil
	}
	var out []int
	for i := 0; i < s.active; i++ {
		if s.alloc.owner(i) == int(mc) {
			out = append(out, i)
		}
	}
	return out
}

// noteOn starts or retriggers a note.
func (s *Synth) noteOn(mc, note, vel uint8) {
	level := float64(vel) / 127
	if s.mode == ModeMono {
		s.directNoteOn(mc, note, level)
		return
	}

	if h := s.alloc.lookup(mc, note); h != free {
		for _, p := range s.members(h) {
			s.channels[p].level = level
			s.channels[p].amplitude = level
			s.queueVolume(p, false)
		}
		return
	}

	prog := s.program[mc]
	var notes chain
	for {
		p := s.freeChannel()
		if p == noChannel {
			if notes.n == 0 {
				s.log.Debug("no free channel, note dropped", "midi_channel", mc, "note", note)
				return
			}
			s.log.Debug("chain truncated, no free channel", "midi_channel", mc, "note", note, "length", notes.n)
			break
		}
		patch := &s.bank[prog]
		head := p
		if notes.n > 0 {
			head = int(notes.idx[0])
			s.channels[notes.idx[notes.n-1]].linked = p
		}
		s.startVoice(p, head, mc, note, level, patch, int(prog))
		notes.push(p)
		if patch.Linked == 0 || notes.n >= s.active {
			break
		}
		prog = patch.Linked
	}

	h := int(notes.idx[0])
	s.chains[h] = notes
	s.alloc.assign(mc, note, h)
}

// startVoice installs patch on channel p for a new note.
func (s *Synth) startVoice(p, head int, mc, note uint8, level float64, patch *Patch, prog int) {
	c := &s.channels[p]
	c.clearFade()
	c.clearInstrument()
	c.instrument = patch
	c.program = prog
	c.note = note
	c.head = head
	c.linked = noChannel
	c.wave = patch.Wave
	c.level = level
	c.amplitude = level
	c.baseFreq = noteFrequency(float64(note) + float64(patch.Detune))
	c.frequency = bendFrequency(c.baseFreq, s.bend[mc])
	s.alloc.own(p, mc)

	s.queue.Forget(p)
	s.queueWave(p)
	s.queueFrequency(p)
}

// directNoteOn plays a note on the channel numbered like the MIDI
// channel, keeping its current waveform.
func (s *Synth) directNoteOn(mc, note uint8, level float64) {
	if int(mc) >= s.active {
		return
	}
	p := int(mc)
	c := &s.channels[p]
	c.clearFade()
	c.clearInstrument()
	c.note = note
	c.level = level
	c.amplitude = level
	c.baseFreq = noteFrequency(float64(note))
	c.frequency = bendFrequency(c.baseFreq, s.bend[mc])
	s.queueFrequency(p)
	s.queueVolume(p, false)
}

// noteOff releases a note. Velocity 0 or 127 is a plain release; any
// other velocity fades the note out over (127-vel)/64 seconds.
func (s *Synth) noteOff(mc, note, vel uint8) {
	fade := vel != 0 && vel != 127

	if s.mode == ModeMono {
		if int(mc) >= s.active {
			return
		}
		if fade {
			s.startFade(int(mc), vel, false)
			return
		}
		s.channels[mc].amplitude = 0
		s.queueVolume(int(mc), false)
		return
	}

	h := s.alloc.lookup(mc, note)
	if h == free {
		return
	}
	for _, p := range s.members(h) {
		c := &s.channels[p]
		switch {
		case fade:
			s.startFade(p, vel, true)
		case c.instrument == nil:
			c.clearFade()
			c.amplitude = 0
			s.queueVolume(p, false)
		default:
			c.released = true
		}
	}
	s.settleChain(h)
}

// startFade replaces any instrument on p with a linear fade to silence.
func (s *Synth) startFade(p int, vel uint8, release bool) {
	c := &s.channels[p]
	c.clearInstrument()
	c.fadeInit = c.amplitude
	c.fadeStart = s.hw.Timer.NowMicros()
	c.fadeLength = uint64(127-vel) * fadeUnitUs
	c.fadeDirection = -1
	c.fadeRelease = release
}

// settleChain frees every channel of the chain headed by h once none of
// them is still producing sound.
func (s *Synth) settleChain(h int) {
	if h == noChannel {
		return
	}
	members := s.members(h)
	for _, p := range members {
		if !s.channels[p].idle() {
			return
		}
	}
	for _, p := range members {
		c := &s.channels[p]
		if owner := s.alloc.owner(p); owner != free && s.alloc.lookup(uint8(owner), c.note) == h {
			s.alloc.unmap(uint8(owner), c.note)
		}
		s.alloc.release(p)
		c.head = noChannel
		c.linked = noChannel
	}
	s.chains[h] = chain{}
}

// allNotesOff silences and frees every voice owned by mc.
func (s *Synth) allNotesOff(mc uint8) {
	for _, p := range s.targets(mc) {
		s.silence(p)
	}
	if s.mode == ModeMono {
		return
	}
	for note := 0; note < 128; note++ {
		if h := s.alloc.lookup(mc, uint8(note)); h != free {
			s.settleChain(h)
		}
	}
	// Voices whose chain head was already recycled
	for _, p := range s.targets(mc) {
		s.alloc.release(p)
		s.channels[p].head = noChannel
		s.channels[p].linked = noChannel
	}
}

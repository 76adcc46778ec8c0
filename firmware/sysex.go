package firmware

// maxSysExPayload bounds the staging buffer of one upload.
const maxSysExPayload = 128 << 10

// Vendor SysEx sub-commands.
const (
	sysexHexUpload        = 0x00
	sysexBootloaderReboot = 0x01
	sysexInstrumentUpload = 0x02
)

type sysexState int

const (
	sysexIdle sysexState = iota
	sysexAwaitHeader
	sysexAwaitParam
	sysexCollectingHex
	sysexCollectingInstrument
	sysexIgnoring
)

// sysexReader reassembles vendor SysEx messages byte by byte:
//
//	F0 <vendor:3> <subcmd> <param> <payload...> F7
type sysexReader struct {
	vendor   [3]byte
	state    sysexState
	pos      int
	cmd      byte
	buf      []byte
	overflow bool
}

func newSysexReader(vendor [3]byte) sysexReader {
	return sysexReader{vendor: vendor}
}

// feed consumes one SysEx byte and reports whether it requested an
// immediate bootloader reboot.
func (r *sysexReader) feed(b byte) bool {
	switch b {
	case 0xF0:
		r.state = sysexAwaitHeader
		r.pos = 0
		r.buf = r.buf[:0]
		r.overflow = false
		return false
	case 0xF7:
		return false
	}

	switch r.state {
	case sysexAwaitHeader:
		if r.pos < len(r.vendor) {
			if b != r.vendor[r.pos] {
				r.state = sysexIgnoring
			}
			r.pos++
			return false
		}
		r.cmd = b
		switch b {
		case sysexHexUpload, sysexInstrumentUpload:
			r.state = sysexAwaitParam
		case sysexBootloaderReboot:
			r.state = sysexIgnoring
			return true
		default:
			r.state = sysexIgnoring
		}
	case sysexAwaitParam:
		r.state = sysexCollectingInstrument
		if r.cmd == sysexHexUpload {
			r.state = sysexCollectingHex
		}
	case sysexCollectingHex, sysexCollectingInstrument:
		if len(r.buf) >= maxSysExPayload {
			r.overflow = true
			return false
		}
		r.buf = append(r.buf, b)
	}
	return false
}

// finish ends the current message and returns what was collected. The
// payload is only valid until the next feed.
func (r *sysexReader) finish() (sysexState, []byte, bool) {
	state, payload, overflow := r.state, r.buf, r.overflow
	r.state = sysexIdle
	return state, payload, overflow
}

// sysexPacket feeds the data bytes of a SysEx packet to the reader and
// runs the upload once the packet terminates the message.
func (s *Synth) sysexPacket(p Packet) {
	n := 3
	switch p.CIN() {
	case cinSysExEnd1:
		n = 1
	case cinSysExEnd2:
		n = 2
	}
	data := [3]byte{p.Status, p.Data1, p.Data2}
	for _, b := range data[:n] {
		if s.sysex.feed(b) {
			s.log.Warn("bootloader reboot requested")
			s.hw.Machine.BootloaderReboot()
			s.halt("bootloader reboot")
			return
		}
	}
	if p.CIN() == cinSysExContinue {
		return
	}

	state, payload, overflow := s.sysex.finish()
	if overflow && (state == sysexCollectingHex || state == sysexCollectingInstrument) {
		s.log.Warn("sysex upload too large, discarded", "limit", maxSysExPayload)
		return
	}
	switch state {
	case sysexCollectingHex:
		img, err := ParseHex(payload, s.rev.FlashWords, s.rev.ErasedWord, s.rev.RowWords)
		if err != nil {
			s.log.Warn("hex upload rejected", "error", err)
			return
		}
		if img.Dropped > 0 {
			s.log.Debug("hex extents dropped", "count", img.Dropped)
		}
		s.reprogram(img)
	case sysexCollectingInstrument:
		index, patch, err := DecodePatchUpload(payload)
		if err != nil {
			s.log.Warn("instrument upload rejected", "error", err)
			return
		}
		s.bank[index] = patch
		s.log.Info("instrument loaded", "program", index, "wave", patch.Wave)
	case sysexIgnoring:
		s.log.Debug("ignored sysex message")
	}
}

// sysexMessage frames payload as a vendor message for sub-command cmd.
func (r Revision) sysexMessage(cmd byte, payload []byte) []byte {
	msg := make([]byte, 0, len(payload)+7)
	msg = append(msg, 0xF0)
	msg = append(msg, r.VendorID[:]...)
	msg = append(msg, cmd, 0x00)
	msg = append(msg, payload...)
	return append(msg, 0xF7)
}

// HexUploadMessage returns the SysEx message that reprograms every chip
// with the given Intel HEX text.
func (r Revision) HexUploadMessage(hex []byte) []byte {
	return r.sysexMessage(sysexHexUpload, hex)
}

// InstrumentUploadMessage returns the SysEx message that installs p as
// program index.
func (r Revision) InstrumentUploadMessage(index int, p *Patch) ([]byte, error) {
	payload, err := EncodePatchUpload(index, p)
	if err != nil {
		return nil, err
	}
	return r.sysexMessage(sysexInstrumentUpload, payload), nil
}

// BootloaderRebootMessage returns the SysEx message that restarts the
// controller into its own bootloader.
func (r Revision) BootloaderRebootMessage() []byte {
	return r.sysexMessage(sysexBootloaderReboot, nil)
}

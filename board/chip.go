package board

import (
	"github.com/user-none/go-chip-sn76489"

	"github.com/user-none/psgmidi/firmware"
)

// Chip waveform codes as sent in a wave command.
const (
	codeOff   = 0
	codeNoise = 6
)

// Bootloader frame header size: length, address high, address low, flags.
const frameHeader = 4

// ChipState is the register file of one sound chip as last written.
type ChipState struct {
	Wave       byte   `json:"wave"`
	Duty       byte   `json:"duty"`
	Frequency  uint16 `json:"frequency"`
	Volume     byte   `json:"volume"`
	Pan        byte   `json:"pan"`
	Alpha      byte   `json:"alpha"`
	Beta       byte   `json:"beta"`
	Gamma      byte   `json:"gamma"`
	Resets     int    `json:"resets"`
	Bootloader bool   `json:"bootloader"`
	Reflashed  int    `json:"reflashed"`
	Rejected   int    `json:"rejected_rows"`
}

// chip decodes the command stream of one sound chip and, when audio is
// enabled, mirrors it onto an SN76489 tone generator.
type chip struct {
	layout    firmware.Layout
	clockMul  float64
	protected int

	state ChipState
	flash []uint16
	armed bool

	cmd  byte
	need int
	data [2]byte
	n    int

	frame []byte

	psg     *sn76489.SN76489
	noiseOn bool
}

func newChip(rev firmware.Revision) *chip {
	c := &chip{
		layout:    rev.Layout,
		clockMul:  rev.ClockMultiplier,
		protected: int(rev.ProtectedWords),
		flash:     make([]uint16, rev.FlashWords),
	}
	for i := range c.flash {
		c.flash[i] = rev.ErasedWord
	}
	return c
}

// interrupt arms the chip to read a command from the bus. A chip in its
// bootloader is already reading frames and ignores it.
func (c *chip) interrupt() {
	c.armed = true
	if !c.state.Bootloader {
		c.need = 0
		c.n = 0
	}
}

// receive handles one byte latched from the parallel bus. The chip stops
// listening once the command is complete.
func (c *chip) receive(b byte) {
	if c.state.Bootloader {
		c.bootByte(b)
		return
	}
	if c.need == 0 {
		c.cmd = b
		c.n = 0
		c.need = c.dataLen(b)
		if c.need == 0 {
			c.apply()
		}
		return
	}
	c.data[c.n] = b
	c.n++
	if c.n == c.need {
		c.need = 0
		c.apply()
	}
}

// apply executes the decoded command.
func (c *chip) apply() {
	c.execute()
	if !c.state.Bootloader {
		c.armed = false
	}
}

func (c *chip) dataLen(cmd byte) int {
	L := c.layout
	switch cmd & 0xC0 {
	case L.Wave:
		if cmd&0x3F == firmware.ChipCodeSquare {
			return 1
		}
		return 0
	case L.Parameter:
		if cmd&0x3F == L.ParamReset {
			return 0
		}
	}
	return 1
}

func (c *chip) execute() {
	L := c.layout
	arg := c.cmd & 0x3F
	switch c.cmd & 0xC0 {
	case L.Wave:
		c.state.Wave = arg
		if arg == firmware.ChipCodeSquare {
			c.state.Duty = c.data[0]
		}
	case L.Frequency:
		c.state.Frequency = uint16(arg)<<8 | uint16(c.data[0])
	case L.Volume:
		c.state.Volume = c.data[0]
	case L.Parameter:
		switch arg {
		case L.ParamReset:
			c.state = ChipState{
				Resets:    c.state.Resets + 1,
				Reflashed: c.state.Reflashed,
				Rejected:  c.state.Rejected,
			}
		case L.ParamPan:
			c.state.Pan = c.data[0]
		case L.ParamAlpha:
			c.state.Alpha = c.data[0]
		case L.ParamBeta:
			c.state.Beta = c.data[0]
		case L.ParamGamma:
			c.state.Gamma = c.data[0]
		case L.ParamSystem:
			if c.data[0] == L.SystemBootloader {
				c.state.Bootloader = true
				c.frame = c.frame[:0]
			}
		}
	}
	c.sound()
}

// bootByte collects bootloader frames and programs flash rows. A frame
// with zero length ends the session.
func (c *chip) bootByte(b byte) {
	c.frame = append(c.frame, b)
	if len(c.frame) < frameHeader {
		return
	}
	length := int(c.frame[0])
	if length == 0 {
		c.state.Bootloader = false
		c.armed = false
		c.state.Reflashed++
		c.frame = c.frame[:0]
		return
	}
	if len(c.frame) < frameHeader+2*length {
		return
	}

	addr := int(c.frame[1])<<8 | int(c.frame[2])
	write := c.frame[3]&0x01 != 0
	switch {
	case !write:
	case addr < c.protected || addr+length > len(c.flash):
		c.state.Rejected++
	default:
		body := c.frame[frameHeader:]
		for i := 0; i < length; i++ {
			c.flash[addr+i] = uint16(body[2*i]) | uint16(body[2*i+1])<<8
		}
	}
	c.frame = c.frame[:0]
}

// sound mirrors the register file onto the tone generator. Tonal
// waveforms play on tone channel 0; the noise waveform plays on the
// noise channel clocked by tone channel 2.
func (c *chip) sound() {
	if c.psg == nil {
		return
	}
	hz := float64(c.state.Frequency) / c.clockMul
	atten := attenuation(c.state.Volume)

	tone, noise := byte(0x0F), byte(0x0F)
	switch c.state.Wave {
	case codeOff:
	case codeNoise:
		noise = atten
		c.writeTone(2, hz)
		if !c.noiseOn {
			c.psg.Write(0xE7) // white noise, rate from tone 2
			c.noiseOn = true
		}
	default:
		tone = atten
		c.writeTone(0, hz)
	}
	if noise == 0x0F {
		c.noiseOn = false
	}
	c.psg.Write(0x90 | tone)
	c.psg.Write(0xBF)
	c.psg.Write(0xDF)
	c.psg.Write(0xF0 | noise)
}

// writeTone programs the 10-bit period of a tone channel.
func (c *chip) writeTone(ch int, hz float64) {
	period := 0
	if hz > 0 {
		period = int(psgClockHz / (32 * hz))
	}
	period = min(max(period, 1), 0x3FF)
	c.psg.Write(0x80 | byte(ch)<<5 | byte(period&0x0F))
	c.psg.Write(byte(period >> 4 & 0x3F))
}

// attenuation maps a linear level byte onto the 2 dB attenuation steps
// of the tone generator.
func attenuation(v byte) byte {
	if v == 0 {
		return 0x0F
	}
	steps := 0
	for level := 255.0; level > float64(v)*1.2589 && steps < 14; level /= 1.2589 {
		steps++
	}
	return byte(steps)
}

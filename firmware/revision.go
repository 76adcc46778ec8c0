package firmware

import (
	"strings"
	"time"
)

// Layout is the command-byte encoding understood by a board's chips.
// The top two bits of a command byte select the class; the low six bits
// carry class data (wave code, frequency high bits, parameter sub-id).
type Layout struct {
	Wave      byte
	Volume    byte
	Frequency byte
	Parameter byte

	// Parameter sub-ids (low six bits of a Parameter command)
	ParamReset  byte // no data byte follows
	ParamPan    byte
	ParamAlpha  byte
	ParamBeta   byte
	ParamGamma  byte
	ParamSystem byte

	// SystemBootloader is the data byte of a ParamSystem command that
	// switches the chip into its resident bootloader.
	SystemBootloader byte
}

// filterParam returns the parameter sub-id for a filter queue class.
func (l Layout) filterParam(c Class) byte {
	switch c {
	case ClassAlpha:
		return l.ParamAlpha
	case ClassBeta:
		return l.ParamBeta
	}
	return l.ParamGamma
}

// DefaultLayout is the command set of the stock chip firmware.
var DefaultLayout = Layout{
	Wave:             0x00,
	Volume:           0x40,
	Frequency:        0x80,
	Parameter:        0xC0,
	ParamReset:       0x00,
	ParamPan:         0x01,
	ParamAlpha:       0x02,
	ParamBeta:        0x03,
	ParamGamma:       0x04,
	ParamSystem:      0x3F,
	SystemBootloader: 0x01,
}

// Revision holds the constants that differ between board revisions.
// Everything else about the firmware is shared.
type Revision struct {
	ID   uint8  // Board revision byte reported by the hardware strap pins
	Name string // Short profile name used by configuration

	Chips       int // Sound generator chips on the shift-register chain
	ShiftLength int // Shift register positions clocked per addressing cycle

	ClockMultiplier float64 // Frequency word = Hz * multiplier
	FilterClockHz   float64 // Chip filter update rate for coefficient math

	Filter bool // Chips implement the resonant filter commands
	Stereo bool // Dual-channel stereo mode is available

	Layout Layout

	FlashWords     int           // Program memory size in 14-bit words
	ErasedWord     uint16        // Value of an erased flash word
	ProtectedWords uint32        // Rows below this word address hold the chip bootloader
	RowWords       int           // Flash row size in words
	RowDelay       time.Duration // Erase+write time allowed per row

	VendorID   [3]byte       // SysEx manufacturer ID
	TickPeriod time.Duration // Scheduler period
}

// R1 is the first board: plain oscillators, small bootloader.
var R1 = Revision{
	ID:              1,
	Name:            "r1",
	Chips:           16,
	ShiftLength:     32,
	ClockMultiplier: 1,
	FilterClockHz:   31250,
	Layout:          DefaultLayout,
	FlashWords:      0x2000,
	ErasedWord:      0x3FFF,
	ProtectedWords:  0x200,
	RowWords:        16,
	RowDelay:        5 * time.Millisecond,
	VendorID:        [3]byte{0x00, 0x46, 0x71},
	TickPeriod:      10 * time.Millisecond,
}

// R2 adds the resonant filter and doubles the oscillator clock.
var R2 = Revision{
	ID:              2,
	Name:            "r2",
	Chips:           16,
	ShiftLength:     32,
	ClockMultiplier: 2,
	FilterClockHz:   62500,
	Filter:          true,
	Layout:          DefaultLayout,
	FlashWords:      0x2000,
	ErasedWord:      0x3FFF,
	ProtectedWords:  0x200,
	RowWords:        16,
	RowDelay:        5 * time.Millisecond,
	VendorID:        [3]byte{0x00, 0x46, 0x71},
	TickPeriod:      10 * time.Millisecond,
}

// R3 adds stereo pairing; its larger bootloader reserves more low flash.
var R3 = Revision{
	ID:              3,
	Name:            "r3",
	Chips:           16,
	ShiftLength:     32,
	ClockMultiplier: 2,
	FilterClockHz:   62500,
	Filter:          true,
	Stereo:          true,
	Layout:          DefaultLayout,
	FlashWords:      0x4000,
	ErasedWord:      0x3FFF,
	ProtectedWords:  0x700,
	RowWords:        16,
	RowDelay:        6 * time.Millisecond,
	VendorID:        [3]byte{0x00, 0x46, 0x71},
	TickPeriod:      10 * time.Millisecond,
}

// Revisions lists the built-in profiles in ID order.
func Revisions() []Revision {
	return []Revision{R1, R2, R3}
}

// LookupRevision finds a built-in profile by name (case-insensitive).
func LookupRevision(name string) (Revision, bool) {
	for _, r := range Revisions() {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Revision{}, false
}

// DefaultRevision returns the newest board profile.
func DefaultRevision() Revision {
	return R3
}

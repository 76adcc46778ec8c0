package firmware

// Line identifies one of the single-bit control outputs.
type Line int

const (
	LineData   Line = iota // Shift register serial input
	LineClock              // Shift register clock
	LineStrobe             // Shift register output latch (chip select pulse)
	LineLatch              // Parallel bus sample pulse
)

func (l Line) String() string {
	switch l {
	case LineData:
		return "data"
	case LineClock:
		return "clock"
	case LineStrobe:
		return "strobe"
	case LineLatch:
		return "latch"
	}
	return "unknown"
}

// Pins drives the controller's GPIO outputs.
type Pins interface {
	Set(line Line, high bool)
	// SetBus drives the 8 parallel data lines, bit 7 first.
	SetBus(b byte)
}

// Timer is the timing source for the bit-banged protocol and the scheduler.
// SleepMicros holds the current line state for the given duration.
type Timer interface {
	NowMicros() uint64
	SleepMicros(us uint32)
}

// Machine exposes the controller-level operations that end normal
// operation. On hardware WatchdogReboot and BootloaderReboot do not return.
type Machine interface {
	BoardRevision() uint8
	WatchdogReboot()
	BootloaderReboot()
}

// PacketWriter sends USB-MIDI packets back to the host.
type PacketWriter interface {
	WritePacket(p Packet) error
}

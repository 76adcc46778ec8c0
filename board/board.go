// Package board simulates the hardware behind the firmware: the shift
// register chip-select chain, the parallel command bus, the sound chips
// with their bootloaders, and the controller's reset lines.
package board

import (
	"log/slog"
	"sync"

	"github.com/user-none/psgmidi/firmware"
)

// Write is one byte latched into one chip.
type Write struct {
	Chip int
	Byte byte
}

// Board implements firmware.Pins, firmware.Machine and
// firmware.PacketWriter.
type Board struct {
	mu  sync.Mutex
	log *slog.Logger
	rev firmware.Revision

	revisionID uint8
	lines      [4]bool
	bus        byte
	shift      []bool
	outputs    []bool

	chips []*chip

	tracing bool
	trace   []Write

	watchdog   int
	bootloader int
	packets    []firmware.Packet
	onPacket   func(firmware.Packet) error

	mixer *mixer
}

// New creates a board wired for rev. The board reports rev.ID as its
// hardware revision.
func New(rev firmware.Revision, log *slog.Logger) *Board {
	if log == nil {
		log = slog.Default()
	}
	b := &Board{
		log:        log,
		rev:        rev,
		revisionID: rev.ID,
		shift:      make([]bool, rev.ShiftLength),
		outputs:    make([]bool, rev.ShiftLength),
		chips:      make([]*chip, rev.Chips),
	}
	for i := range b.chips {
		b.chips[i] = newChip(rev)
	}
	return b
}

// SetBoardRevision changes the revision the board reports.
func (b *Board) SetBoardRevision(id uint8) {
	b.mu.Lock()
	b.revisionID = id
	b.mu.Unlock()
}

// OnPacket installs a sink for packets the firmware sends to the host.
func (b *Board) OnPacket(fn func(firmware.Packet) error) {
	b.mu.Lock()
	b.onPacket = fn
	b.mu.Unlock()
}

// Set drives a control line. Rising clock edges shift the data line into
// the register, rising strobe edges latch the register onto the chip
// interrupt lines and rising latch edges deliver the bus byte to every
// chip still reading a command.
func (b *Board) Set(line firmware.Line, high bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rising := high && !b.lines[line]
	b.lines[line] = high
	if !rising {
		return
	}
	switch line {
	case firmware.LineClock:
		copy(b.shift[1:], b.shift[:len(b.shift)-1])
		b.shift[0] = b.lines[firmware.LineData]
	case firmware.LineStrobe:
		for i, on := range b.shift {
			if on && !b.outputs[i] && i < len(b.chips) {
				b.chips[i].interrupt()
			}
			b.outputs[i] = on
		}
	case firmware.LineLatch:
		for i, c := range b.chips {
			if !c.armed {
				continue
			}
			c.receive(b.bus)
			if b.tracing {
				b.trace = append(b.trace, Write{Chip: i, Byte: b.bus})
			}
		}
	}
}

// SetBus drives the parallel data lines.
func (b *Board) SetBus(v byte) {
	b.mu.Lock()
	b.bus = v
	b.mu.Unlock()
}

// BoardRevision returns the strapped revision byte.
func (b *Board) BoardRevision() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revisionID
}

// WatchdogReboot records a controller reset.
func (b *Board) WatchdogReboot() {
	b.mu.Lock()
	b.watchdog++
	b.mu.Unlock()
	b.log.Warn("controller watchdog reset")
}

// BootloaderReboot records a reboot into the controller's USB bootloader.
func (b *Board) BootloaderReboot() {
	b.mu.Lock()
	b.bootloader++
	b.mu.Unlock()
	b.log.Warn("controller rebooted into bootloader")
}

// WritePacket records a packet sent to the host and forwards it to the
// installed sink.
func (b *Board) WritePacket(p firmware.Packet) error {
	b.mu.Lock()
	b.packets = append(b.packets, p)
	fn := b.onPacket
	b.mu.Unlock()
	if fn != nil {
		return fn(p)
	}
	return nil
}

// Reboots returns the number of watchdog and bootloader reboots.
func (b *Board) Reboots() (watchdog, bootloader int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watchdog, b.bootloader
}

// Packets returns the packets sent to the host so far.
func (b *Board) Packets() []firmware.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]firmware.Packet(nil), b.packets...)
}

// Chips returns the register state of every chip.
func (b *Board) Chips() []ChipState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ChipState, len(b.chips))
	for i, c := range b.chips {
		out[i] = c.state
	}
	return out
}

// Chip returns the register state of chip i.
func (b *Board) Chip(i int) ChipState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chips[i].state
}

// Flash returns a copy of chip i's flash memory.
func (b *Board) Flash(i int) []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint16(nil), b.chips[i].flash...)
}

// Selected reports which chip interrupt lines are high.
func (b *Board) Selected() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int
	for i := range b.chips {
		if b.outputs[i] {
			out = append(out, i)
		}
	}
	return out
}

// Trace starts recording every latched byte.
func (b *Board) Trace() {
	b.mu.Lock()
	b.tracing = true
	b.trace = b.trace[:0]
	b.mu.Unlock()
}

// Writes returns and clears the recorded bytes.
func (b *Board) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.trace
	b.trace = nil
	return out
}

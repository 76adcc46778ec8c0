package firmware

// Edge and byte timing of the shift-register bus, in microseconds.
const (
	edgeHoldUs    = 5  // Hold time for every data/clock/strobe edge
	busSetupUs    = 2  // Parallel data setup before the latch pulse
	latchPulseUs  = 1  // Latch pulse width
	busSettleUs   = 10 // Chip read time after the latch falls
	resetSettleUs = 50 // Chip reset recovery after a reset command
)

// Wire is the bit-banged transport to the chip chain. A chip is
// interrupted by shifting a single 1 bit to its position and pulsing the
// strobe; it then reads one command from the parallel bus, a byte per
// latch pulse.
//
// Wire is not safe for concurrent use; the Synth lock serializes it.
type Wire struct {
	pins   Pins
	timer  Timer
	length int
}

// NewWire creates a transport for a shift register of the given length.
func NewWire(pins Pins, timer Timer, length int) *Wire {
	return &Wire{pins: pins, timer: timer, length: length}
}

func (w *Wire) put(line Line, high bool) {
	w.pins.Set(line, high)
	w.timer.SleepMicros(edgeHoldUs)
}

func (w *Wire) pulse(line Line) {
	w.put(line, true)
	w.put(line, false)
}

// Init clears the shift register outputs.
func (w *Wire) Init() {
	w.put(LineData, false)
	for i := 0; i < w.length; i++ {
		w.pulse(LineClock)
	}
	w.put(LineStrobe, true)
	w.pulse(LineClock)
	w.put(LineStrobe, false)
}

// Address interrupts chip n and shifts the select bit back out.
func (w *Wire) Address(n int) {
	w.put(LineData, true)
	w.pulse(LineClock)
	w.put(LineData, false)
	for i := 0; i < n; i++ {
		w.pulse(LineClock)
	}
	w.pulse(LineStrobe)
	for i := n; i < w.length; i++ {
		w.pulse(LineClock)
	}
	w.pulse(LineStrobe)
}

// Broadcast interrupts every chip on the chain at once, so the next
// command reaches all of them.
func (w *Wire) Broadcast() {
	w.put(LineData, true)
	for i := 0; i < w.length; i++ {
		w.pulse(LineClock)
	}
	w.pulse(LineStrobe)
	w.put(LineData, false)
	for i := 0; i < w.length; i++ {
		w.pulse(LineClock)
	}
	w.pulse(LineStrobe)
}

// SendByte presents b on the parallel bus and latches it into the
// selected chip.
func (w *Wire) SendByte(b byte) {
	w.pins.SetBus(b)
	w.timer.SleepMicros(busSetupUs)
	w.pins.Set(LineLatch, true)
	w.timer.SleepMicros(latchPulseUs)
	w.pins.Set(LineLatch, false)
	w.timer.SleepMicros(busSettleUs)
}

// Write sends one command to chip n.
func (w *Wire) Write(n int, data ...byte) {
	w.Address(n)
	for _, b := range data {
		w.SendByte(b)
	}
}

// Settle waits for a chip-level operation (reset, flash row) to finish.
func (w *Wire) Settle(us uint32) {
	w.timer.SleepMicros(us)
}

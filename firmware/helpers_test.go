package firmware

import (
	"io"
	"log/slog"
	"testing"
)

type pinEvent struct {
	line Line
	high bool
	bus  int // -1 unless the event drove the bus
}

// recordPins logs every line change.
type recordPins struct {
	events []pinEvent
}

func (p *recordPins) Set(line Line, high bool) {
	p.events = append(p.events, pinEvent{line: line, high: high, bus: -1})
}

func (p *recordPins) SetBus(b byte) {
	p.events = append(p.events, pinEvent{bus: int(b)})
}

// rising counts rising edges of line.
func (p *recordPins) rising(line Line) int {
	n := 0
	for _, e := range p.events {
		if e.bus < 0 && e.line == line && e.high {
			n++
		}
	}
	return n
}

func (p *recordPins) bytes() []byte {
	var out []byte
	for _, e := range p.events {
		if e.bus >= 0 {
			out = append(out, byte(e.bus))
		}
	}
	return out
}

type fakeClock struct {
	now   uint64
	slept uint64
}

func (c *fakeClock) NowMicros() uint64 { return c.now }

func (c *fakeClock) SleepMicros(us uint32) {
	c.now += uint64(us)
	c.slept += uint64(us)
}

type fakeMachine struct {
	id         uint8
	watchdog   int
	bootloader int
}

func (m *fakeMachine) BoardRevision() uint8 { return m.id }
func (m *fakeMachine) WatchdogReboot()      { m.watchdog++ }
func (m *fakeMachine) BootloaderReboot()    { m.bootloader++ }

type packetLog struct {
	packets []Packet
}

func (l *packetLog) WritePacket(p Packet) error {
	l.packets = append(l.packets, p)
	return nil
}

type testRig struct {
	synth   *Synth
	pins    *recordPins
	clock   *fakeClock
	machine *fakeMachine
	out     *packetLog
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRig(t *testing.T, rev Revision) *testRig {
	t.Helper()
	r := &testRig{
		pins:    &recordPins{},
		clock:   &fakeClock{},
		machine: &fakeMachine{id: rev.ID},
		out:     &packetLog{},
	}
	s, err := New(Config{Revision: rev, Logger: quietLogger()}, Hardware{
		Pins:    r.pins,
		Timer:   r.clock,
		Machine: r.machine,
		Out:     r.out,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.synth = s
	return r
}

func (r *testRig) send(t *testing.T, pkts ...Packet) {
	t.Helper()
	if err := r.synth.HandlePackets(pkts...); err != nil {
		t.Fatalf("HandlePackets: %v", err)
	}
}

func noteOn(ch, note, vel byte) Packet {
	return Packet{Code: 0x09, Status: 0x90 | ch, Data1: note, Data2: vel}
}

func noteOff(ch, note, vel byte) Packet {
	return Packet{Code: 0x08, Status: 0x80 | ch, Data1: note, Data2: vel}
}

func control(ch, cc, v byte) Packet {
	return Packet{Code: 0x0B, Status: 0xB0 | ch, Data1: cc, Data2: v}
}

func program(ch, p byte) Packet {
	return Packet{Code: 0x0C, Status: 0xC0 | ch, Data1: p}
}

// sysexPackets splits a complete F0..F7 message into USB-MIDI packets.
func sysexPackets(msg []byte) []Packet {
	var out []Packet
	for len(msg) > 3 {
		out = append(out, Packet{Code: 0x04, Status: msg[0], Data1: msg[1], Data2: msg[2]})
		msg = msg[3:]
	}
	p := Packet{Code: 0x04 + byte(len(msg))}
	b := [3]byte{}
	copy(b[:], msg)
	p.Status, p.Data1, p.Data2 = b[0], b[1], b[2]
	return append(out, p)
}

// Package midiport connects host MIDI ports to the firmware through the
// gomidi driver layer.
package midiport

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/user-none/psgmidi/bridge"
	"github.com/user-none/psgmidi/firmware"
)

// sysExBufferSize fits the largest HEX upload the firmware accepts.
const sysExBufferSize = 128 << 10

// Ports lists the names of the host MIDI inputs and outputs.
func Ports() (ins, outs []string) {
	for _, in := range midi.GetInPorts() {
		ins = append(ins, in.String())
	}
	for _, out := range midi.GetOutPorts() {
		outs = append(outs, out.String())
	}
	return ins, outs
}

// FindIn returns the first input whose name contains fragment, ignoring
// case. When virtual is set and nothing matches, a virtual input named
// fragment is created instead.
func FindIn(fragment string, virtual bool) (drivers.In, error) {
	lower := strings.ToLower(fragment)
	for _, in := range midi.GetInPorts() {
		if strings.Contains(strings.ToLower(in.String()), lower) {
			return in, nil
		}
	}
	if virtual {
		drv, ok := drivers.Get().(*rtmididrv.Driver)
		if !ok {
			return nil, errors.New("midi driver does not support virtual ports")
		}
		in, err := drv.OpenVirtualIn(fragment)
		return in, errors.Wrapf(err, "open virtual input %q", fragment)
	}
	return nil, errors.Errorf("no MIDI input contains %q", fragment)
}

// FindOut returns the first output whose name contains fragment,
// ignoring case, or a virtual output as FindIn does.
func FindOut(fragment string, virtual bool) (drivers.Out, error) {
	lower := strings.ToLower(fragment)
	for _, out := range midi.GetOutPorts() {
		if strings.Contains(strings.ToLower(out.String()), lower) {
			return out, nil
		}
	}
	if virtual {
		drv, ok := drivers.Get().(*rtmididrv.Driver)
		if !ok {
			return nil, errors.New("midi driver does not support virtual ports")
		}
		out, err := drv.OpenVirtualOut(fragment)
		return out, errors.Wrapf(err, "open virtual output %q", fragment)
	}
	return nil, errors.Errorf("no MIDI output contains %q", fragment)
}

// Listener feeds messages from a MIDI input to a sink.
type Listener struct {
	sink bridge.Sink
	log  *slog.Logger

	mu     sync.Mutex
	stop   func()
	halted bool
}

// NewListener creates a listener. Nothing is received until Listen.
func NewListener(sink bridge.Sink, log *slog.Logger) *Listener {
	return &Listener{sink: sink, log: log}
}

// Listen starts receiving from in. The port is opened when needed.
func (l *Listener) Listen(in drivers.In) error {
	if !in.IsOpen() {
		if err := in.Open(); err != nil {
			return errors.Wrapf(err, "open MIDI input %q", in.String())
		}
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		l.handle(msg)
	}, midi.UseSysEx(), midi.SysExBufferSize(sysExBufferSize), midi.HandleError(func(err error) {
		l.log.Warn("MIDI listener error", "port", in.String(), "err", err)
	}))
	if err != nil {
		return errors.Wrapf(err, "listen on %q", in.String())
	}

	l.mu.Lock()
	l.stop = stop
	l.mu.Unlock()
	l.log.Info("MIDI input connected", "port", in.String())
	return nil
}

// Stop ends listening. It is safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	stop := l.stop
	l.stop = nil
	l.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (l *Listener) handle(msg midi.Message) {
	pkts := bridge.Frame(msg.Bytes())
	if len(pkts) == 0 {
		return
	}
	err := l.sink.HandlePackets(pkts...)
	if err == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if errors.Is(err, firmware.ErrHalted) {
		if !l.halted {
			l.log.Info("firmware halted, input is ignored")
		}
		l.halted = true
		return
	}
	l.log.Warn("deliver MIDI", "msg", msg.String(), "err", err)
}

// Output sends firmware packets to a MIDI output.
type Output struct {
	send func(msg midi.Message) error
}

// NewOutput opens out for sending.
func NewOutput(out drivers.Out) (*Output, error) {
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, errors.Wrapf(err, "open MIDI output %q", out.String())
	}
	return &Output{send: send}, nil
}

// WritePacket sends the MIDI bytes carried by p.
func (o *Output) WritePacket(p firmware.Packet) error {
	b := bridge.PacketBytes(p)
	if len(b) == 0 {
		return nil
	}
	return errors.Wrapf(o.send(midi.Message(b)), "send %v", p)
}

// Close releases every port opened through the driver.
func Close() {
	midi.CloseDriver()
}

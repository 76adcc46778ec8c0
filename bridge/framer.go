// Package bridge converts host MIDI sources into the 4-byte USB-MIDI
// event packets the firmware consumes.
package bridge

import (
	"github.com/user-none/psgmidi/firmware"
)

// Sink consumes bursts of packets. *firmware.Synth implements it.
type Sink interface {
	HandlePackets(pkts ...firmware.Packet) error
}

// Code index numbers of the USB-MIDI event packet.
const (
	cinCommon2     = 0x2 // Two-byte system common message
	cinCommon3     = 0x3 // Three-byte system common message
	cinSysEx       = 0x4 // SysEx starts or continues
	cinSysExEnd1   = 0x5 // SysEx ends with one byte, or single-byte common message
	cinSysExEnd2   = 0x6
	cinSysExEnd3   = 0x7
	cinSingleByte  = 0xF
	maxPacketBytes = 3
)

// Framer splits a raw MIDI byte stream into event packets. It tracks
// running status and packs SysEx data three bytes per packet, marking
// the packet that carries the closing F7 with the matching end code.
// Realtime bytes are passed through as single-byte packets, even in the
// middle of another message.
type Framer struct {
	cable byte

	status byte
	need   int
	cin    byte
	data   [2]byte
	n      int

	inSysEx bool
	sysex   [maxPacketBytes]byte
	sn      int

	out []firmware.Packet
}

// NewFramer creates a framer that stamps packets with the given cable.
func NewFramer(cable byte) *Framer {
	return &Framer{cable: cable & 0x0F}
}

// Write feeds bytes to the framer. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	for _, b := range p {
		f.feed(b)
	}
	return len(p), nil
}

// Packets returns and clears the completed packets.
func (f *Framer) Packets() []firmware.Packet {
	out := f.out
	f.out = nil
	return out
}

func (f *Framer) emit(cin, status, d1, d2 byte) {
	f.out = append(f.out, firmware.Packet{Code: f.cable<<4 | cin, Status: status, Data1: d1, Data2: d2})
}

func (f *Framer) feed(b byte) {
	switch {
	case b >= 0xF8:
		f.emit(cinSingleByte, b, 0, 0)
	case b == 0xF0:
		f.status = 0
		f.inSysEx = true
		f.sysex[0] = b
		f.sn = 1
	case b == 0xF7:
		if !f.inSysEx {
			return
		}
		f.sysex[f.sn] = b
		f.sn++
		f.emit(cinSysExEnd1+byte(f.sn-1), f.sysex[0], f.at(1), f.at(2))
		f.inSysEx = false
		f.sn = 0
	case b&0x80 != 0:
		f.inSysEx = false
		f.startMessage(b)
	case f.inSysEx:
		f.sysex[f.sn] = b
		f.sn++
		if f.sn == maxPacketBytes {
			f.emit(cinSysEx, f.sysex[0], f.sysex[1], f.sysex[2])
			f.sn = 0
		}
	default:
		f.dataByte(b)
	}
}

// at returns the staged SysEx byte i, or zero past the end.
func (f *Framer) at(i int) byte {
	if i < f.sn {
		return f.sysex[i]
	}
	return 0
}

func (f *Framer) startMessage(b byte) {
	f.status = b
	f.n = 0
	switch {
	case b < 0xF0:
		f.cin = b >> 4
		f.need = 2
		if hi := b & 0xF0; hi == 0xC0 || hi == 0xD0 {
			f.need = 1
		}
	case b == 0xF1 || b == 0xF3:
		f.cin = cinCommon2
		f.need = 1
	case b == 0xF2:
		f.cin = cinCommon3
		f.need = 2
	default:
		// Tune request and undefined common messages carry no data
		f.emit(cinSysExEnd1, b, 0, 0)
		f.status = 0
	}
}

func (f *Framer) dataByte(b byte) {
	if f.status == 0 {
		return
	}
	f.data[f.n] = b
	f.n++
	if f.n < f.need {
		return
	}
	d2 := byte(0)
	if f.need == 2 {
		d2 = f.data[1]
	}
	f.emit(f.cin, f.status, f.data[0], d2)
	f.n = 0
	if f.status >= 0xF0 {
		// No running status for system common messages
		f.status = 0
	}
}

// Frame converts one complete MIDI message into packets.
func Frame(msg []byte) []firmware.Packet {
	f := NewFramer(0)
	f.Write(msg)
	return f.Packets()
}

// PacketBytes returns the MIDI bytes carried by a packet.
func PacketBytes(p firmware.Packet) []byte {
	b := p.Bytes()
	switch p.CIN() {
	case cinSysExEnd1, cinSingleByte:
		return b[1:2]
	case cinCommon2, cinSysExEnd2, 0xC, 0xD:
		return b[1:3]
	case 0x0, 0x1:
		return nil
	}
	return b[1:4]
}

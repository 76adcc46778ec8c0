package firmware

import "time"

// Bootloader frame flags.
const (
	frameWrite   = 0x01
	frameEndSize = 4
)

// reprogram writes img into every chip through their resident
// bootloaders and reboots the controller. Rows below the revision's
// protected range hold the chip bootloader and are never sent.
// Must hold s.mu.
func (s *Synth) reprogram(img *Image) {
	L := s.rev.Layout
	row := s.rev.RowWords
	delay := uint32(s.rev.RowDelay / time.Microsecond)

	s.log.Warn("reprogramming chips", "extents", len(img.Extents))
	s.wire.Broadcast()
	s.wire.SendByte(L.Parameter | L.ParamSystem)
	s.wire.SendByte(L.SystemBootloader)
	s.wire.Settle(resetSettleUs)

	rows := 0
	for _, e := range img.Extents {
		for a := e.Start; a+row <= e.End && a+row <= len(img.Words); a += row {
			if a < int(s.rev.ProtectedWords) {
				continue
			}
			s.wire.SendByte(byte(row))
			s.wire.SendByte(byte(a >> 8))
			s.wire.SendByte(byte(a))
			s.wire.SendByte(frameWrite)
			for _, w := range img.Words[a : a+row] {
				s.wire.SendByte(byte(w))
				s.wire.SendByte(byte(w >> 8))
			}
			s.wire.Settle(delay)
			rows++
		}
	}
	for i := 0; i < frameEndSize; i++ {
		s.wire.SendByte(0)
	}
	s.wire.Init()

	if s.hw.Out != nil {
		if err := s.hw.Out.WritePacket(ReprogramDone); err != nil {
			s.log.Warn("reprogram notification failed", "error", err)
		}
	}
	s.log.Info("reprogram complete", "rows", rows)
	s.hw.Machine.WatchdogReboot()
	s.halt("reprogram complete")
}

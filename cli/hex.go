package cli

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/user-none/psgmidi/board"
	"github.com/user-none/psgmidi/bridge"
	"github.com/user-none/psgmidi/firmware"
)

// HexReport describes a reprogram run against a simulated board.
type HexReport struct {
	Extents []firmware.Extent
	Dropped int
	Chips   []board.ChipState
	Done    bool          // Host saw the reprogram-complete packet
	Elapsed time.Duration // Bus and row-programming time
}

// Rows returns the flash rows each chip is sent: every full row of an
// extent outside the protected bootloader area.
func (h *HexReport) Rows(rev firmware.Revision) int {
	rows := 0
	for _, e := range h.Extents {
		for a := e.Start; a+rev.RowWords <= e.End; a += rev.RowWords {
			if a >= int(rev.ProtectedWords) {
				rows++
			}
		}
	}
	return rows
}

// DryRunHex sends an Intel HEX upload through a fresh firmware instance
// wired to a simulated board with a virtual clock, so nothing sleeps.
func DryRunHex(rev firmware.Revision, text []byte, log *slog.Logger) (*HexReport, error) {
	img, err := firmware.ParseHex(text, rev.FlashWords, rev.ErasedWord, rev.RowWords)
	if err != nil {
		return nil, err
	}

	b := board.New(rev, log)
	clock := &board.VirtualClock{}
	s, err := firmware.New(firmware.Config{Revision: rev, Logger: log}, firmware.Hardware{
		Pins:    b,
		Timer:   clock,
		Machine: b,
		Out:     b,
	})
	if err != nil {
		return nil, err
	}

	start := clock.NowMicros()
	err = s.HandlePackets(bridge.Frame(rev.HexUploadMessage(text))...)
	if !errors.Is(err, firmware.ErrHalted) {
		return nil, errors.New("firmware did not run the reprogram sequence")
	}

	rep := &HexReport{
		Extents: img.Extents,
		Dropped: img.Dropped,
		Chips:   b.Chips(),
		Elapsed: time.Duration(clock.NowMicros()-start) * time.Microsecond,
	}
	for _, p := range b.Packets() {
		if p == firmware.ReprogramDone {
			rep.Done = true
		}
	}
	return rep, nil
}

// Package smfplay plays Standard MIDI Files into the firmware.
package smfplay

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/user-none/psgmidi/bridge"
	"github.com/user-none/psgmidi/firmware"
)

// Event is a channel or system message at an offset from the start of
// the file.
type Event struct {
	At  time.Duration
	Msg []byte
}

// Load reads every playable message from all tracks of a file, merged
// into time order. Meta events are dropped.
func Load(r io.Reader) ([]Event, error) {
	var events []Event
	tr := smf.ReadTracksFrom(r).Do(func(ev smf.TrackEvent) {
		if !ev.Message.IsPlayable() {
			return
		}
		events = append(events, Event{
			At:  time.Duration(ev.AbsMicroSeconds) * time.Microsecond,
			Msg: append([]byte(nil), ev.Message.Bytes()...),
		})
	})
	if err := tr.Error(); err != nil {
		return nil, errors.Wrap(err, "read midi file")
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })
	return events, nil
}

// LoadFile reads a file from disk with Load.
func LoadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open midi file")
	}
	defer f.Close()
	return Load(f)
}

// Player delivers events to a sink at their offsets.
type Player struct {
	sink bridge.Sink
	log  *slog.Logger

	// Wait blocks for d or until ctx is done.
	Wait func(ctx context.Context, d time.Duration) error
}

// NewPlayer creates a player that waits in real time.
func NewPlayer(sink bridge.Sink, log *slog.Logger) *Player {
	return &Player{sink: sink, log: log, Wait: wait}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play sends events in order. Events sharing an offset are delivered as
// one burst. It returns nil when the events are exhausted or the
// firmware halts, and the context error when cancelled.
func (p *Player) Play(ctx context.Context, events []Event) error {
	var at time.Duration
	for i := 0; i < len(events); {
		if err := p.Wait(ctx, events[i].At-at); err != nil {
			return err
		}
		at = events[i].At

		var pkts []firmware.Packet
		for ; i < len(events) && events[i].At == at; i++ {
			pkts = append(pkts, bridge.Frame(events[i].Msg)...)
		}
		if len(pkts) == 0 {
			continue
		}
		if err := p.sink.HandlePackets(pkts...); err != nil {
			if errors.Is(err, firmware.ErrHalted) {
				p.log.Info("firmware halted, stopping playback", "at", at)
				return nil
			}
			return err
		}
	}
	return nil
}

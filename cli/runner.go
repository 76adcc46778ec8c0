// Package cli runs the firmware against the simulated board with host
// audio, MIDI sources and a status endpoint around it.
package cli

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/user-none/psgmidi/board"
	"github.com/user-none/psgmidi/bridge"
	"github.com/user-none/psgmidi/config"
	"github.com/user-none/psgmidi/firmware"
	"github.com/user-none/psgmidi/ui"
)

// ErrBootloader is returned by Run once the controller has rebooted into
// its USB bootloader; only a host-side flash tool can continue from there.
var ErrBootloader = errors.New("controller is in its bootloader")

// Source feeds MIDI into a sink until ctx is done. A source that stops,
// with or without an error, is treated as disconnected; the instrument
// keeps running.
type Source func(ctx context.Context, sink bridge.Sink) error

// Runner owns one simulated instrument: the firmware, the board it
// drives and the host audio output. After a watchdog reset the firmware
// is booted again on the same board, as the hardware would.
type Runner struct {
	cfg  config.Config
	rev  firmware.Revision
	bank *firmware.Bank
	log  *slog.Logger

	board *board.Board
	clock firmware.Timer

	mu    sync.RWMutex
	synth *firmware.Synth
	boots int

	player   *ui.Player
	renderer *ui.Renderer
	started  time.Time
}

// NewRunner boots the firmware. Audio initialization failure is
// non-fatal; the runner works without sound.
func NewRunner(cfg config.Config, log *slog.Logger) (*Runner, error) {
	rev, err := cfg.BoardRevision()
	if err != nil {
		return nil, err
	}
	bank, err := cfg.Bank()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:     cfg,
		rev:     rev,
		bank:    bank,
		log:     log,
		board:   board.New(rev, log),
		clock:   board.NewRealClock(),
		started: time.Now(),
	}
	if err := r.boot(); err != nil {
		return nil, err
	}

	if cfg.Audio.Enabled {
		r.board.EnableAudio()
		player, err := ui.NewPlayer(board.SampleRate, cfg.Audio.Volume)
		if err != nil {
			log.Warn("audio initialization failed, running silent", "err", err)
		} else {
			r.player = player
			r.renderer = ui.NewRenderer(r.board, player, board.SampleRate)
		}
	}
	return r, nil
}

// boot starts a fresh firmware instance with its own copy of the bank.
func (r *Runner) boot() error {
	bank := *r.bank
	s, err := firmware.New(firmware.Config{Revision: r.rev, Bank: &bank, Logger: r.log}, firmware.Hardware{
		Pins:    r.board,
		Timer:   r.clock,
		Machine: r.board,
		Out:     r.board,
	})
	if err != nil {
		return errors.Wrap(err, "boot firmware")
	}
	r.mu.Lock()
	r.synth = s
	r.boots++
	r.mu.Unlock()
	return nil
}

// Synth returns the running firmware instance.
func (r *Runner) Synth() *firmware.Synth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.synth
}

// Board returns the simulated board.
func (r *Runner) Board() *board.Board {
	return r.board
}

// Revision returns the active profile.
func (r *Runner) Revision() firmware.Revision {
	return r.rev
}

// OnPacket forwards packets the firmware sends to the host.
func (r *Runner) OnPacket(fn func(firmware.Packet) error) {
	r.board.OnPacket(fn)
}

// HandlePackets delivers a burst to the running firmware. Input that
// arrives while the controller restarts after a watchdog reset is lost
// without error; ErrHalted is only returned once the controller sits in
// its bootloader.
func (r *Runner) HandlePackets(pkts ...firmware.Packet) error {
	err := r.Synth().HandlePackets(pkts...)
	if errors.Is(err, firmware.ErrHalted) && !r.inBootloader() {
		return nil
	}
	return err
}

func (r *Runner) inBootloader() bool {
	_, boot := r.board.Reboots()
	return boot > 0
}

// restart decides what follows a halted scheduler: a fresh boot after a
// watchdog reset, or ErrBootloader.
func (r *Runner) restart() error {
	if r.inBootloader() {
		return ErrBootloader
	}
	r.log.Info("restarting firmware after watchdog reset")
	return r.boot()
}

// Run drives the scheduler, audio, status endpoint and every source
// until ctx is cancelled or one of them fails.
func (r *Runner) Run(ctx context.Context, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.schedule(ctx)
	})
	if r.renderer != nil {
		g.Go(func() error {
			return r.renderer.Run(ctx)
		})
	}
	if r.cfg.Status.Addr != "" {
		g.Go(func() error {
			return r.serve(ctx, r.cfg.Status.Addr)
		})
	}
	for i, src := range sources {
		g.Go(func() error {
			if err := src(ctx, r); err != nil {
				r.log.Error("input disconnected", "source", i, "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) schedule(ctx context.Context) error {
	for {
		err := r.Synth().Run(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case !errors.Is(err, firmware.ErrHalted):
			return err
		}
		if err := r.restart(); err != nil {
			return err
		}
	}
}

// Close releases the audio device.
func (r *Runner) Close() {
	if r.player != nil {
		if err := r.player.Close(); err != nil {
			r.log.Warn("close audio", "err", err)
		}
		r.player = nil
	}
}

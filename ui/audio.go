package ui

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
)

// ringCapacity is ~170ms at 48kHz stereo 16-bit.
const ringCapacity = 32768

// Player plays interleaved 16-bit stereo samples through oto. Samples
// are staged in a Ring that oto's player pulls from.
type Player struct {
	player *oto.Player
	ring   *Ring
	bytes  []byte
}

// oto allows one context per process.
var (
	otoCtx     *oto.Context
	otoOnce    sync.Once
	otoInitErr error
	otoRate    int
)

func otoContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		}
		var ready chan struct{}
		otoCtx, ready, otoInitErr = oto.NewContext(op)
		if otoInitErr != nil {
			return
		}
		otoRate = sampleRate
		<-ready
	})
	if otoInitErr != nil {
		return nil, otoInitErr
	}
	if otoRate != sampleRate {
		return nil, errors.Errorf("audio context already running at %d Hz", otoRate)
	}
	return otoCtx, nil
}

// NewPlayer opens the host audio device and starts playback of an empty
// ring. volume is 0 (silent) to 1 (full).
func NewPlayer(sampleRate int, volume float64) (*Player, error) {
	ctx, err := otoContext(sampleRate)
	if err != nil {
		return nil, errors.Wrap(err, "audio not available")
	}

	ring := NewRing(ringCapacity)
	player := ctx.NewPlayer(ring)
	player.SetBufferSize(sampleRate / 10 * 4)
	player.SetVolume(volume)
	player.Play()

	return &Player{
		player: player,
		ring:   ring,
		bytes:  make([]byte, 0, 4096),
	}, nil
}

// Queue appends samples to the playback ring.
func (p *Player) Queue(samples []int16) {
	if len(samples) == 0 {
		return
	}
	p.bytes = p.bytes[:0]
	for _, s := range samples {
		p.bytes = append(p.bytes, byte(s), byte(s>>8))
	}
	p.ring.Write(p.bytes)
}

// Buffered returns the bytes waiting in the ring and in oto's own buffer.
func (p *Player) Buffered() int {
	return p.ring.Buffered() + p.player.BufferedSize()
}

// Underruns returns how many device reads found the ring short.
func (p *Player) Underruns() int {
	return p.ring.Underruns()
}

// SetVolume sets the playback volume.
func (p *Player) SetVolume(v float64) {
	p.player.SetVolume(v)
}

// Close stops playback.
func (p *Player) Close() error {
	p.ring.Close()
	return errors.Wrap(p.player.Close(), "close audio player")
}

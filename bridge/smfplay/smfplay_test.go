package smfplay

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/user-none/psgmidi/firmware"
)

type sinkLog struct {
	bursts [][]firmware.Packet
	err    error
}

func (s *sinkLog) HandlePackets(pkts ...firmware.Packet) error {
	s.bursts = append(s.bursts, pkts)
	return s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSong(t *testing.T) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(960)

	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(120))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		t.Fatalf("add tempo track: %v", err)
	}

	var notes smf.Track
	notes.Add(0, midi.NoteOn(0, 60, 100))
	notes.Add(0, midi.NoteOn(1, 64, 90))
	notes.Add(960, midi.NoteOff(0, 60))
	notes.Close(0)
	if err := s.Add(notes); err != nil {
		t.Fatalf("add note track: %v", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("write smf: %v", err)
	}
	return buf.Bytes()
}

func TestLoad_Timing(t *testing.T) {
	events, err := Load(bytes.NewReader(writeSong(t)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].At != 0 || events[1].At != 0 {
		t.Errorf("got offsets %v %v, want 0 0", events[0].At, events[1].At)
	}
	if d := events[2].At - 500*time.Millisecond; d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("got note off at %v, want 500ms", events[2].At)
	}
	if !bytes.Equal(events[2].Msg, []byte{0x80, 60, 0}) {
		t.Errorf("got % X, want 80 3C 00", events[2].Msg)
	}
}

func TestLoad_Garbage(t *testing.T) {
	if _, err := Load(bytes.NewReader([]byte("not a midi file"))); err == nil {
		t.Error("expected error")
	}
}

func TestPlayer_Bursts(t *testing.T) {
	sink := &sinkLog{}
	p := NewPlayer(sink, quietLogger())
	var waits []time.Duration
	p.Wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	events := []Event{
		{At: 0, Msg: []byte{0x90, 60, 100}},
		{At: 0, Msg: []byte{0x91, 64, 100}},
		{At: 250 * time.Millisecond, Msg: []byte{0x80, 60, 0}},
	}
	if err := p.Play(context.Background(), events); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(sink.bursts) != 2 {
		t.Fatalf("got %d bursts, want 2", len(sink.bursts))
	}
	if len(sink.bursts[0]) != 2 {
		t.Errorf("got %d packets in first burst, want 2", len(sink.bursts[0]))
	}
	if len(waits) != 2 || waits[0] != 0 || waits[1] != 250*time.Millisecond {
		t.Errorf("got waits %v, want [0 250ms]", waits)
	}
}

func TestPlayer_StopsOnHalt(t *testing.T) {
	sink := &sinkLog{err: firmware.ErrHalted}
	p := NewPlayer(sink, quietLogger())
	p.Wait = func(context.Context, time.Duration) error { return nil }

	events := []Event{
		{At: 0, Msg: []byte{0xFF}},
		{At: time.Second, Msg: []byte{0x90, 60, 100}},
	}
	if err := p.Play(context.Background(), events); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(sink.bursts) != 1 {
		t.Errorf("got %d bursts, want 1", len(sink.bursts))
	}
}

func TestPlayer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPlayer(&sinkLog{}, quietLogger())
	err := p.Play(ctx, []Event{{At: time.Second, Msg: []byte{0x90, 60, 100}}})
	if err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

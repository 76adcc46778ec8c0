package serialmidi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"testing/iotest"

	"github.com/user-none/psgmidi/firmware"
)

type sinkLog struct {
	bursts [][]firmware.Packet
	haltAt int
}

func (s *sinkLog) HandlePackets(pkts ...firmware.Packet) error {
	s.bursts = append(s.bursts, pkts)
	if s.haltAt > 0 && len(s.bursts) >= s.haltAt {
		return firmware.ErrHalted
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPump_SplitMessages(t *testing.T) {
	stream := []byte{0x90, 60, 100, 62, 100, 0x80, 60, 0}
	sink := &sinkLog{}
	err := Pump(context.Background(), iotest.OneByteReader(bytes.NewReader(stream)), sink, quietLogger())
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}

	var got []firmware.Packet
	for _, b := range sink.bursts {
		got = append(got, b...)
	}
	want := []firmware.Packet{
		{Code: 0x09, Status: 0x90, Data1: 60, Data2: 100},
		{Code: 0x09, Status: 0x90, Data1: 62, Data2: 100},
		{Code: 0x08, Status: 0x80, Data1: 60, Data2: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("packet %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPump_StopsOnHalt(t *testing.T) {
	stream := []byte{0x90, 60, 100, 0x90, 62, 100}
	sink := &sinkLog{haltAt: 1}
	err := Pump(context.Background(), iotest.HalfReader(bytes.NewReader(stream)), sink, quietLogger())
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(sink.bursts) != 1 {
		t.Errorf("got %d bursts, want 1", len(sink.bursts))
	}
}

func TestPump_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &sinkLog{}
	if err := Pump(ctx, bytes.NewReader([]byte{0x90, 60, 100}), sink, quietLogger()); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(sink.bursts) != 0 {
		t.Errorf("got %d bursts, want 0", len(sink.bursts))
	}
}

func TestPump_ReadError(t *testing.T) {
	sink := &sinkLog{}
	err := Pump(context.Background(), iotest.ErrReader(io.ErrUnexpectedEOF), sink, quietLogger())
	if err == nil {
		t.Error("expected error")
	}
}

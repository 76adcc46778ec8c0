package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/user-none/psgmidi/bridge"
	"github.com/user-none/psgmidi/config"
	"github.com/user-none/psgmidi/firmware"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.Enabled = false
	cfg.Status.Addr = ""
	r, err := NewRunner(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func get(t *testing.T, h http.Handler, method, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	if v != nil {
		if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return rec.Code
}

func TestRouter_Status(t *testing.T) {
	r := newTestRunner(t)
	var st Status
	if code := get(t, r.Router(), http.MethodGet, "/status", &st); code != http.StatusOK {
		t.Fatalf("got %d, want 200", code)
	}
	if st.Revision != "r3" || st.BoardID != 3 {
		t.Errorf("got revision %s id %d", st.Revision, st.BoardID)
	}
	if st.Mode != "poly" || st.Halted || st.Boots != 1 {
		t.Errorf("got %+v", st)
	}
	if st.Audio != nil {
		t.Error("audio status reported with audio disabled")
	}
}

func TestRouter_Channels(t *testing.T) {
	r := newTestRunner(t)
	if err := r.HandlePackets(firmware.Packet{Code: 0x09, Status: 0x90, Data1: 69, Data2: 100}); err != nil {
		t.Fatal(err)
	}

	var chans []firmware.ChannelState
	if code := get(t, r.Router(), http.MethodGet, "/channels", &chans); code != http.StatusOK {
		t.Fatalf("got %d, want 200", code)
	}
	if len(chans) != 16 {
		t.Fatalf("got %d channels, want 16", len(chans))
	}
	if chans[0].Note != 69 || chans[0].Owner != 0 {
		t.Errorf("got channel 0 %+v", chans[0])
	}
}

func TestRouter_Chips(t *testing.T) {
	r := newTestRunner(t)
	var chips []json.RawMessage
	if code := get(t, r.Router(), http.MethodGet, "/chips", &chips); code != http.StatusOK {
		t.Fatalf("got %d, want 200", code)
	}
	if len(chips) != 16 {
		t.Errorf("got %d chips, want 16", len(chips))
	}
}

func TestRouter_AudioDisabled(t *testing.T) {
	r := newTestRunner(t)
	if code := get(t, r.Router(), http.MethodPost, "/audio/pause", nil); code != http.StatusConflict {
		t.Errorf("got %d, want 409", code)
	}
}

func TestRunner_WatchdogRestart(t *testing.T) {
	r := newTestRunner(t)
	first := r.Synth()

	if err := r.HandlePackets(firmware.Packet{Code: 0x0F, Status: 0xFF}); err != nil {
		t.Fatalf("full reset: got %v, want nil", err)
	}
	if !first.Halted() {
		t.Fatal("full reset did not halt the firmware")
	}
	if err := r.restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if r.Synth() == first || r.Synth().Halted() {
		t.Error("firmware not rebooted")
	}

	var st Status
	get(t, r.Router(), http.MethodGet, "/status", &st)
	if st.Boots != 2 || st.Watchdog != 1 {
		t.Errorf("got boots %d watchdog %d, want 2 1", st.Boots, st.Watchdog)
	}
}

func TestRunner_BootloaderIsTerminal(t *testing.T) {
	r := newTestRunner(t)
	msg := r.Revision().BootloaderRebootMessage()
	err := r.HandlePackets(bridge.Frame(msg)...)
	if !errors.Is(err, firmware.ErrHalted) {
		t.Fatalf("got %v, want ErrHalted", err)
	}
	if err := r.restart(); !errors.Is(err, ErrBootloader) {
		t.Errorf("got %v, want ErrBootloader", err)
	}
}

func TestRunner_BankCopiedPerBoot(t *testing.T) {
	r := newTestRunner(t)
	patch := r.bank[5]
	patch.Detune = 7
	msg, err := r.Revision().InstrumentUploadMessage(5, &patch)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.HandlePackets(bridge.Frame(msg)...); err != nil {
		t.Fatal(err)
	}
	if r.bank[5].Detune == 7 {
		t.Error("upload changed the boot bank")
	}
}

func TestRunner_RunSources(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	fed := make(chan struct{})
	src := func(ctx context.Context, sink bridge.Sink) error {
		defer close(fed)
		return sink.HandlePackets(bridge.Frame([]byte{0x90, 60, 100})...)
	}
	if err := r.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-fed

	if got := r.Board().Chip(0).Frequency; got == 0 {
		t.Error("note never reached chip 0")
	}
}

func TestRunner_FailedSourceKeepsRunning(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	failing := func(context.Context, bridge.Sink) error {
		return errors.New("device unplugged")
	}
	if err := r.Run(ctx, failing); err != nil {
		t.Errorf("got %v, want nil", err)
	}
	if ctx.Err() == nil {
		t.Error("Run returned before the context ended")
	}
}

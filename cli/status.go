package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Status is the body of GET /status.
type Status struct {
	Revision    string       `json:"revision"`
	BoardID     uint8        `json:"board_id"`
	Mode        string       `json:"mode"`
	Stereo      bool         `json:"stereo"`
	Halted      bool         `json:"halted"`
	Boots       int          `json:"boots"`
	Watchdog    int          `json:"watchdog_resets"`
	Bootloader  int          `json:"bootloader_reboots"`
	Uptime      string       `json:"uptime"`
	Audio       *AudioStatus `json:"audio,omitempty"`
	PacketsSent int          `json:"packets_sent"`
}

// AudioStatus reports host playback.
type AudioStatus struct {
	Paused    bool   `json:"paused"`
	Frames    uint64 `json:"frames"`
	Underruns int    `json:"underruns"`
}

// Router serves the read-only instrument state plus audio pause control.
func (r *Runner) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.SetHeader("Content-Type", "application/json"))

	mux.Get("/status", r.handleStatus)
	mux.Get("/channels", r.handleChannels)
	mux.Get("/chips", r.handleChips)
	mux.Route("/audio", func(ar chi.Router) {
		ar.Post("/pause", r.handlePause(true))
		ar.Post("/resume", r.handlePause(false))
	})
	return mux
}

func (r *Runner) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			r.log.Error("status server shutdown", "err", err)
		}
	}()

	r.log.Info("status server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (r *Runner) status() Status {
	s := r.Synth()
	mode, dual := s.Mode()
	wd, boot := r.board.Reboots()

	r.mu.RLock()
	boots := r.boots
	r.mu.RUnlock()

	st := Status{
		Revision:    r.rev.Name,
		BoardID:     r.board.BoardRevision(),
		Mode:        mode.String(),
		Stereo:      dual,
		Halted:      s.Halted(),
		Boots:       boots,
		Watchdog:    wd,
		Bootloader:  boot,
		Uptime:      time.Since(r.started).Round(time.Second).String(),
		PacketsSent: len(r.board.Packets()),
	}
	if r.renderer != nil {
		st.Audio = &AudioStatus{
			Paused:    r.renderer.Paused(),
			Frames:    r.renderer.Frames(),
			Underruns: r.player.Underruns(),
		}
	}
	return st
}

func (r *Runner) handleStatus(w http.ResponseWriter, _ *http.Request) {
	r.writeJSON(w, http.StatusOK, r.status())
}

func (r *Runner) handleChannels(w http.ResponseWriter, _ *http.Request) {
	r.writeJSON(w, http.StatusOK, r.Synth().Snapshot())
}

func (r *Runner) handleChips(w http.ResponseWriter, _ *http.Request) {
	r.writeJSON(w, http.StatusOK, r.board.Chips())
}

func (r *Runner) handlePause(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if r.renderer == nil {
			r.writeJSON(w, http.StatusConflict, map[string]string{"error": "audio disabled"})
			return
		}
		if pause {
			r.renderer.Pause()
		} else {
			r.renderer.Resume()
		}
		r.writeJSON(w, http.StatusOK, map[string]bool{"paused": pause})
	}
}

func (r *Runner) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.log.Warn("write status response", "err", err)
	}
}

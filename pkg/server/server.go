// Package server exposes a running playback over HTTP: prometheus
// metrics, the playback status and seek/pause controls.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jdeisenh/abrplay/pkg/output"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Player is the part of the playlist manager the server drives
type Player interface {
	Session() string
	Time() (time.Duration, bool)
	Length() (time.Duration, error)
	Position() (float64, error)
	Paused() bool
	SetTime(t time.Duration) error
	SetPauseState(paused bool) error
}

// Status is the body of GET /status
type Status struct {
	Session  string                             `json:"session"`
	Time     *float64                           `json:"time,omitempty"`
	Length   *float64                           `json:"length,omitempty"`
	Position *float64                           `json:"position,omitempty"`
	Paused   bool                               `json:"paused"`
	Streams  map[playlist.ID]output.StreamStats `json:"streams,omitempty"`
}

// Handler serves the player endpoints
type Handler struct {
	player  Player
	counter *output.Counter
	log     zerolog.Logger
}

// NewHandler returns a Handler for player. counter may be nil.
func NewHandler(player Player, counter *output.Counter, log zerolog.Logger) *Handler {
	return &Handler{player: player, counter: counter, log: log}
}

// Router mounts the endpoints on a chi router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestLogger)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", h.GetStatus)
	r.Post("/seek", h.Seek)
	r.Post("/pause", h.pause(true))
	r.Post("/resume", h.pause(false))
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("Request")
	})
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Session: h.player.Session(),
		Paused:  h.player.Paused(),
	}
	if t, ok := h.player.Time(); ok {
		st.Time = seconds(t)
	}
	if l, err := h.player.Length(); err == nil && l > 0 {
		st.Length = seconds(l)
	}
	if p, err := h.player.Position(); err == nil {
		st.Position = &p
	}
	if h.counter != nil {
		st.Streams = h.counter.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		h.log.Warn().Err(err).Msg("Encode status")
	}
}

// Seek handles POST /seek?t=<seconds or duration>
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	t, err := parseTime(r.URL.Query().Get("t"))
	if err != nil {
		h.log.Debug().Err(err).Msg("Invalid seek")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.player.SetTime(t); err != nil {
		h.log.Info().Err(err).Msgf("Seek to %s rejected", t)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.player.SetPauseState(paused); err != nil {
			h.log.Info().Err(err).Bool("paused", paused).Msg("Pause state")
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

var errNoTime = errors.New("missing t")

// parseTime accepts plain seconds ("12.5") or a Go duration ("1m30s")
func parseTime(s string) (time.Duration, error) {
	if s == "" {
		return 0, errNoTime
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

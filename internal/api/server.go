// Package api serves the concierge's HTTP surface: the live-session
// token endpoint, the calendar availability endpoint, health probes and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Damitimo/Google-Reserva/internal/booking"
	"github.com/Damitimo/Google-Reserva/internal/config"
	"github.com/Damitimo/Google-Reserva/internal/health"
	"github.com/Damitimo/Google-Reserva/internal/observe"
)

const shutdownTimeout = 10 * time.Second

// Server carries the dependencies of the HTTP surface.
type Server struct {
	cfg    config.Config
	store  booking.Store
	health *health.Handler
	log    *slog.Logger
}

// New builds a Server. The health checkers are exposed on /readyz.
func New(cfg config.Config, store booking.Store, log *slog.Logger, checkers ...health.Checker) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		health: health.New(checkers...),
		log:    log,
	}
}

// Handler returns the full route table wrapped in the observability
// middleware:
//
//	GET  /api/live-token    API key for the browser/voice client
//	POST /api/calendar      availability checks and event listing
//	GET  /healthz           liveness
//	GET  /readyz            readiness
//	GET  /metrics           Prometheus metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live-token", s.handleLiveToken)
	mux.HandleFunc("POST /api/calendar", s.handleCalendar)
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// Run serves the handler on the configured listen address until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", srv.Addr, "tls", s.cfg.Server.TLS != nil)
		if tls := s.cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve: %w", err)
	}
}

// handleLiveToken hands the configured API key to the voice client. A
// production deployment would mint ephemeral tokens here instead.
func (s *Server) handleLiveToken(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Live.APIKey == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "API key not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"apiKey": s.cfg.Live.APIKey})
}

// calendarRequest is the JSON body for POST /api/calendar.
type calendarRequest struct {
	Action   string `json:"action"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Duration int    `json:"duration"` // minutes; 0 means the configured slot
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	switch req.Action {
	case "check_availability":
		s.checkAvailability(w, r, req)
	case "get_events":
		s.getEvents(w, r, req)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action"})
	}
}

func (s *Server) checkAvailability(w http.ResponseWriter, r *http.Request, req calendarRequest) {
	date := req.Date
	if date == "" {
		date = "tomorrow"
	}
	timeStr := req.Time
	if timeStr == "" {
		timeStr = "7pm"
	}
	slot := s.cfg.Booking.SlotDuration.Std()
	if req.Duration > 0 {
		slot = time.Duration(req.Duration) * time.Minute
	}

	requested := booking.ParseDateTime(date, timeStr, time.Now())
	dayStart := time.Date(requested.Year(), requested.Month(), requested.Day(), 0, 0, 0, 0, requested.Location())

	events, err := s.store.Events(r.Context(), dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		s.log.Error("calendar lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	avail := booking.CheckAvailability(events, requested, slot, s.cfg.Booking.OpenHour, s.cfg.Booking.CloseHour)
	writeJSON(w, http.StatusOK, avail)
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request, req calendarRequest) {
	start := time.Now()
	if req.Date != "" {
		start = booking.ParseDateTime(req.Date, "12am", time.Now())
	}

	events, err := s.store.Events(r.Context(), start, start.AddDate(0, 0, 7))
	if err != nil {
		s.log.Error("calendar lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if events == nil {
		events = []booking.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"github.com/CWD273/cwiptvm3/internal/config"
	"github.com/CWD273/cwiptvm3/internal/discovery"
	"github.com/CWD273/cwiptvm3/internal/metrics"
	"github.com/CWD273/cwiptvm3/internal/scanner"
)

const (
	requestTimeout        = 30 * time.Second
	defaultRefreshTimeout = 5 * time.Minute
)

// Service is the scanner surface the handlers depend on.
type Service interface {
	Ready() bool
	Lookup(channelID string) (cache.Entry, error)
	Entries() []cache.Entry
	Refresh(ctx context.Context, channelID string) (cache.Entry, error)
	Trigger() error
	LastReport() (scanner.Report, bool)
}

// Server wires HTTP handlers to the scanner.
type Server struct {
	router  chi.Router
	svc     Service
	baseURL string
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:     svc,
		baseURL: strings.TrimRight(cfg.Server.PublicBaseURL, "/"),
		logger:  logger,
	}
	refreshTimeout := cfg.Scanner.CycleTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Get("/stream/{channel_id}", s.redirect)
		r.Get("/playlist.m3u", s.playlist)
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Get("/channels", s.listChannels)
			r.Get("/channels/{channel_id}", s.getChannel)
			r.Post("/scan", s.triggerScan)
			r.Get("/scan/last", s.lastReport)
		})
		// A refresh may walk every alternate origin, so it gets the cycle's budget.
		r.With(timeoutMiddleware(refreshTimeout)).Post("/channels/{channel_id}/refresh", s.refreshChannel)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request) {
	id := streamID(chi.URLParam(r, "channel_id"))
	entry, err := s.svc.Lookup(id)
	if err != nil {
		metrics.ObserveRedirect("miss")
		writeError(w, http.StatusNotFound, "no working stream for channel")
		return
	}
	metrics.ObserveRedirect("hit")
	http.Redirect(w, r, entry.URL, http.StatusFound)
}

// streamID strips the player-friendly extension clients append to stream links.
func streamID(raw string) string {
	for _, ext := range []string{".m3u8", ".ts"} {
		if trimmed, ok := strings.CutSuffix(raw, ext); ok {
			return trimmed
		}
	}
	return raw
}

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	entries := s.svc.Entries()
	if entries == nil {
		entries = []cache.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": entries})
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Lookup(chi.URLParam(r, "channel_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "channel not cached")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) refreshChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channel_id")
	entry, err := s.svc.Refresh(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, entry)
	case errors.Is(err, scanner.ErrUnknownChannel):
		writeError(w, http.StatusNotFound, "channel not in catalog")
	case errors.Is(err, scanner.ErrCycleInProgress):
		writeError(w, http.StatusConflict, "scan cycle in progress")
	case errors.Is(err, discovery.ErrNoWorkingStream):
		writeError(w, http.StatusBadGateway, "no working stream found")
	default:
		s.logger.Error("refresh failed", zap.String("channel_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "refresh failed")
	}
}

func (s *Server) triggerScan(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.Trigger(); err != nil {
		if errors.Is(err, scanner.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, "scan cycle in progress")
			return
		}
		s.logger.Error("trigger scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "trigger failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) lastReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.svc.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle has completed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

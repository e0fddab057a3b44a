// Package web serves the operational status endpoint of the forwarder.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blockedby/tg-autoforwarder/internal/logger"
)

// StatusSource exposes the live numbers the status endpoint reports.
type StatusSource interface {
	TelegramStatus() string
	WatchedChats() []ChatStatus
	HashStoreFill() (fill, capacity int)
	PendingGroups() int
}

// ChatStatus is one watched chat in the status payload.
type ChatStatus struct {
	ID    int64  `json:"id"`
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

// Server is the status HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	source     StatusSource
	startedAt  time.Time
	log        *logger.Logger
}

// statusPayload is the /status response body.
type statusPayload struct {
	Telegram      string       `json:"telegram"`
	Chats         []ChatStatus `json:"chats"`
	HashFill      int          `json:"hash_store_fill"`
	HashCapacity  int          `json:"hash_store_capacity"`
	PendingGroups int          `json:"pending_groups"`
	UptimeSeconds int64        `json:"uptime_seconds"`
}

// NewServer creates the status server on the given port.
func NewServer(port int, source StatusSource) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(10 * time.Second))

	s := &Server{
		router:    router,
		source:    source,
		startedAt: time.Now(),
		log:       logger.Get(),
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.httpServer.Handler = router

	router.Get("/healthz", s.handleHealth)
	router.Get("/status", s.handleStatus)
	return s
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("web: status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	fill, capacity := s.source.HashStoreFill()
	payload := statusPayload{
		Telegram:      s.source.TelegramStatus(),
		Chats:         s.source.WatchedChats(),
		HashFill:      fill,
		HashCapacity:  capacity,
		PendingGroups: s.source.PendingGroups(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("web: failed to encode status")
	}
}

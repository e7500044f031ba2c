// Package web serves the HTTP control surface: health probes, metrics, show
// status and control, and a websocket stream of live events.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/eventbus"
)

// Controller starts, pauses and stops playlists.
type Controller interface {
	PlayPlaylist(name string) error
	Stop()
	Pause() error
	Resume() error
	Status() map[string]any
}

// Config contains listener settings.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	AllowedOrigins  []string // empty allows any origin
}

// Deps are the collaborators of a Server. Only Controller is required.
type Deps struct {
	Controller Controller
	Metrics    http.Handler
	Ready      func() bool
	History    func(limit int) (any, error)
}

// Server is the HTTP control surface.
type Server struct {
	cfg      Config
	deps     Deps
	hub      *Hub
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates a Server. Call Run to listen.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps, hub: NewHub()}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Forward relays bus events to websocket clients.
func (s *Server) Forward(bus *eventbus.Bus) {
	for _, t := range []eventbus.EventType{
		eventbus.EventTypeShowStarted,
		eventbus.EventTypeShowFinished,
		eventbus.EventTypeWarning,
		eventbus.EventTypeConnectivity,
		eventbus.EventTypeSchedule,
		eventbus.EventTypeSnapshot,
	} {
		bus.Subscribe(t, func(e eventbus.Event) {
			s.hub.Broadcast(Message{Type: string(e.Type), Data: e.Data})
		})
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.deps.Controller.Status())
	})
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("POST /play", s.handlePlay)
	mux.HandleFunc("POST /stop", func(w http.ResponseWriter, r *http.Request) {
		s.deps.Controller.Stop()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	})
	mux.HandleFunc("POST /pause", s.transition(s.deps.Controller.Pause, "paused"))
	mux.HandleFunc("POST /resume", s.transition(s.deps.Controller.Resume, "playing"))
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

// Run listens until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.hub.Run(ctx)

	log.Info().Str("addr", addr).Msg("Starting HTTP server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil && !s.deps.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("playlist")
	if name == "" {
		writeError(w, http.StatusBadRequest, "playlist parameter is required")
		return
	}
	if err := s.deps.Controller.PlayPlaylist(name); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "playlist": name})
}

// transition runs a pause or resume; refusals come back as 409.
func (s *Server) transition(fn func() error, status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history is not available")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	entries, err := s.deps.History(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read show history")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Message{Type: "status", Data: s.deps.Controller.Status()}); err != nil {
		conn.Close()
		return
	}

	if !s.hub.Register(conn) {
		conn.Close()
		return
	}
	defer s.hub.Unregister(conn)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	log.Warn().Str("origin", origin).Msg("WebSocket connection blocked")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package server provides the HTTP API and the avatar WebSocket endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarserver/internal/config"
	"github.com/normanking/avatarserver/internal/lipsync"
	"github.com/normanking/avatarserver/internal/logging"
	"github.com/normanking/avatarserver/internal/metrics"
	"github.com/normanking/avatarserver/internal/orchestrator"
)

const (
	serviceName = "Avatar Assistant"

	// maxBodySize bounds JSON request bodies.
	maxBodySize = 1 << 20

	defaultLogLimit = 100
)

// Options are the collaborators of a Server. Metrics and Logs are optional.
type Options struct {
	Config       config.ServerConfig
	TTSProvider  string
	CacheEnabled bool
	Version      string

	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Metrics
	Logs         *logging.Logger
	Logger       zerolog.Logger
}

// Server handles the HTTP API and WebSocket connections
type Server struct {
	opts       Options
	orch       *orchestrator.Orchestrator
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu       sync.Mutex
	sessions map[string]*session
	draining bool
	handlers sync.WaitGroup
}

// New creates a server. Call Handler to mount it or Start to listen.
func New(opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Config.Greeting == "" {
		opts.Config.Greeting = config.DefaultConfig().Server.Greeting
	}

	s := &Server{
		opts:     opts,
		orch:     opts.Orchestrator,
		logger:   opts.Logger.With().Str("component", "server").Logger(),
		sessions: make(map[string]*session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigin(origin) != ""
		},
	}
	return s
}

// Handler returns the routed handler with CORS and panic recovery applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("/api/config", s.instrument("/api/config", s.handleConfig))
	mux.HandleFunc("/api/chat", s.instrument("/api/chat", s.handleChat))
	mux.HandleFunc("/api/cache", s.instrument("/api/cache", s.handleCache))
	mux.HandleFunc("/api/cache/stats", s.instrument("/api/cache/stats", s.handleCacheStats))
	mux.HandleFunc("/api/lipsync", s.instrument("/api/lipsync", s.handleLipSync))
	mux.HandleFunc("/api/logs", s.instrument("/api/logs", s.handleLogs))

	// The recorder in metrics.Middleware cannot be hijacked.
	mux.HandleFunc("/ws/avatar", s.handleWebSocket)

	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics.Handler())
	}

	mux.HandleFunc("/", s.instrument("/", s.handleRoot))

	return s.recoverMiddleware(s.corsMiddleware(mux))
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	if s.opts.Metrics == nil {
		return h
	}
	return s.opts.Metrics.Middleware(endpoint, h)
}

// Start listens until ctx is cancelled, then shuts down gracefully and
// closes open WebSocket sessions.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.opts.Config
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.logger.Info().Str("addr", cfg.Addr()).Msg("Starting avatar server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		if derr := s.drainSessions(shutdownCtx); derr != nil {
			s.logger.Warn().Err(derr).Int("sessions", s.SessionCount()).Msg("WebSocket sessions still open")
		}
		s.logger.Info().Msg("Avatar server stopped")
		return err
	}
}

// drainSessions refuses new WebSocket sessions, closes the open ones and
// waits until their handlers have unregistered.
func (s *Server) drainSessions(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	s.CloseSessions()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}


// CloseSessions disconnects every open WebSocket. Hijacked connections are
// not closed by http.Server.Shutdown.
func (s *Server) CloseSessions() {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// SessionCount returns the number of open WebSocket sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// addSession registers sess and counts its handler. It reports false once
// the server is draining.
func (s *Server) addSession(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.handlers.Add(1)
	s.sessions[sess.id] = sess
	return true
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Detail: msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// handleRoot serves the built frontend when configured, otherwise a banner
// on "/" and 404 elsewhere.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}

	if s.opts.Config.StaticDir != "" && !isAPIPath(r.URL.Path) {
		if s.serveStatic(w, r) {
			return
		}
	}

	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": serviceName,
		"version": s.opts.Version,
	})
}

func isAPIPath(p string) bool {
	for _, prefix := range []string{"/api/", "/ws/", "/health", "/metrics"} {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// serveStatic serves a file from the static directory, falling back to
// index.html for client-side routes. It reports false when there is no
// frontend to serve.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	root := os.DirFS(s.opts.Config.StaticDir)
	if _, err := fs.Stat(root, "index.html"); err != nil {
		return false
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}
	if !fs.ValidPath(path) {
		path = "index.html"
	}
	if info, err := fs.Stat(root, path); err != nil || info.IsDir() {
		r.URL.Path = "/"
	}

	http.FileServer(http.FS(root)).ServeHTTP(w, r)
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	h := s.orch.Health()
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	tts := s.orch.Health().Services["tts"]
	writeJSON(w, http.StatusOK, map[string]any{
		"tts_provider":  s.opts.TTSProvider,
		"websocket_url": "/ws/avatar",
		"features": map[string]bool{
			"voice_input":       true,
			"text_input":        true,
			"emotion_detection": true,
			"lip_sync":          true,
			"tts":               tts.Available,
			"cache":             s.opts.CacheEnabled,
		},
	})
}

type chatRequest struct {
	Text         string `json:"text"`
	IncludeAudio bool   `json:"include_audio"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.orch.Query(r.Context(), req.Text, req.IncludeAudio)
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, orchestrator.MsgTextRequired)
			return
		}
		s.logger.Error().Err(err).Msg("Chat query failed")
		writeError(w, http.StatusInternalServerError, orchestrator.MsgTurnFailed)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	stats, ok := s.orch.CacheStats()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}

	cleared := s.orch.ClearCache()
	if cleared {
		s.logger.Info().Msg("Response cache cleared")
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

type lipSyncRequest struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

func (s *Server) handleLipSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req lipSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	visemes := lipsync.Generate(req.Text, req.Duration)
	writeJSON(w, http.StatusOK, map[string]any{
		"visemes":  visemes,
		"duration": lipsync.TotalDuration(visemes),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	if s.opts.Logs == nil {
		writeJSON(w, http.StatusOK, []logging.LogEntry{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Logs.GetHistory(limit))
}

// corsMiddleware adds CORS headers for allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := s.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if allowed != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the value for Access-Control-Allow-Origin, or "" if
// the origin is not allowed.
func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, o := range s.opts.Config.AllowedOrigins {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Str("stack", string(debug.Stack())).
					Msg("Handler panicked")
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

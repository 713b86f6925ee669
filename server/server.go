// Package server exposes the board over HTTP: the REST API, the
// shared-credential auth layer, and the SSE event stream.
package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"taskdeck/board"
	"taskdeck/config"
	"taskdeck/server/api"
	"taskdeck/stream"
)

// Server is the board HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	board    *board.Orchestrator
	hub      *stream.Hub
	gateway  api.GatewayProber
	handlers *api.Handlers
	signKey  []byte

	startTime time.Time
	version   string
}

// New creates a Server around an orchestrator and event hub.
func New(cfg config.Config, orch *board.Orchestrator, hub *stream.Hub, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		board:     orch,
		hub:       hub,
		signKey:   signingKey(cfg.Auth.Credential),
		startTime: time.Now(),
		version:   ver,
	}
}

// SetGatewayProber attaches the gateway health probe used by the
// status endpoint. Call before Start.
func (s *Server) SetGatewayProber(p api.GatewayProber) {
	s.gateway = p
}

// SetStaticFS sets the filesystem to serve board UI files from.
// Call before Start.
func (s *Server) SetStaticFS(fsys fs.FS) {
	s.mux.Handle("/", http.FileServerFS(fsys))
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	s.registerRoutes()

	if s.authDisabled() {
		s.logger.Warn("auth disabled: no credential configured, the board accepts any caller")
	}

	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Board:          s.board,
		Gateway:        s.gateway,
		GatewayEnabled: s.cfg.Gateway.Enabled,
		Logger:         s.logger,
		Version:        s.version,
		StartAt:        s.startTime.Unix(),
	}
	s.handlers = h

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())
	s.mux.HandleFunc("GET /api/config", s.handleConfig)

	// SSE auth is inline; EventSource cannot set request headers
	s.mux.HandleFunc("GET /events", s.handleSSE)

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleConfig exposes the branding and roster the board UI renders.
// Credentials and system prompts stay server-side.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	type publicAgent struct {
		Name    string `json:"name"`
		Profile string `json:"profile,omitempty"`
	}
	agents := make([]publicAgent, 0, len(s.cfg.Agents))
	for _, a := range s.cfg.Agents {
		agents = append(agents, publicAgent{Name: a.Name, Profile: a.Profile})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":     s.cfg.Project.Name,
		"board_title": s.cfg.Project.BoardTitle,
		"human_name":  s.cfg.Project.HumanName,
		"agents":      agents,
		"auth":        !s.authDisabled(),
	})
}

// handleSSE streams board events to one viewer.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.sseAuthorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.hub.ServeSSE(w, r)
}

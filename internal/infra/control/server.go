package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

const maxBodyBytes = 4096

// SessionControl is the part of the controller exposed over HTTP.
type SessionControl interface {
	Start(ctx context.Context) error
	Stop() error
	Retry(ctx context.Context) error
	SelectCredential(ctx context.Context, key string) error
	Status() application.ControllerStatus
	Transcript() []domain.TranscriptEntry
	UpdateProfile(ctx context.Context, upd application.ProfileUpdate) (domain.Profile, error)
	CloseSong(ctx context.Context) error
}

// Server is the local control API. Session start requests return at once;
// the session runs on the server's base context, not the request's.
type Server struct {
	addr        string
	ctl         SessionControl
	board       *Board
	authToken   string
	logger      *slog.Logger
	mux         *http.ServeMux
	rateLimiter *RateLimiter

	mu      sync.Mutex
	server  *http.Server
	running bool
	base    context.Context
	pending sync.WaitGroup
}

type ServerOptions struct {
	Addr       string
	AuthToken  string
	RateLimit  int
	RateWindow time.Duration
	Metrics    http.Handler
}

func NewServer(opts ServerOptions, ctl SessionControl, board *Board, logger *slog.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 30
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}

	s := &Server{
		addr:        opts.Addr,
		ctl:         ctl,
		board:       board,
		authToken:   opts.AuthToken,
		logger:      logger,
		mux:         http.NewServeMux(),
		rateLimiter: NewRateLimiter(opts.RateLimit, opts.RateWindow),
		base:        context.Background(),
	}

	guarded := func(h http.HandlerFunc) http.HandlerFunc {
		return s.rateLimiter.Middleware(s.requireToken(h))
	}

	s.mux.HandleFunc("POST /session/start", guarded(s.handleStart))
	s.mux.HandleFunc("POST /session/stop", guarded(s.handleStop))
	s.mux.HandleFunc("POST /session/retry", guarded(s.handleRetry))
	s.mux.HandleFunc("POST /credential", guarded(s.handleCredential))
	s.mux.HandleFunc("PATCH /profile", guarded(s.handleProfile))
	s.mux.HandleFunc("DELETE /song", guarded(s.handleCloseSong))
	s.mux.HandleFunc("GET /status", s.requireToken(s.handleStatus))
	s.mux.HandleFunc("GET /transcript", s.requireToken(s.handleTranscript))
	s.mux.HandleFunc("GET /transcript/recent", s.requireToken(s.handleRecentTranscript))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens in the background. ctx becomes the base context of every
// session started through the API.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.base = ctx
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("control server starting", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	return nil
}

// Wait blocks until background session starts issued by handlers return.
func (s *Server) Wait() {
	s.pending.Wait()
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *Server) async(op string, fn func(ctx context.Context) error) {
	ctx := s.baseContext()
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(ctx); err != nil {
			s.logger.Warn("control request failed", "op", op, "error", err)
		}
	}()
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != s.authToken {
				s.logger.Warn("unauthorized control request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.async("start", s.ctl.Start)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	s.async("retry", s.ctl.Retry)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctl.Stop(); err != nil {
		s.logger.Warn("stop reported teardown errors", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := strings.TrimSpace(body.Key)
	if key == "" {
		http.Error(w, "empty key", http.StatusBadRequest)
		return
	}

	s.async("select credential", func(ctx context.Context) error {
		return s.ctl.SelectCredential(ctx, key)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var upd application.ProfileUpdate
	if err := decodeBody(r, &upd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	profile, err := s.ctl.UpdateProfile(r.Context(), upd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleCloseSong(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.CloseSong(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type statusResponse struct {
	application.ControllerStatus
	Board *BoardState `json:"board,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{ControllerStatus: s.ctl.Status()}
	if s.board != nil {
		st := s.board.State()
		resp.Board = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	entries := s.ctl.Transcript()
	if entries == nil {
		entries = []domain.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRecentTranscript(w http.ResponseWriter, _ *http.Request) {
	entries := []domain.TranscriptEntry{}
	if s.board != nil {
		entries = s.board.Transcript()
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.ctl.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"phase":  st.Phase,
	})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("empty body")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var _ SessionControl = (*application.Controller)(nil)

// Package server exposes the question-answering pipeline over HTTP. The API
// is deliberately small: ask a question, inspect personas/tools/stats, fetch
// past sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/datadeskhq/datadesk/internal/config"
	"github.com/datadeskhq/datadesk/internal/logging"
	"github.com/datadeskhq/datadesk/internal/orchestrator"
	"github.com/datadeskhq/datadesk/internal/persona"
	"github.com/datadeskhq/datadesk/internal/session"
	"github.com/datadeskhq/datadesk/internal/tools"
)

// Server is the HTTP front end.
type Server struct {
	orch     *orchestrator.Orchestrator
	personas *persona.Registry
	tools    *tools.Dispatcher
	sessions *session.Store
	cfg      config.ServerConfig
	log      zerolog.Logger
	http     *http.Server
}

// New creates the server. sessions may be nil when session logging is
// disabled.
func New(cfg config.ServerConfig, orch *orchestrator.Orchestrator, personas *persona.Registry, dispatcher *tools.Dispatcher, sessions *session.Store) *Server {
	s := &Server{
		orch:     orch,
		personas: personas,
		tools:    dispatcher,
		sessions: sessions,
		cfg:      cfg,
		log:      logging.Component("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ask", s.handleAsk)
	mux.HandleFunc("GET /api/v1/personas", s.handlePersonas)
	mux.HandleFunc("GET /api/v1/tools", s.handleTools)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.withRequestLog(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe runs the server until the context is cancelled or the
// listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	env := s.orch.Handle(r.Context(), question)
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	type personaInfo struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Tables      []string `json:"tables"`
		Default     bool     `json:"default"`
	}
	var out []personaInfo
	for _, name := range s.personas.Names() {
		p, _ := s.personas.Get(name)
		out = append(out, personaInfo{
			Name:        p.Name,
			Description: p.Description,
			Tables:      p.TableNames(),
			Default:     name == s.personas.DefaultName(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"personas": out})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	type toolInfo struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Examples    []string `json:"examples,omitempty"`
	}
	registry := s.tools.Registry()
	out := make(map[string][]toolInfo)
	for _, personaName := range registry.Personas() {
		for _, d := range registry.ForPersona(personaName) {
			out[personaName] = append(out[personaName], toolInfo{
				Name:        d.Name,
				Description: d.Description,
				Examples:    d.ExampleTriggers,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": s.orch.Stats().Snapshot(),
		"dispatch": s.tools.Stats().Snapshot(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "session logging disabled")
		return
	}
	entries, err := s.sessions.Recent(r.Context(), 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": entries})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "session logging disabled")
		return
	}
	entry, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withRequestLog logs one line per request with method, path, status, and
// latency.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

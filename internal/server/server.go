// Package server exposes the registry over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"schemawatch/internal/config"
	"schemawatch/internal/metrics"
	"schemawatch/internal/registry"
	"schemawatch/internal/ws"
)

// Source is the read side of the service
type Source interface {
	Lookup(dotted string) (registry.Stream, bool)
	Latest(dotted string) (any, bool)
	Pending() []string
	Snapshot() *registry.Registry
}

// Server represents the read API server
type Server struct {
	cfg        config.HTTPConfig
	source     Source
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates a new Server; m may be nil, in which case /metrics answers 404
func New(cfg config.HTTPConfig, source Source, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		source:  source,
		metrics: m,
		logger:  logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /values", s.handleValues)
	mux.HandleFunc("GET /values/{path}", s.handleValue)
	mux.HandleFunc("GET /pending", s.handlePending)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("GET "+ws.PathPrefix+"{path}", ws.NewHandler(s.source, s.logger))
	return mux
}

// Start starts listening in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", addr).
			Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Str("values", fmt.Sprintf("http://%s/values/{path}", addr)).
		Str("stream", fmt.Sprintf("ws://%s%s{path}", addr, ws.PathPrefix)).
		Msg("endpoint available")
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("shutting down server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Streams int    `json:"streams"`
	Pending int    `json:"pending"`
}

type valueResponse struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type pendingResponse struct {
	Pending []string `json:"pending"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Streams: s.source.Snapshot().Len(),
		Pending: len(s.source.Pending()),
	})
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if _, ok := s.source.Lookup(path); !ok {
		http.Error(w, "no stream registered at "+path, http.StatusNotFound)
		return
	}
	value, ok := s.source.Latest(path)
	if !ok {
		http.Error(w, "no value yet at "+path, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, valueResponse{Path: path, Value: ws.EncodeValue(value)})
}

// handleValues lists every registered path with its latest value, if any
func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	values := make([]valueResponse, 0)
	s.source.Snapshot().Walk(func(path []string, _ registry.Stream) {
		dotted := registry.JoinPath(path)
		value, _ := s.source.Latest(dotted)
		values = append(values, valueResponse{Path: dotted, Value: ws.EncodeValue(value)})
	})
	sort.Slice(values, func(i, j int) bool { return values[i].Path < values[j].Path })
	s.writeJSON(w, http.StatusOK, values)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := s.source.Pending()
	if pending == nil {
		pending = []string{}
	}
	s.writeJSON(w, http.StatusOK, pendingResponse{Pending: pending})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal response")
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

package ws

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// PathPrefix is the URL prefix the handler serves; the rest of the URL path is the dotted value path
const PathPrefix = "/stream/"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler streams registry values over WebSocket connections
type Handler struct {
	source Source
	logger zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(source Source, logger zerolog.Logger) *Handler {
	return &Handler{
		source: source,
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := extractPath(r.URL.Path)
	values, ok := h.source.Lookup(path)
	if !ok {
		http.Error(w, "no stream registered at "+path, http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	session := uuid.NewString()
	h.logger.Info().
		Str("path", path).
		Str("session", session).
		Str("remoteAddr", r.RemoteAddr).
		Msg("new WebSocket connection")

	client := NewClient(conn, session, path, h.logger.With().Str("session", session).Logger())
	client.Run(r.Context(), values)
}

// extractPath extracts the dotted value path from a URL path
func extractPath(urlPath string) string {
	return strings.Trim(strings.TrimPrefix(urlPath, PathPrefix), "/")
}

package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/spotauth/internal/shared"
)

const maxMessageBytes = 64 << 10

// MessageHandler is the application's message endpoint. Bodies are forwarded to the inbox untouched;
// decoding and filtering happen in the session controller.
//
//	POST /message  one JSON message per request, Content-Type application/json
//	GET  /ws       websocket, one JSON message per text frame
//
// Both routes refuse requests whose Origin is not allowed.
type MessageHandler struct {
	inbox       Poster
	logger      *log.Logger
	checkOrigin func(*http.Request) bool
	upgrader    websocket.Upgrader
}

// NewMessageHandler forwards to inbox. checkOrigin decides which origins may post; nil allows
// requests without an Origin header and those whose Origin host matches the request host.
func NewMessageHandler(inbox Poster, logger *log.Logger, checkOrigin func(*http.Request) bool) *MessageHandler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if checkOrigin == nil {
		checkOrigin = sameOrigin
	}
	return &MessageHandler{
		inbox:       inbox,
		logger:      logger,
		checkOrigin: checkOrigin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *MessageHandler) Routes() []string {
	return []string{"/message", "/ws"}
}

func (h *MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/message":
		h.servePost(w, r)
	case "/ws":
		h.serveSocket(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *MessageHandler) servePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkOrigin(r) {
		h.logger.Warn("message rejected", "origin", r.Header.Get("Origin"))
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Message too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read message", http.StatusBadRequest)
		return
	}

	if err := h.inbox.Post(r.Context(), body); err != nil {
		h.logger.Warn("message dropped", "error", err)
		http.Error(w, "Session unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *MessageHandler) serveSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := shared.GenerateID()
	logger := h.logger.With("conn", id)
	logger.Debug("websocket connected", "remote", r.RemoteAddr)
	conn.SetReadLimit(maxMessageBytes)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket closed", "error", err)
			} else {
				logger.Debug("websocket disconnected")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := h.inbox.Post(r.Context(), data); err != nil {
			logger.Warn("message dropped", "error", err)
			return
		}
	}
}

// sameOrigin matches gorilla's default websocket check.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// StateHandler serves the current session snapshot as JSON at GET /state.
type StateHandler struct {
	source StateSource
}

func NewStateHandler(source StateSource) *StateHandler {
	return &StateHandler{source: source}
}

func (h *StateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.State())
}

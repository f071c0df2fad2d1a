package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything mounted by [NewRouter].
type Handlers struct {
	Callback *CallbackHandler
	Messages *MessageHandler
	State    *StateHandler
	Logger   *log.Logger
}

// NewRouter mounts the callback, message, state and metrics endpoints. Nil handlers are skipped.
func NewRouter(h Handlers) *BasicRouter {
	router := NewBasicRouter()
	if h.Logger != nil {
		router.Use(Recoverer(h.Logger), RequestLogger(h.Logger))
	}

	if h.Callback != nil {
		router.Handle(http.MethodGet, "/callback", h.Callback)
	}
	if h.Messages != nil {
		router.Handler(h.Messages)
	}
	if h.State != nil {
		router.Handle(http.MethodGet, "/state", h.State)
	}
	router.Handle(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package lotadmin exposes a read-only HTTP introspection surface over a
// lot.Context's session table.
package lotadmin

import (
	"encoding/json"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/windowed-transfer/lot/lot"
)

// sessionView is the wire shape of one session in a JSON response.
type sessionView struct {
	ID        uint16 `json:"id"`
	Direction string `json:"direction"`
	Phase     string `json:"phase"`
	Progress  int    `json:"progress"`
	Total     int    `json:"total"`
}

// errorView is the wire shape of an error response body.
type errorView struct {
	Error string `json:"error"`
}

func toView(info lot.SessionInfo) sessionView {
	direction := "receive"
	if info.Send {
		direction = "send"
	}
	return sessionView{ID: info.ID, Direction: direction, Phase: info.Phase, Progress: info.Progress, Total: info.Total}
}

// Handler is a http.Handler exposing a Context's session table for
// operational visibility. It never mutates a session; abort/resume remain
// programmatic-only, matching spec.md §6's scoping.
type Handler struct {
	router *mux.Router
	ctx    *lot.Context
}

// NewHandler builds the admin surface for ctx.
func NewHandler(ctx *lot.Context) *Handler {
	h := &Handler{
		router: mux.NewRouter(),
		ctx:    ctx,
	}

	h.router.HandleFunc("/sessions", h.handleList).Methods(http.MethodGet)
	h.router.HandleFunc("/sessions/{id}", h.handleGet).Methods(http.MethodGet)

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	log.WithField("request_id", requestID).WithField("path", r.URL.Path).Debug("Handling admin request")

	h.router.ServeHTTP(w, r)
}

// handleList serves GET /sessions.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	infos := h.ctx.Sessions()
	views := make([]sessionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, toView(info))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		log.WithError(err).Warn("Failed to write admin session list response")
	}
}

// handleGet serves GET /sessions/{id}.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 16)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorView{Error: "invalid session id"})
		return
	}

	info, ok := h.ctx.SessionByID(uint16(id))
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(errorView{Error: "no such session"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toView(info)); err != nil {
		log.WithError(err).Warn("Failed to write admin session detail response")
	}
}

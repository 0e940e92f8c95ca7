package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/arena-sync/internal/connection"
	"github.com/rickgao/arena-sync/internal/notify"
	"github.com/rickgao/arena-sync/internal/version"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status        string           `json:"status"` // healthy | degraded | unhealthy
	Version       string           `json:"version"`
	Connection    connection.State `json:"connection"`
	Subscribed    []string         `json:"subscribed"`
	Desired       []string         `json:"desired"`
	Notifications int              `json:"notifications"`
	LastSyncAt    *time.Time       `json:"lastSyncAt,omitempty"`
}

// messageRequest is the body of POST /messages.
type messageRequest struct {
	UserID string          `json:"userId"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// routes builds the local status API.
func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)
	r.Get("/notifications", a.handleNotifications)
	r.Delete("/notifications/{id}", a.handleDismiss)
	r.Post("/reconnect", a.handleReconnect)
	r.Post("/messages", a.handleMessage)
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := a.manager.State()

	resp := healthResponse{
		Status:        "healthy",
		Version:       version.Version,
		Connection:    st,
		Subscribed:    a.registry.Subscribed(),
		Desired:       a.registry.Desired(),
		Notifications: a.queue.Len(),
	}
	if last := a.store.Snapshot().LastSyncAt; !last.IsZero() {
		resp.LastSyncAt = &last
	}

	code := http.StatusOK
	switch st.Status {
	case connection.StatusConnected:
	case connection.StatusFailed:
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	default:
		resp.Status = "degraded"
	}

	writeJSON(w, code, resp)
}

func (a *app) handleNotifications(w http.ResponseWriter, r *http.Request) {
	records := a.queue.List()
	if records == nil {
		records = []notify.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *app) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if !a.queue.Dismiss(id) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleReconnect(w http.ResponseWriter, r *http.Request) {
	err := a.manager.Reconnect(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, a.manager.State())
	case errors.Is(err, connection.ErrNotAuthenticated), errors.Is(err, connection.ErrMaxAttempts):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (a *app) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.UserID == "" || req.Event == "" {
		writeError(w, http.StatusBadRequest, "userId and event are required")
		return
	}

	if !a.manager.MessageUser(req.UserID, req.Event, req.Data) {
		writeError(w, http.StatusServiceUnavailable, "not connected")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

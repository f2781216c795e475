package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/stereopiano/internal/keyboard"
	"github.com/ayusman/stereopiano/internal/store"
	"github.com/ayusman/stereopiano/internal/tracking"
)

// SessionHandler serves recorded sessions and their key events.
type SessionHandler struct {
	store   *store.Store
	current func() string
}

// NewSessionHandler creates a SessionHandler. current returns the id of the
// running session, or "" when none is running; it may be nil.
func NewSessionHandler(s *store.Store, current func() string) *SessionHandler {
	return &SessionHandler{store: s, current: current}
}

type sessionResponse struct {
	ID            string `json:"id"`
	CalibrationID string `json:"calibration_id,omitempty"`
	StartedAt     string `json:"started_at"`
	EndedAt       string `json:"ended_at,omitempty"`
	Presses       int    `json:"presses"`
	Releases      int    `json:"releases"`
}

type listEventsResponse struct {
	SessionID string              `json:"session_id"`
	Events    []tracking.KeyEvent `json:"events"`
}

// ServeHTTP routes GET /api/sessions/{id} and GET /api/sessions/{id}/events.
// The id "current" names the running session.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")
	id, rest, _ := strings.Cut(path, "/")

	if id == "current" {
		id = ""
		if h.current != nil {
			id = h.current()
		}
		if id == "" {
			writeError(w, http.StatusNotFound, "No session running")
			return
		}
	}
	if id == "" {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	switch rest {
	case "":
		h.get(w, id)
	case "events":
		h.events(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *SessionHandler) get(w http.ResponseWriter, id string) {
	sess, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	presses, releases, err := h.store.Events().CountBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count events")
		return
	}

	resp := sessionResponse{
		ID:            sess.ID,
		CalibrationID: sess.CalibrationID,
		StartedAt:     formatTime(sess.StartedAt),
		Presses:       presses,
		Releases:      releases,
	}
	if sess.EndedAt != nil {
		resp.EndedAt = formatTime(*sess.EndedAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) events(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Sessions().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := h.store.Events().ListBySession(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	for i := range events {
		events[i].Name = keyboard.Name(events[i].Key)
	}
	if events == nil {
		events = []tracking.KeyEvent{}
	}

	writeJSON(w, http.StatusOK, listEventsResponse{SessionID: id, Events: events})
}

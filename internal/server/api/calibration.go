package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ayusman/stereopiano/internal/calibration"
	"github.com/ayusman/stereopiano/internal/stereo"
	"github.com/ayusman/stereopiano/internal/store"
)

// CalibrationHandler reports on the active calibration and reloads it from
// disk.
type CalibrationHandler struct {
	rig   *stereo.Rig
	path  string
	store *store.Store
}

// NewCalibrationHandler creates a CalibrationHandler for the record at path.
// s may be nil.
func NewCalibrationHandler(rig *stereo.Rig, path string, s *store.Store) *CalibrationHandler {
	return &CalibrationHandler{rig: rig, path: path, store: s}
}

type activeCalibration struct {
	ID         string                   `json:"id"`
	Source     string                   `json:"source"`
	Generation uint64                   `json:"generation"`
	BaselineCM float64                  `json:"baseline_cm"`
	ImageSize  calibration.ImageSize    `json:"image_size"`
	Complete   calibration.Completeness `json:"complete"`
	LoadedAt   string                   `json:"loaded_at"`
}

type storedCalibration struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	LoadedAt string `json:"loaded_at"`
}

type calibrationResponse struct {
	Path   string              `json:"path"`
	Status *calibration.Status `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
	Active *activeCalibration  `json:"active,omitempty"`
	Stored *storedCalibration  `json:"stored,omitempty"`
}

// ServeHTTP routes GET /api/calibration and POST /api/calibration/reload.
func (h *CalibrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/calibration")
	path = strings.TrimPrefix(path, "/")

	switch path {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.describe())
	case "reload":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.reload(w)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *CalibrationHandler) describe() calibrationResponse {
	resp := calibrationResponse{Path: h.path}

	if status, err := calibration.StatusOf(h.path); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Status = &status
	}

	if snap := h.rig.Snapshot(); snap != nil {
		st := snap.State
		resp.Active = &activeCalibration{
			ID:         st.ID(),
			Source:     st.Source(),
			Generation: snap.Generation,
			BaselineCM: st.BaselineCM(),
			ImageSize:  st.ImageSize(),
			Complete:   st.IsComplete(),
			LoadedAt:   formatTime(st.LoadedAt()),
		}
	}

	if h.store != nil {
		latest, err := h.store.Calibrations().Latest()
		switch {
		case err == nil:
			resp.Stored = &storedCalibration{
				ID:       latest.ID,
				Source:   latest.Source,
				LoadedAt: formatTime(latest.LoadedAt),
			}
		case !errors.Is(err, store.ErrNotFound):
			log.Printf("load stored calibration: %v", err)
		}
	}

	return resp
}

func (h *CalibrationHandler) reload(w http.ResponseWriter) {
	st, err := h.rig.ReloadFile(h.path)
	if err != nil {
		switch {
		case errors.Is(err, calibration.ErrMissingCalibrationFile):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, calibration.ErrIncompleteCalibration),
			errors.Is(err, calibration.ErrMalformedCalibration),
			errors.Is(err, stereo.ErrSizeChanged):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Failed to reload calibration")
		}
		return
	}

	log.Printf("calibration reloaded from %s (id %s)", h.path, st.ID())
	if h.store != nil {
		if _, err := h.store.Calibrations().Save(st); err != nil {
			log.Printf("save calibration: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, h.describe())
}

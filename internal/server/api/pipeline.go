package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/stereopiano/internal/pipeline"
)

// PipelineController is the running detection pipeline as the API sees it.
// Implementations must be safe to call from HTTP handlers.
type PipelineController interface {
	// PipelineConfigs returns {"enabled", "params"} per stage.
	PipelineConfigs() map[string]map[string]any
	PipelineStats() map[string]map[string]any
	// UpdateStage applies enabled (when non-nil) and params to one stage and
	// returns its new configuration.
	UpdateStage(name string, enabled *bool, params map[string]any) (map[string]any, error)
	ResetPipeline()
}

// PipelineHandler serves /api/pipeline.
type PipelineHandler struct {
	ctrl PipelineController
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(ctrl PipelineController) *PipelineHandler {
	return &PipelineHandler{ctrl: ctrl}
}

type pipelineResponse struct {
	Stages map[string]map[string]any `json:"stages"`
	Stats  map[string]map[string]any `json:"stats"`
}

type updateStageRequest struct {
	Enabled *bool          `json:"enabled"`
	Params  map[string]any `json:"params"`
}

// ServeHTTP routes GET /api/pipeline, PUT /api/pipeline/{stage} and
// POST /api/pipeline/reset.
func (h *PipelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/pipeline")
	path = strings.TrimPrefix(path, "/")

	switch {
	case path == "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, pipelineResponse{
			Stages: h.ctrl.PipelineConfigs(),
			Stats:  h.ctrl.PipelineStats(),
		})

	case path == "reset":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ctrl.ResetPipeline()
		w.WriteHeader(http.StatusNoContent)

	default:
		if r.Method != http.MethodPut {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.update(w, r, path)
	}
}

func (h *PipelineHandler) update(w http.ResponseWriter, r *http.Request, name string) {
	var req updateStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	cfg, err := h.ctrl.UpdateStage(name, req.Enabled, req.Params)
	switch {
	case errors.Is(err, pipeline.ErrUnknownStage):
		writeError(w, http.StatusNotFound, "Stage not found")
	case errors.Is(err, pipeline.ErrInvalidParam):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to update stage")
	default:
		writeJSON(w, http.StatusOK, cfg)
	}
}

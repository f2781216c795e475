package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/stereopiano/internal/plugin"
)

// PluginHandler lists discovered plugins and triggers a rescan.
type PluginHandler struct {
	manager *plugin.Manager
}

// NewPluginHandler creates a PluginHandler.
func NewPluginHandler(m *plugin.Manager) *PluginHandler {
	return &PluginHandler{manager: m}
}

type pluginResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

type listPluginsResponse struct {
	Plugins []pluginResponse `json:"plugins"`
}

// ServeHTTP routes GET /api/plugins and POST /api/plugins/rescan.
func (h *PluginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/plugins")
	path = strings.TrimPrefix(path, "/")

	switch {
	case path == "" && r.Method == http.MethodGet:
		h.list(w)
	case path == "rescan" && r.Method == http.MethodPost:
		if err := h.manager.Discover(); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to scan plugins")
			return
		}
		h.list(w)
	case path == "" || path == "rescan":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *PluginHandler) list(w http.ResponseWriter) {
	plugins := h.manager.List()
	resp := listPluginsResponse{Plugins: make([]pluginResponse, 0, len(plugins))}
	for _, p := range plugins {
		actions := p.Manifest.Actions
		if actions == nil {
			actions = []string{}
		}
		resp.Plugins = append(resp.Plugins, pluginResponse{
			Name:        p.Manifest.Name,
			Version:     p.Manifest.Version,
			Description: p.Manifest.Description,
			Actions:     actions,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

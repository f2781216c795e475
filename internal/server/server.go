// Package server provides the HTTP control server: REST endpoints, the live
// key event websocket and the rectified camera preview.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/stereopiano/internal/plugin"
	"github.com/ayusman/stereopiano/internal/server/api"
	"github.com/ayusman/stereopiano/internal/stereo"
	"github.com/ayusman/stereopiano/internal/store"
)

// Config holds the server configuration. Routes whose dependency is nil are
// not registered.
type Config struct {
	StaticDir string
	Store     *store.Store

	Rig             *stereo.Rig
	CalibrationPath string

	Pipeline api.PipelineController
	Plugins  *plugin.Manager
	Events   *EventHub
	Preview  *PreviewBuffer

	// CurrentSession returns the running session id, or "".
	CurrentSession func() string
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// handle registers h for the exact path and its subtree.
func (s *Server) handle(path string, h http.Handler) {
	s.mux.Handle(path, h)
	s.mux.Handle(path+"/", h)
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		var lookup api.PluginLookup
		if s.config.Plugins != nil {
			lookup = s.config.Plugins
		}
		s.handle("/api/bindings", api.NewBindingHandler(s.config.Store, lookup))
		s.handle("/api/sessions", api.NewSessionHandler(s.config.Store, s.config.CurrentSession))
	}

	if s.config.Rig != nil {
		s.handle("/api/calibration", api.NewCalibrationHandler(s.config.Rig, s.config.CalibrationPath, s.config.Store))
	}

	if s.config.Pipeline != nil {
		s.handle("/api/pipeline", api.NewPipelineHandler(s.config.Pipeline))
	}

	if s.config.Plugins != nil {
		s.handle("/api/plugins", api.NewPluginHandler(s.config.Plugins))
	}

	if s.config.Events != nil {
		s.mux.Handle("/api/events", s.config.Events)
	}

	if s.config.Preview != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Preview))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Rig != nil {
		if snap := s.config.Rig.Snapshot(); snap != nil {
			response["calibration_id"] = snap.State.ID()
			response["calibration_generation"] = snap.Generation
		}
	}
	if s.config.Events != nil {
		response["event_clients"] = s.config.Events.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until the server is shut down.
func (s *Server) ListenAndServe(addr string) error {
	return s.HTTPServer(addr).ListenAndServe()
}

// HTTPServer wraps the server in an http.Server for addr, so the caller can
// shut it down.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Package plugin discovers output plugins and sends them note events.
//
// A plugin is a directory holding a plugin.json manifest and an executable.
// Each event runs the executable once with a JSON Request on stdin and reads
// a JSON Response from stdout.
package plugin

import (
	"encoding/json"
	"slices"
)

// Plugin actions.
const (
	ActionNoteOn  = "note_on"
	ActionNoteOff = "note_off"
)

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Actions      []string        `json:"actions"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Request is the note event sent to a plugin.
type Request struct {
	Action    string          `json:"action"`
	Key       int             `json:"key"`
	Note      int             `json:"note"`
	Name      string          `json:"name"`
	Velocity  float64         `json:"velocity"`
	Depth     float64         `json:"depth"`
	Chord     []int           `json:"chord"`
	Timestamp float64         `json:"timestamp"`
	Config    json.RawMessage `json:"config"`
}

// Response is what a plugin writes back.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin is a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Supports reports whether the manifest lists action. An empty action list
// accepts everything.
func (p *Plugin) Supports(action string) bool {
	return len(p.Manifest.Actions) == 0 || slices.Contains(p.Manifest.Actions, action)
}

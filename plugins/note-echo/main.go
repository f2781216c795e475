// Package main provides a plugin that echoes note events as text.
// With a log_file in its config it also appends every line to that file.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Request represents the input from the plugin executor.
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

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the per-binding configuration.
type Config struct {
	LogFile string `json:"log_file"`
}

func main() {
	resp := handle(os.Stdin)
	json.NewEncoder(os.Stdout).Encode(resp)
}

// handle decodes one request and produces its response.
func handle(r io.Reader) Response {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return failure(fmt.Sprintf("failed to decode request: %v", err))
	}

	if req.Action != "note_on" && req.Action != "note_off" {
		return failure(fmt.Sprintf("unknown action: %s", req.Action))
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return failure(fmt.Sprintf("failed to parse config: %v", err))
		}
	}

	line := formatLine(req)
	if cfg.LogFile != "" {
		if err := appendLine(cfg.LogFile, line); err != nil {
			return failure(fmt.Sprintf("write log: %v", err))
		}
	}

	data, _ := json.Marshal(map[string]string{"line": line})
	return Response{Success: true, Data: data}
}

// formatLine renders a request as one line of text.
func formatLine(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%.3f %s %s note=%d key=%d", req.Timestamp, req.Action, req.Name, req.Note, req.Key)
	if req.Action == "note_on" {
		fmt.Fprintf(&b, " velocity=%.2f depth=%.1fcm", req.Velocity, req.Depth)
	}
	if len(req.Chord) > 0 {
		fmt.Fprintf(&b, " chord=%v", req.Chord)
	}
	return b.String()
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func failure(msg string) Response {
	return Response{Success: false, Error: msg}
}

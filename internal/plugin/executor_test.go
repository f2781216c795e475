package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// scriptPlugin writes a shell-script plugin into dir/name and returns it.
func scriptPlugin(t *testing.T, dir, name, script string, actions ...string) *Plugin {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell plugins need a POSIX shell")
	}

	pluginDir := filepath.Join(dir, name)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}

	manifest := Manifest{
		Name:       name,
		Version:    "1.0.0",
		Executable: "run.sh",
		Actions:    actions,
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, manifestFile), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	executable := filepath.Join(pluginDir, "run.sh")
	if err := os.WriteFile(executable, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	return &Plugin{Manifest: manifest, Path: pluginDir, Executable: executable}
}

func noteOn() *Request {
	return &Request{
		Action:    ActionNoteOn,
		Key:       4,
		Note:      64,
		Name:      "Mi",
		Velocity:  2.5,
		Depth:     48,
		Chord:     []int{0, 4},
		Timestamp: 1.5,
		Config:    json.RawMessage(`{"channel":1}`),
	}
}

func TestExecutor_Execute(t *testing.T) {
	plugin := scriptPlugin(t, t.TempDir(), "ok", "echo '{\"success\":true,\"data\":{\"message\":\"played\"}}'\n")

	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, noteOn())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !resp.Success {
		t.Errorf("expected success=true")
	}
	if resp.Error != "" {
		t.Errorf("expected empty error, got %q", resp.Error)
	}

	var data map[string]string
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal data: %v", err)
	}
	if data["message"] != "played" {
		t.Errorf("expected message 'played', got %q", data["message"])
	}
}

func TestExecutor_Execute_ReadsStdin(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "request.json")
	plugin := scriptPlugin(t, dir, "capture", "cat > '"+out+"'\necho '{\"success\":true}'\n")

	if _, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, noteOn()); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read captured request: %v", err)
	}
	var got Request
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal request: %v", err)
	}

	if got.Action != ActionNoteOn {
		t.Errorf("expected action %q, got %q", ActionNoteOn, got.Action)
	}
	if got.Note != 64 || got.Key != 4 || got.Name != "Mi" {
		t.Errorf("unexpected note fields: %+v", got)
	}
	if len(got.Chord) != 2 || got.Chord[1] != 4 {
		t.Errorf("expected chord [0 4], got %v", got.Chord)
	}
	if string(got.Config) != `{"channel":1}` {
		t.Errorf("expected config to pass through, got %s", got.Config)
	}
}

func TestExecutor_Execute_Errors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{
			name:    "non-zero exit with stderr",
			script:  "echo 'device busy' >&2\nexit 3\n",
			wantErr: "device busy",
		},
		{
			name:    "non-zero exit",
			script:  "exit 1\n",
			wantErr: "plugin failing failed",
		},
		{
			name:    "invalid json",
			script:  "echo 'not json'\n",
			wantErr: "failed to parse plugin response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plugin := scriptPlugin(t, t.TempDir(), "failing", tt.script)

			_, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, noteOn())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExecutor_Execute_FailureResponse(t *testing.T) {
	plugin := scriptPlugin(t, t.TempDir(), "refuses", "echo '{\"success\":false,\"error\":\"no synth\"}'\n")

	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, noteOn())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.Error != "no synth" {
		t.Errorf("expected error 'no synth', got %q", resp.Error)
	}
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	plugin := scriptPlugin(t, t.TempDir(), "slow", "exec sleep 5\n")

	start := time.Now()
	_, err := NewExecutor(100*time.Millisecond).Execute(context.Background(), plugin, noteOn())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took too long: %s", elapsed)
	}
}

func TestExecutor_Execute_Cancelled(t *testing.T) {
	plugin := scriptPlugin(t, t.TempDir(), "slow", "exec sleep 5\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecutor(5*time.Second).Execute(ctx, plugin, noteOn())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecutor_Execute_MissingExecutable(t *testing.T) {
	plugin := &Plugin{
		Manifest:   Manifest{Name: "ghost"},
		Path:       t.TempDir(),
		Executable: "/nonexistent/run.sh",
	}

	if _, err := NewExecutor(time.Second).Execute(context.Background(), plugin, noteOn()); err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestNewExecutor_DefaultTimeout(t *testing.T) {
	if got := NewExecutor(0).Timeout(); got != 5*time.Second {
		t.Errorf("expected 5s default, got %s", got)
	}
	if got := NewExecutor(time.Second).Timeout(); got != time.Second {
		t.Errorf("expected 1s, got %s", got)
	}
}

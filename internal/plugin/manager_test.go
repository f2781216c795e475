package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_Discover(t *testing.T) {
	dir := t.TempDir()
	want := scriptPlugin(t, dir, "synth", "echo '{\"success\":true}'\n", ActionNoteOn, ActionNoteOff)

	manager := NewManager(dir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	got := plugins[0]
	if got.Manifest.Name != "synth" {
		t.Errorf("expected name 'synth', got %q", got.Manifest.Name)
	}
	if got.Manifest.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %q", got.Manifest.Version)
	}
	if len(got.Manifest.Actions) != 2 {
		t.Errorf("expected 2 actions, got %d", len(got.Manifest.Actions))
	}
	if got.Path != want.Path {
		t.Errorf("expected path %q, got %q", want.Path, got.Path)
	}
	if got.Executable != want.Executable {
		t.Errorf("expected executable %q, got %q", want.Executable, got.Executable)
	}
}

func TestManager_Discover_SortedList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"midi", "echo", "logger"} {
		scriptPlugin(t, dir, name, "true\n")
	}

	manager := NewManager(dir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	want := []string{"echo", "logger", "midi"}
	if len(plugins) != len(want) {
		t.Fatalf("expected %d plugins, got %d", len(want), len(plugins))
	}
	for i, name := range want {
		if plugins[i].Manifest.Name != name {
			t.Errorf("plugins[%d] = %q, want %q", i, plugins[i].Manifest.Name, name)
		}
	}
}

func TestManager_Discover_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	scriptPlugin(t, dir, "good", "true\n")

	write := func(name, manifest string) {
		t.Helper()
		pluginDir := filepath.Join(dir, name)
		if err := os.MkdirAll(pluginDir, 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if manifest == "" {
			return
		}
		if err := os.WriteFile(filepath.Join(pluginDir, manifestFile), []byte(manifest), 0644); err != nil {
			t.Fatalf("failed to write manifest: %v", err)
		}
	}

	write("no-manifest", "")
	write("bad-json", "{not json")
	write("no-name", `{"executable":"run.sh"}`)
	write("no-executable", `{"name":"ghost","executable":"run.sh"}`)

	// A stray file next to the plugin directories is ignored.
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("plugins"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	manager := NewManager(dir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	if len(plugins) != 1 || plugins[0].Manifest.Name != "good" {
		t.Fatalf("expected only 'good', got %d plugins", len(plugins))
	}
}

func TestManager_Discover_MissingDir(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "absent"))
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() on missing dir failed: %v", err)
	}
	if len(manager.List()) != 0 {
		t.Error("expected no plugins")
	}
}

func TestManager_Discover_Rescan(t *testing.T) {
	dir := t.TempDir()
	scriptPlugin(t, dir, "first", "true\n")

	manager := NewManager(dir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	if err := os.RemoveAll(filepath.Join(dir, "first")); err != nil {
		t.Fatalf("failed to remove plugin: %v", err)
	}
	scriptPlugin(t, dir, "second", "true\n")

	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if _, err := manager.Get("first"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("expected removed plugin to be gone, got %v", err)
	}
	if _, err := manager.Get("second"); err != nil {
		t.Errorf("expected new plugin, got %v", err)
	}
}

func TestManager_Get(t *testing.T) {
	dir := t.TempDir()
	scriptPlugin(t, dir, "synth", "true\n")

	manager := NewManager(dir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	p, err := manager.Get("synth")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if p.Manifest.Name != "synth" {
		t.Errorf("expected 'synth', got %q", p.Manifest.Name)
	}

	if _, err := manager.Get("missing"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("expected ErrPluginNotFound, got %v", err)
	}
}

func TestManager_PluginDir(t *testing.T) {
	if got := NewManager("/opt/plugins").PluginDir(); got != "/opt/plugins" {
		t.Errorf("expected '/opt/plugins', got %q", got)
	}
}

func TestPlugin_Supports(t *testing.T) {
	tests := []struct {
		name    string
		actions []string
		action  string
		want    bool
	}{
		{"listed", []string{ActionNoteOn, ActionNoteOff}, ActionNoteOff, true},
		{"not listed", []string{ActionNoteOn}, ActionNoteOff, false},
		{"empty accepts all", nil, ActionNoteOff, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Plugin{Manifest: Manifest{Actions: tt.actions}}
			if got := p.Supports(tt.action); got != tt.want {
				t.Errorf("Supports(%q) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}

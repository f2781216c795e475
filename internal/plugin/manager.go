package plugin

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ErrPluginNotFound is returned when a requested plugin cannot be found.
var ErrPluginNotFound = errors.New("plugin not found")

// manifestFile is the manifest name inside each plugin directory.
const manifestFile = "plugin.json"

// Manager discovers plugins in a directory and looks them up by name.
type Manager struct {
	pluginDir string
	plugins   map[string]*Plugin
	mu        sync.RWMutex
}

// NewManager creates a Manager for pluginDir.
func NewManager(pluginDir string) *Manager {
	return &Manager{
		pluginDir: pluginDir,
		plugins:   make(map[string]*Plugin),
	}
}

// Discover rescans the plugin directory. Each subdirectory with a valid
// plugin.json and an existing executable becomes a plugin; anything else is
// skipped with a log line. A missing directory yields no plugins.
func (m *Manager) Discover() error {
	found := make(map[string]*Plugin)

	info, err := os.Stat(m.pluginDir)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return err
	case info.IsDir():
		entries, err := os.ReadDir(m.pluginDir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			p, err := load(filepath.Join(m.pluginDir, entry.Name()))
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					log.Printf("skipping plugin %s: %v", entry.Name(), err)
				}
				continue
			}
			found[p.Manifest.Name] = p
		}
	}

	m.mu.Lock()
	m.plugins = found
	m.mu.Unlock()

	return nil
}

// load reads one plugin directory.
func load(dir string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Name == "" || manifest.Executable == "" {
		return nil, fmt.Errorf("manifest needs name and executable")
	}

	executable := filepath.Join(dir, manifest.Executable)
	if _, err := os.Stat(executable); err != nil {
		return nil, fmt.Errorf("executable: %w", err)
	}

	return &Plugin{
		Manifest:   manifest,
		Path:       dir,
		Executable: executable,
	}, nil
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugin, ok := m.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}

	return plugin, nil
}

// List returns all discovered plugins sorted by name.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		plugins = append(plugins, plugin)
	}
	slices.SortFunc(plugins, func(a, b *Plugin) int { return cmp.Compare(a.Manifest.Name, b.Manifest.Name) })

	return plugins
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}

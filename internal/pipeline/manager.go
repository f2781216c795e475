package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/stereopiano/internal/config"
)

// Manager runs registered stages in registration order.
type Manager struct {
	stages []Stage
	byName map[string]Stage
	clock  func() float64
}

// NewManager creates an empty manager that stamps frames with the wall clock.
func NewManager() *Manager {
	return &Manager{
		byName: make(map[string]Stage),
		clock:  wallClock,
	}
}

func wallClock() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewDefaultManager registers debounce, smoothing, spatial and chord stages
// configured from cfg.
func NewDefaultManager(cfg config.Pipeline) *Manager {
	m := NewManager()

	debounce := NewDebounce(cfg.Debounce.DebounceTime)
	debounce.SetEnabled(cfg.Debounce.Enabled)
	smoothing := NewSmoothing(cfg.Smoothing.Window)
	smoothing.SetEnabled(cfg.Smoothing.Enabled)
	spatial := NewSpatial(cfg.Spatial.MinFingerDistance, cfg.Spatial.AdjacentKeysThreshold)
	spatial.SetEnabled(cfg.Spatial.Enabled)
	chord := NewChord(cfg.Chord.SimultaneousWindow)
	chord.SetEnabled(cfg.Chord.Enabled)

	for _, s := range []Stage{debounce, smoothing, spatial, chord} {
		// Names are distinct constants, so registration cannot fail.
		_ = m.Register(s)
	}
	return m
}

// SetClock replaces the timestamp source used when a context has none.
func (m *Manager) SetClock(clock func() float64) {
	m.clock = clock
}

// Register appends a stage to the end of the chain.
func (m *Manager) Register(s Stage) error {
	if _, ok := m.byName[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name())
	}
	m.stages = append(m.stages, s)
	m.byName[s.Name()] = s
	return nil
}

// ProcessDetections threads dets through every enabled stage. A nil ctx or
// one without a timestamp is stamped from the manager's clock.
func (m *Manager) ProcessDetections(dets []Detection, ctx *Context) []Detection {
	if ctx == nil {
		ctx = &Context{}
	}
	if !ctx.HasTimestamp {
		ctx.Timestamp = m.clock()
		ctx.HasTimestamp = true
	}

	current := dets
	for _, s := range m.stages {
		if s.Enabled() {
			current = s.Process(current, ctx)
		}
	}
	return current
}

// Stage returns the stage registered under name.
func (m *Manager) Stage(name string) (Stage, error) {
	s, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	return s, nil
}

// Stages returns the registered stages in execution order.
func (m *Manager) Stages() []Stage {
	return append([]Stage(nil), m.stages...)
}

// Enable turns a stage on.
func (m *Manager) Enable(name string) error {
	s, err := m.Stage(name)
	if err != nil {
		return err
	}
	s.SetEnabled(true)
	return nil
}

// Disable turns a stage off. Its state is kept.
func (m *Manager) Disable(name string) error {
	s, err := m.Stage(name)
	if err != nil {
		return err
	}
	s.SetEnabled(false)
	return nil
}

// Configure passes params to the named stage.
func (m *Manager) Configure(name string, params map[string]any) error {
	s, err := m.Stage(name)
	if err != nil {
		return err
	}
	if err := s.Configure(params); err != nil {
		return fmt.Errorf("configure %s: %w", name, err)
	}
	return nil
}

// ResetAll clears every stage's history and counters.
func (m *Manager) ResetAll() {
	for _, s := range m.stages {
		s.Reset()
	}
}

// AllStats returns each stage's counters keyed by stage name. Every entry also
// carries the stage name and enabled flag.
func (m *Manager) AllStats() map[string]map[string]any {
	out := make(map[string]map[string]any, len(m.stages))
	for _, s := range m.stages {
		stats := s.Stats()
		stats["name"] = s.Name()
		stats["enabled"] = s.Enabled()
		out[s.Name()] = stats
	}
	return out
}

// AllConfigs returns {"enabled": bool, "params": {...}} keyed by stage name.
func (m *Manager) AllConfigs() map[string]map[string]any {
	out := make(map[string]map[string]any, len(m.stages))
	for _, s := range m.stages {
		out[s.Name()] = map[string]any{
			"enabled": s.Enabled(),
			"params":  s.Config(),
		}
	}
	return out
}

// String summarises the chain, for logs.
func (m *Manager) String() string {
	var b strings.Builder
	active := 0
	for _, s := range m.stages {
		if s.Enabled() {
			active++
		}
	}
	fmt.Fprintf(&b, "pipeline (%d/%d enabled)", active, len(m.stages))
	for i, s := range m.stages {
		state := "off"
		if s.Enabled() {
			state = "on"
		}
		fmt.Fprintf(&b, "\n  %d. %-10s [%s] %v", i+1, s.Name(), state, s.Config())
	}
	return b.String()
}

// Package app wires cameras, detection, tracking and the event sinks into
// the running virtual piano.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/stereopiano/internal/capture"
	"github.com/ayusman/stereopiano/internal/config"
	"github.com/ayusman/stereopiano/internal/detector"
	"github.com/ayusman/stereopiano/internal/keyboard"
	"github.com/ayusman/stereopiano/internal/pipeline"
	"github.com/ayusman/stereopiano/internal/plugin"
	"github.com/ayusman/stereopiano/internal/publish"
	"github.com/ayusman/stereopiano/internal/stereo"
	"github.com/ayusman/stereopiano/internal/store"
	"github.com/ayusman/stereopiano/internal/tracking"
)

// statusInterval is how often status snapshots go to the status callback.
const statusInterval = time.Second

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("app stopped")

// Sink receives every key event after it has been logged. Sinks run in
// event order and must not call back into the App.
type Sink func(ev tracking.KeyEvent)

// Previewer receives the rectified pair while someone is watching it.
type Previewer interface {
	Watching() bool
	Update(left, right gocv.Mat) error
}

// Options are the collaborators of an App. Rig, Camera and Detector are
// required; Store and Publisher are optional.
type Options struct {
	Config    config.Config
	Store     *store.Store
	Rig       *stereo.Rig
	Camera    *capture.StereoCamera
	Detector  *detector.PairDetector
	Publisher *publish.Publisher
}

// Status is a snapshot of the running app.
type Status struct {
	Enabled   bool                      `json:"enabled"`
	Running   bool                      `json:"running"`
	Idle      bool                      `json:"idle"`
	FPS       int                       `json:"fps"`
	SessionID string                    `json:"session_id,omitempty"`
	Tracker   tracking.Stats            `json:"tracker"`
	HeldKeys  []int                     `json:"held_keys"`
	LastChord []int                     `json:"last_chord,omitempty"`
	Plugins   plugin.DispatchStats      `json:"plugins"`
	MQTT      *publish.Stats            `json:"mqtt,omitempty"`
	Pipeline  map[string]map[string]any `json:"pipeline"`
}

// App is the main application that turns camera frames into key events and
// fans them out to the store, plugins, MQTT and any extra sinks.
type App struct {
	cfg       config.Config
	store     *store.Store
	rig       *stereo.Rig
	layout    *keyboard.Layout
	camera    *capture.StereoCamera
	detector  *detector.PairDetector
	motion    *capture.MotionDetector
	publisher *publish.Publisher
	// remapper is only touched by the frame loop.
	remapper *stereo.Remapper

	pluginMgr  *plugin.Manager
	pluginExec *plugin.Executor
	dispatcher *plugin.Dispatcher

	// emitMu is held from a tracker step until its events reach every sink,
	// so sinks see presses and releases in tracker order. It is taken before
	// trackMu.
	emitMu sync.Mutex
	// trackMu guards the tracker and its pipeline, which the frame loop and
	// the HTTP API share.
	trackMu   sync.Mutex
	tracker   *tracking.Tracker
	lastChord []int

	mu       sync.RWMutex
	enabled  bool
	idle     bool
	session  *store.Session
	sinks    []Sink
	preview  Previewer
	onStatus func(Status)
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  bool
}

// New builds an App. The keyboard spans the calibrated image and stage
// settings saved in the store override the configured ones.
func New(opts Options) (*App, error) {
	if opts.Rig == nil || opts.Camera == nil || opts.Detector == nil {
		return nil, errors.New("app needs a rig, a camera and a detector")
	}
	cfg := opts.Config

	size := opts.Rig.Snapshot().State.ImageSize()
	layout, err := keyboard.NewLayout(size.Width, size.Height, cfg.Keyboard.WhiteKeys)
	if err != nil {
		return nil, fmt.Errorf("keyboard layout: %w", err)
	}

	manager := pipeline.NewDefaultManager(cfg.Pipeline)
	if opts.Store != nil {
		applyStoredStages(manager, opts.Store)
	}

	interp := stereo.Nearest
	if cfg.Stereo.BilinearPoints {
		interp = stereo.Bilinear
	}
	tracker := tracking.New(opts.Rig, layout, manager, tracking.Options{
		ReleaseAfter:  cfg.Tracking.ReleaseAfter,
		Interpolation: interp,
	})

	a := &App{
		cfg:        cfg,
		store:      opts.Store,
		rig:        opts.Rig,
		layout:     layout,
		camera:     opts.Camera,
		detector:   opts.Detector,
		motion:     capture.NewMotionDetector(layout.Bounds(), cfg.Camera.MotionThreshold),
		remapper:   stereo.NewRemapper(),
		publisher:  opts.Publisher,
		pluginMgr:  plugin.NewManager(cfg.PluginDir),
		pluginExec: plugin.NewExecutor(cfg.PluginTimeout()),
		tracker:    tracker,
		enabled:    true,
	}

	var bindings plugin.BindingSource
	if opts.Store != nil {
		bindings = opts.Store.Bindings()
	}
	a.dispatcher = plugin.NewDispatcher(a.pluginMgr, a.pluginExec, bindings, cfg.Plugins.Broadcast)

	return a, nil
}

// applyStoredStages replays saved stage settings onto m.
func applyStoredStages(m *pipeline.Manager, s *store.Store) {
	stages, err := s.Settings().Stages()
	if err != nil {
		log.Printf("load pipeline settings: %v", err)
		return
	}
	for name, setting := range stages {
		if err := m.Configure(name, setting.Params); err != nil {
			log.Printf("apply saved settings for %s: %v", name, err)
			continue
		}
		if setting.Enabled {
			m.Enable(name)
		} else {
			m.Disable(name)
		}
	}
}

// DiscoverPlugins scans the plugin directory.
func (a *App) DiscoverPlugins() error {
	return a.pluginMgr.Discover()
}

// PluginManager returns the plugin manager.
func (a *App) PluginManager() *plugin.Manager {
	return a.pluginMgr
}

// Layout returns the keyboard layout.
func (a *App) Layout() *keyboard.Layout {
	return a.layout
}

// AddSink registers fn to receive key events.
func (a *App) AddSink(fn Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, fn)
}

// SetPreview registers where the rectified pair goes while it is watched.
func (a *App) SetPreview(p Previewer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.preview = p
}

// OnStatus registers a callback for the periodic status snapshot.
func (a *App) OnStatus(fn func(Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStatus = fn
}

// SetEnabled enables or disables detection. Disabling releases every held
// key.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	changed := a.enabled != enabled
	a.enabled = enabled
	a.mu.Unlock()

	if changed && !enabled {
		a.releaseAll()
	}
	if changed {
		log.Printf("detection enabled: %v", enabled)
	}
}

// IsEnabled returns whether detection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// CurrentSession returns the running session id, or "".
func (a *App) CurrentSession() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return ""
	}
	return a.session.ID
}

// Start opens the cameras, starts a session and runs the frame loop until
// ctx is done or Stop is called.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}
	if a.done != nil {
		return nil
	}

	if !a.camera.IsOpen() {
		if err := a.camera.Open(); err != nil {
			return err
		}
	}
	a.camera.SetFPS(a.cfg.TargetFPS)

	if a.store != nil {
		calID := a.rig.Snapshot().State.ID()
		if _, err := a.store.Calibrations().Save(a.rig.Snapshot().State); err != nil {
			log.Printf("save calibration: %v", err)
			calID = ""
		}
		sess, err := a.store.Sessions().Start(calID)
		if err != nil {
			log.Printf("start session: %v", err)
		} else {
			a.session = sess
			log.Printf("session %s started", sess.ID)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	// Outputs drain on Stop, so the releases it emits still go out.
	outputs := context.WithoutCancel(ctx)
	a.dispatcher.Start(outputs)
	if a.publisher != nil {
		a.publisher.Start(outputs)
	}

	go a.runPipeline(ctx, a.done)

	log.Printf("detection started at %d fps", a.cfg.TargetFPS)
	return nil
}

// Stop halts the frame loop, releases held keys, closes the session and
// releases every device. An App cannot be started again after Stop.
func (a *App) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.stopped = true
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	a.releaseAll()

	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.mu.Unlock()

	if sess != nil && a.store != nil {
		if err := a.store.Sessions().End(sess.ID); err != nil {
			log.Printf("end session: %v", err)
		}
	}

	a.dispatcher.Close()
	if a.publisher != nil {
		a.publisher.Close()
	}

	if err := a.camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}
	a.motion.Close()
	a.remapper.Close()
	if err := a.detector.Close(); err != nil {
		log.Printf("Error closing detector: %v", err)
	}

	log.Println("detection stopped")
}

// ProcessPair runs one pair of fingertip sets through the tracker and emits
// the resulting key events. While detection is disabled the pair is dropped.
func (a *App) ProcessPair(fp detector.FramePair) tracking.Result {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	if !a.IsEnabled() {
		return tracking.Result{}
	}

	a.trackMu.Lock()
	res := a.tracker.ProcessFrame(fp)
	for _, ev := range res.Events {
		if len(ev.Chord) > 0 {
			a.lastChord = ev.Chord
		}
	}
	a.trackMu.Unlock()

	a.emit(res.Events)
	return res
}

func (a *App) releaseAll() {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.trackMu.Lock()
	events := a.tracker.ReleaseAll(wallSeconds(time.Now()))
	a.trackMu.Unlock()

	a.emit(events)
}

// emit logs events to the session and hands them to every sink.
func (a *App) emit(events []tracking.KeyEvent) {
	if len(events) == 0 {
		return
	}

	a.mu.RLock()
	sess := a.session
	sinks := append([]Sink(nil), a.sinks...)
	a.mu.RUnlock()

	if sess != nil {
		for i := range events {
			events[i].SessionID = sess.ID
		}
		if err := a.store.Events().Insert(sess.ID, events); err != nil {
			log.Printf("log key events: %v", err)
		}
	}

	for _, ev := range events {
		log.Printf("key %s", ev)
		if a.cfg.Plugins.Enabled {
			a.dispatcher.Dispatch(ev)
		}
		if a.publisher != nil {
			a.publisher.Publish(ev)
		}
		for _, sink := range sinks {
			sink(ev)
		}
	}
}

// heldKeys returns the keys currently down.
func (a *App) heldKeys() []int {
	a.trackMu.Lock()
	defer a.trackMu.Unlock()
	return a.tracker.HeldKeys()
}

// Status returns a snapshot of the app.
func (a *App) Status() Status {
	a.mu.RLock()
	st := Status{
		Enabled: a.enabled,
		Running: a.done != nil,
		Idle:    a.idle,
		FPS:     a.camera.FPS(),
	}
	if a.session != nil {
		st.SessionID = a.session.ID
	}
	a.mu.RUnlock()

	a.trackMu.Lock()
	st.Tracker = a.tracker.Stats()
	st.HeldKeys = a.tracker.HeldKeys()
	st.LastChord = append([]int(nil), a.lastChord...)
	st.Pipeline = a.tracker.Manager().AllStats()
	a.trackMu.Unlock()

	st.Plugins = a.dispatcher.Stats()
	if a.publisher != nil {
		ms := a.publisher.Stats()
		st.MQTT = &ms
	}
	return st
}

// LastChord returns the most recent chord seen in a press.
func (a *App) LastChord() []int {
	a.trackMu.Lock()
	defer a.trackMu.Unlock()
	return append([]int(nil), a.lastChord...)
}

func wallSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

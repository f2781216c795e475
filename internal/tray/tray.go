// Package tray provides a system tray interface for the stereo piano.
package tray

import (
	"strings"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/stereopiano/internal/keyboard"
	"github.com/ayusman/stereopiano/internal/tracking"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle   func(enabled bool)
	onReset    func()
	onSettings func()
	onQuit     func()
	enabled    bool
	last       string
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New creates a new Tray instance with enabled state set to true by default.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback function to be called when the enabled state is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnReset sets the callback for the reset pipeline item.
func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetTitle("Stereo Piano")
	systray.SetTooltip("Stereo Piano")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle key detection")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem(t.lastTitle(), "Last played note or chord")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuReset := systray.AddMenuItem("Reset Pipeline", "Clear held keys and filter history")
	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Stereo Piano")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuReset.ClickedCh:
				t.call(func() func() { return t.onReset })
			case <-menuSettings.ClickedCh:
				t.call(func() func() { return t.onSettings })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// Quit stops Run. It is safe to call from any goroutine.
func (t *Tray) Quit() {
	systray.Quit()
}

// toggle flips the enabled state and returns the new state and callback.
func (t *Tray) toggle() (bool, func(bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = !t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(t.enabled))
	}
	return t.enabled, t.onToggle
}

func (t *Tray) handleToggle() {
	enabled, callback := t.toggle()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// call runs the callback returned by get, read under the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetLastEvent shows a press in the menu. Releases are ignored.
func (t *Tray) SetLastEvent(ev tracking.KeyEvent) {
	if ev.Kind != tracking.Press {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = describe(ev)
	if t.menuLast != nil {
		t.menuLast.SetTitle(t.lastTitle())
	}
}

// SetEnabled updates the enabled state shown in the menu without calling
// the toggle callback.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Last returns the text after "Last: " in the menu.
func (t *Tray) Last() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == "" {
		return "none"
	}
	return t.last
}

func (t *Tray) lastTitle() string {
	if t.last == "" {
		return "Last: none"
	}
	return "Last: " + t.last
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Enabled"
	}
	return "○ Disabled"
}

// describe names the note of a press, or every note of its chord.
func describe(ev tracking.KeyEvent) string {
	if len(ev.Chord) < 2 {
		return ev.Name
	}
	names := make([]string, len(ev.Chord))
	for i, key := range ev.Chord {
		names[i] = keyboard.Name(key)
	}
	return strings.Join(names, "+")
}

package pipeline

import (
	"maps"
	"slices"
)

// Chord groups keys accepted within SimultaneousWindow of each other and
// counts chords and single notes. It never changes the detection list.
type Chord struct {
	base
	window    float64
	pressedAt map[int]float64
	lastChord map[int]struct{}

	totalChords      int
	totalSingleNotes int
	maxChordSize     int
}

// NewChord creates an enabled chord stage. window is in seconds.
func NewChord(window float64) *Chord {
	return &Chord{
		base:      base{name: StageChord, enabled: true},
		window:    window,
		pressedAt: make(map[int]float64),
		lastChord: make(map[int]struct{}),
	}
}

func (c *Chord) Process(dets []Detection, ctx *Context) []Detection {
	now := ctx.Timestamp

	for _, det := range dets {
		if key, ok := det.KeyValue(); ok {
			c.pressedAt[key] = now
		}
	}

	for key, ts := range c.pressedAt {
		if now-ts > 2*c.window {
			delete(c.pressedAt, key)
		}
	}

	current := make(map[int]struct{})
	for key, ts := range c.pressedAt {
		if now-ts <= c.window {
			current[key] = struct{}{}
		}
	}

	switch {
	case len(current) >= 2:
		if !sameKeys(current, c.lastChord) {
			c.totalChords++
			c.maxChordSize = max(c.maxChordSize, len(current))
		}
	case len(current) == 1:
		if !sameKeys(current, c.lastChord) {
			c.totalSingleNotes++
		}
	}
	c.lastChord = current

	return dets
}

func sameKeys(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// CurrentChord returns the keys of the most recent simultaneous set, sorted.
func (c *Chord) CurrentChord() []int {
	return slices.Sorted(maps.Keys(c.lastChord))
}

// Configure accepts simultaneous_window (seconds).
func (c *Chord) Configure(params map[string]any) error {
	v, ok, err := floatParam(params, "simultaneous_window")
	if err != nil {
		return err
	}
	if ok {
		c.window = v
	}
	return nil
}

func (c *Chord) Reset() {
	clear(c.pressedAt)
	c.lastChord = make(map[int]struct{})
	c.totalChords = 0
	c.totalSingleNotes = 0
	c.maxChordSize = 0
}

func (c *Chord) Stats() map[string]any {
	return map[string]any{
		"total_chords":       c.totalChords,
		"total_single_notes": c.totalSingleNotes,
		"max_chord_size":     c.maxChordSize,
	}
}

func (c *Chord) Config() map[string]any {
	return map[string]any{"simultaneous_window": c.window}
}

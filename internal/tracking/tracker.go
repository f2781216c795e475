// Package tracking turns paired fingertip observations into key events.
//
// A Tracker is owned by the single goroutine that feeds it frames; it is not
// safe for concurrent use.
package tracking

import (
	"cmp"
	"slices"

	"github.com/ayusman/stereopiano/internal/calibration"
	"github.com/ayusman/stereopiano/internal/detector"
	"github.com/ayusman/stereopiano/internal/keyboard"
	"github.com/ayusman/stereopiano/internal/pipeline"
	"github.com/ayusman/stereopiano/internal/stereo"
)

// DefaultReleaseAfter is how long a held key may go unseen, in seconds.
const DefaultReleaseAfter = 0.1

// Options tune a Tracker.
type Options struct {
	// ReleaseAfter is how long, in seconds, a held key may go unseen before
	// it is released.
	ReleaseAfter float64
	// Interpolation selects how fingertips are looked up in the
	// rectification tables.
	Interpolation stereo.Interpolation
}

// Result is the outcome of one frame.
type Result struct {
	// Accepted are the detections that survived the pipeline.
	Accepted []pipeline.Detection
	Events   []KeyEvent
	// Skipped counts fingertips that could not be placed in 3D.
	Skipped int
}

// Stats are counters since the tracker was created or reset.
type Stats struct {
	Frames   uint64 `json:"frames"`
	Skipped  uint64 `json:"skipped"`
	Presses  uint64 `json:"presses"`
	Releases uint64 `json:"releases"`
	Held     int    `json:"held"`
}

type heldKey struct {
	finger   int
	lastSeen float64
	depth    float64
}

// Tracker runs fingertips through rectification, triangulation, key lookup
// and the detection pipeline, and tracks which keys are held.
type Tracker struct {
	rig     *stereo.Rig
	layout  *keyboard.Layout
	manager *pipeline.Manager
	opts    Options

	lastDepth map[int]float64
	held      map[int]heldKey
	stats     Stats
}

// New creates a Tracker. A negative ReleaseAfter is replaced by the default.
func New(rig *stereo.Rig, layout *keyboard.Layout, manager *pipeline.Manager, opts Options) *Tracker {
	if opts.ReleaseAfter < 0 {
		opts.ReleaseAfter = DefaultReleaseAfter
	}
	return &Tracker{
		rig:       rig,
		layout:    layout,
		manager:   manager,
		opts:      opts,
		lastDepth: make(map[int]float64),
		held:      make(map[int]heldKey),
	}
}

// Manager returns the pipeline the tracker feeds.
func (t *Tracker) Manager() *pipeline.Manager { return t.manager }

// Layout returns the keyboard layout.
func (t *Tracker) Layout() *keyboard.Layout { return t.layout }

// ProcessFrame handles one pair of fingertip sets. Fingertips seen by only
// one camera, outside the rectification tables, or with a disparity that
// cannot be triangulated are skipped.
func (t *Tracker) ProcessFrame(frame detector.FramePair) Result {
	snap := t.rig.Snapshot()
	t.stats.Frames++

	right := make(map[int]detector.Fingertip, len(frame.Right))
	for _, tip := range frame.Right {
		right[tip.ID] = tip
	}

	var res Result
	seen := make(map[int]bool, len(frame.Left))
	dets := make([]pipeline.Detection, 0, len(frame.Left))

	for _, tip := range frame.Left {
		match, ok := right[tip.ID]
		if !ok {
			res.Skipped++
			continue
		}
		delete(right, tip.ID)

		rl, okL := snap.Maps.RectifyPoint(calibration.SideLeft, stereo.Point2D{X: tip.X, Y: tip.Y}, t.opts.Interpolation)
		rr, okR := snap.Maps.RectifyPoint(calibration.SideRight, stereo.Point2D{X: match.X, Y: match.Y}, t.opts.Interpolation)
		if !okL || !okR {
			res.Skipped++
			continue
		}

		depth, ok := snap.Triangulator.Depth(rl, rr)
		if !ok {
			res.Skipped++
			continue
		}

		var velocity float64
		if prev, ok := t.lastDepth[tip.ID]; ok {
			velocity = prev - depth
		}
		t.lastDepth[tip.ID] = depth
		seen[tip.ID] = true

		dets = append(dets, pipeline.Detection{
			FingerID: tip.ID,
			Key:      t.layout.FindKey(rl.X, rl.Y),
			Depth:    depth,
			Velocity: velocity,
			X:        rl.X,
			Y:        rl.Y,
		})
	}
	// Whatever is left was only seen by the right camera.
	res.Skipped += len(right)

	for id := range t.lastDepth {
		if !seen[id] {
			delete(t.lastDepth, id)
		}
	}

	ts := frame.Timestamp
	res.Accepted = t.manager.ProcessDetections(dets, pipeline.NewContext(ts))
	t.refreshHeld(dets, ts)
	res.Events = t.updateHeld(res.Accepted, ts)

	t.stats.Skipped += uint64(res.Skipped)
	return res
}

// refreshHeld keeps a held key down while any fingertip still rests on it,
// whether or not the pipeline lets that detection through. Debounce blocks
// repeats of a key, so held keys cannot rely on accepted detections alone.
func (t *Tracker) refreshHeld(dets []pipeline.Detection, ts float64) {
	for _, det := range dets {
		key, ok := det.KeyValue()
		if !ok {
			continue
		}
		if h, held := t.held[key]; held {
			h.lastSeen = ts
			if det.FingerID == h.finger {
				h.depth = det.Depth
			}
			t.held[key] = h
		}
	}
}

func (t *Tracker) updateHeld(accepted []pipeline.Detection, ts float64) []KeyEvent {
	var events []KeyEvent
	chord := t.currentChord()

	for _, det := range accepted {
		key, ok := det.KeyValue()
		if !ok {
			continue
		}
		if _, held := t.held[key]; !held {
			ev := t.event(Press, key, det.FingerID, det.Velocity, det.Depth, ts)
			if slices.Contains(chord, key) {
				ev.Chord = chord
			}
			events = append(events, ev)
			t.stats.Presses++
		}
		t.held[key] = heldKey{finger: det.FingerID, lastSeen: ts, depth: det.Depth}
	}

	var released []KeyEvent
	for key, h := range t.held {
		if ts-h.lastSeen > t.opts.ReleaseAfter {
			released = append(released, t.event(Release, key, h.finger, 0, h.depth, ts))
			delete(t.held, key)
			t.stats.Releases++
		}
	}
	slices.SortFunc(released, func(a, b KeyEvent) int { return cmp.Compare(a.Key, b.Key) })

	return append(events, released...)
}

// currentChord returns the chord the chord stage is tracking, when it is
// enabled and holds at least two keys.
func (t *Tracker) currentChord() []int {
	s, err := t.manager.Stage(pipeline.StageChord)
	if err != nil || !s.Enabled() {
		return nil
	}
	c, ok := s.(*pipeline.Chord)
	if !ok {
		return nil
	}
	if keys := c.CurrentChord(); len(keys) >= 2 {
		return keys
	}
	return nil
}

func (t *Tracker) event(kind Kind, key, finger int, velocity, depth, ts float64) KeyEvent {
	note, _ := t.layout.Note(key)
	return KeyEvent{
		Kind:      kind,
		Key:       key,
		Note:      note,
		Name:      keyboard.Name(key),
		FingerID:  finger,
		Velocity:  velocity,
		Depth:     depth,
		Timestamp: ts,
	}
}

// HeldKeys returns the keys currently down, ascending.
func (t *Tracker) HeldKeys() []int {
	keys := make([]int, 0, len(t.held))
	for k := range t.held {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ReleaseAll releases every held key at ts, for shutdown or when detection
// is paused.
func (t *Tracker) ReleaseAll(ts float64) []KeyEvent {
	var events []KeyEvent
	for _, key := range t.HeldKeys() {
		h := t.held[key]
		events = append(events, t.event(Release, key, h.finger, 0, h.depth, ts))
		t.stats.Releases++
	}
	clear(t.held)
	return events
}

// Reset clears the pipeline, depth history and held keys without emitting
// releases. Callers that need matching releases call ReleaseAll first.
func (t *Tracker) Reset() {
	t.manager.ResetAll()
	clear(t.lastDepth)
	clear(t.held)
	t.stats = Stats{}
}

// Stats returns the tracker counters.
func (t *Tracker) Stats() Stats {
	s := t.stats
	s.Held = len(t.held)
	return s
}

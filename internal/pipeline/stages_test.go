package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(finger, key int, depth, x, y float64) Detection {
	return Detection{FingerID: finger, Key: KeyPtr(key), Depth: depth, X: x, Y: y}
}

func fingers(dets []Detection) []int {
	ids := make([]int, len(dets))
	for i, d := range dets {
		ids[i] = d.FingerID
	}
	return ids
}

func TestDebounce(t *testing.T) {
	d := NewDebounce(0.05)
	press := []Detection{det(0, 5, 30, 100, 100)}

	out := d.Process(press, NewContext(0.0))
	assert.Len(t, out, 1, "first press accepted")

	out = d.Process(press, NewContext(0.03))
	assert.Empty(t, out, "press 30ms later is blocked")

	out = d.Process(press, NewContext(0.06))
	assert.Len(t, out, 1, "press 60ms after the last accepted one is allowed")

	stats := d.Stats()
	assert.Equal(t, 3, stats["total_checks"])
	assert.Equal(t, 1, stats["blocked_presses"])
	assert.Equal(t, 2, stats["allowed_presses"])
}

func TestDebounce_BlockedPressDoesNotExtendWindow(t *testing.T) {
	d := NewDebounce(0.05)
	press := []Detection{det(0, 5, 30, 100, 100)}

	d.Process(press, NewContext(0.00))
	d.Process(press, NewContext(0.04))
	out := d.Process(press, NewContext(0.05))
	assert.Len(t, out, 1)
}

func TestDebounce_KeysAreIndependent(t *testing.T) {
	d := NewDebounce(0.05)

	d.Process([]Detection{det(0, 1, 30, 0, 0)}, NewContext(0))
	out := d.Process([]Detection{det(1, 2, 30, 0, 0), {FingerID: 2}}, NewContext(0.01))

	assert.Equal(t, []int{1, 2}, fingers(out), "other key and keyless detection pass")
	assert.Equal(t, 2, d.Stats()["total_checks"])
}

func TestDebounce_SameKeyTwiceInOneFrame(t *testing.T) {
	d := NewDebounce(0.05)
	out := d.Process([]Detection{det(0, 3, 30, 0, 0), det(1, 3, 31, 5, 0)}, NewContext(1))
	assert.Equal(t, []int{0}, fingers(out))
}

func TestDebounce_ConfigureAndReset(t *testing.T) {
	d := NewDebounce(0.05)
	require.NoError(t, d.Configure(map[string]any{"debounce_time": 0.2}))
	assert.Equal(t, 0.2, d.Config()["debounce_time"])

	press := []Detection{det(0, 5, 30, 0, 0)}
	d.Process(press, NewContext(0))
	assert.Empty(t, d.Process(press, NewContext(0.1)))

	d.Reset()
	assert.Len(t, d.Process(press, NewContext(0.1)), 1, "reset forgets last press")
	assert.Equal(t, 1, d.Stats()["total_checks"])

	err := d.Configure(map[string]any{"debounce_time": "fast"})
	assert.ErrorIs(t, err, ErrInvalidParam)
	assert.Equal(t, 0.2, d.Config()["debounce_time"])
}

func TestSmoothing(t *testing.T) {
	s := NewSmoothing(7)
	ctx := NewContext(0)

	first := s.Process([]Detection{{FingerID: 0, Depth: 50, Velocity: 9}}, ctx)
	assert.Equal(t, 9.0, first[0].Velocity, "a single sample leaves velocity untouched")

	second := s.Process([]Detection{{FingerID: 0, Depth: 48, Velocity: 4}}, ctx)
	assert.InDelta(t, 2.0, second[0].Velocity, 1e-12)

	third := s.Process([]Detection{{FingerID: 0, Depth: 45, Velocity: 3}}, ctx)
	assert.InDelta(t, 2.5, third[0].Velocity, 1e-12)

	stats := s.Stats()
	assert.Equal(t, 2, stats["total_smoothed"])
	// effects: |2-4|/4 = 0.5 and |2.5-3|/3 = 1/6
	assert.InDelta(t, (0.5+1.0/6.0)/2, stats["avg_smoothing_effect"], 1e-12)
}

func TestSmoothing_WindowEvictsOldest(t *testing.T) {
	s := NewSmoothing(3)
	ctx := NewContext(0)

	var out []Detection
	for _, depth := range []float64{100, 50, 48, 46} {
		out = s.Process([]Detection{{FingerID: 1, Depth: depth}}, ctx)
	}

	assert.Equal(t, []float64{50, 48, 46}, s.History(1))
	assert.InDelta(t, 2.0, out[0].Velocity, 1e-12)
}

func TestSmoothing_ResizeKeepsRecent(t *testing.T) {
	s := NewSmoothing(7)
	ctx := NewContext(0)
	for _, depth := range []float64{10, 11, 12, 13, 14} {
		s.Process([]Detection{{FingerID: 0, Depth: depth}}, ctx)
	}

	require.NoError(t, s.Configure(map[string]any{"smoothing_window": 2}))
	assert.Equal(t, []float64{13, 14}, s.History(0))
	assert.Equal(t, 2, s.Config()["smoothing_window"])

	require.NoError(t, s.Configure(map[string]any{"smoothing_window": 4.0}))
	assert.Equal(t, []float64{13, 14}, s.History(0))

	assert.ErrorIs(t, s.Configure(map[string]any{"smoothing_window": 0}), ErrInvalidParam)
}

func TestSmoothing_PerFingerHistories(t *testing.T) {
	s := NewSmoothing(7)
	ctx := NewContext(0)

	s.Process([]Detection{{FingerID: 0, Depth: 40}, {FingerID: 1, Depth: 20}}, ctx)
	out := s.Process([]Detection{{FingerID: 0, Depth: 38}, {FingerID: 1, Depth: 25}}, ctx)

	assert.InDelta(t, 2.0, out[0].Velocity, 1e-12)
	assert.InDelta(t, -5.0, out[1].Velocity, 1e-12)

	s.Reset()
	assert.Nil(t, s.History(0))
	assert.Equal(t, 0, s.Stats()["total_smoothed"])
}

func TestSpatial_CloserFingerWins(t *testing.T) {
	s := NewSpatial(35, 2)

	out := s.Process([]Detection{
		det(0, 3, 10, 100, 100),
		det(1, 4, 15, 120, 100),
	}, NewContext(0))

	assert.Equal(t, []int{0}, fingers(out))
	assert.Equal(t, 1, s.Stats()["total_conflicts"])
	assert.Equal(t, 1, s.Stats()["resolved_by_depth"])
}

func TestSpatial_NoConflict(t *testing.T) {
	tests := []struct {
		name string
		dets []Detection
	}{
		{"far apart", []Detection{det(0, 3, 10, 100, 100), det(1, 4, 15, 200, 100)}},
		{"keys too far", []Detection{det(0, 3, 10, 100, 100), det(1, 6, 15, 110, 100)}},
		{"distance equals threshold", []Detection{det(0, 3, 10, 100, 100), det(1, 4, 15, 135, 100)}},
		{"keyless finger", []Detection{det(0, 3, 10, 100, 100), {FingerID: 1, Depth: 5, X: 101, Y: 100}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSpatial(35, 2)
			out := s.Process(tt.dets, NewContext(0))
			assert.Len(t, out, 2)
			assert.Equal(t, 0, s.Stats()["total_conflicts"])
		})
	}
}

func TestSpatial_EqualDepthDropsLowerID(t *testing.T) {
	s := NewSpatial(35, 2)
	out := s.Process([]Detection{det(4, 3, 12, 100, 100), det(2, 3, 12, 110, 100)}, NewContext(0))
	assert.Equal(t, []int{4}, fingers(out))
}

func TestSpatial_PairwiseOrderDependence(t *testing.T) {
	// A-B and B-C are close, A-C is not. B loses to A, then still beats C,
	// so C is dropped even though its only rival was already removed.
	s := NewSpatial(35, 2)

	out := s.Process([]Detection{
		det(0, 3, 10, 100, 100), // A
		det(1, 4, 12, 125, 100), // B
		det(2, 5, 15, 150, 100), // C
	}, NewContext(0))

	assert.Equal(t, []int{0}, fingers(out))
	assert.Equal(t, 2, s.Stats()["total_conflicts"])
}

func TestSpatial_PositionsPersistAcrossFrames(t *testing.T) {
	s := NewSpatial(35, 2)

	s.Process([]Detection{det(0, 3, 10, 100, 100)}, NewContext(0))
	out := s.Process([]Detection{det(1, 4, 15, 110, 100)}, NewContext(0.033))
	assert.Empty(t, out, "finger 0 from the previous frame still wins")

	s.Reset()
	out = s.Process([]Detection{det(1, 4, 15, 110, 100)}, NewContext(0.066))
	assert.Len(t, out, 1)
}

func TestSpatial_ForgetsFingersThatLeft(t *testing.T) {
	s := NewSpatial(35, 2)

	s.Process([]Detection{det(0, 3, 10, 100, 100)}, NewContext(0))
	out := s.Process([]Detection{det(6, 3, 15, 110, 100)}, NewContext(10))

	assert.Equal(t, []int{6}, fingers(out), "a finger gone for seconds must not suppress a new one")
	assert.Equal(t, 0, s.Stats()["total_conflicts"])
	assert.Len(t, s.positions, 1)
}

func TestSpatial_Configure(t *testing.T) {
	s := NewSpatial(35, 2)
	require.NoError(t, s.Configure(map[string]any{"min_finger_distance": 10, "adjacent_keys_threshold": 0.0}))
	assert.Equal(t, 10.0, s.Config()["min_finger_distance"])
	assert.Equal(t, 0, s.Config()["adjacent_keys_threshold"])

	out := s.Process([]Detection{det(0, 3, 10, 100, 100), det(1, 4, 15, 105, 100)}, NewContext(0))
	assert.Len(t, out, 2)

	assert.ErrorIs(t, s.Configure(map[string]any{"min_finger_distance": -1}), ErrInvalidParam)
}

func TestChord_SimultaneousKeys(t *testing.T) {
	c := NewChord(0.05)
	in := []Detection{det(0, 2, 10, 0, 0), det(1, 4, 10, 0, 0), det(2, 7, 10, 0, 0)}

	out := c.Process(in, NewContext(1.0))
	assert.Equal(t, in, out, "chord stage never changes detections")

	// The same set seen again is not a new chord.
	c.Process(in, NewContext(1.02))

	stats := c.Stats()
	assert.Equal(t, 1, stats["total_chords"])
	assert.Equal(t, 3, stats["max_chord_size"])
	assert.Equal(t, 0, stats["total_single_notes"])
	assert.Equal(t, []int{2, 4, 7}, c.CurrentChord())
}

func TestChord_SpacedKeysAreSingleNotes(t *testing.T) {
	c := NewChord(0.05)

	for i, key := range []int{2, 4, 7} {
		c.Process([]Detection{det(i, key, 10, 0, 0)}, NewContext(float64(i)*0.06))
	}

	stats := c.Stats()
	assert.Equal(t, 0, stats["total_chords"])
	assert.Equal(t, 3, stats["total_single_notes"])
	assert.Equal(t, []int{7}, c.CurrentChord())
}

func TestChord_PrunesAndResets(t *testing.T) {
	c := NewChord(0.05)
	c.Process([]Detection{det(0, 1, 10, 0, 0), det(1, 3, 10, 0, 0)}, NewContext(0))

	got := c.CurrentChord()
	require.Equal(t, []int{1, 3}, got)
	got[0] = 99
	assert.Equal(t, []int{1, 3}, c.CurrentChord(), "CurrentChord returns a copy")

	c.Process(nil, NewContext(0.2))
	assert.Empty(t, c.CurrentChord())

	c.Reset()
	assert.Equal(t, 0, c.Stats()["total_chords"])
}

func TestRing(t *testing.T) {
	r := newRing(3)
	assert.Equal(t, 0, r.Len())

	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Push(v)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []float64{3, 4, 5}, r.Values())

	bigger := r.Resize(5)
	assert.Equal(t, 5, bigger.Cap())
	bigger.Push(6)
	assert.Equal(t, []float64{3, 4, 5, 6}, bigger.Values())

	smaller := bigger.Resize(1)
	assert.Equal(t, []float64{6}, smaller.Values())
}

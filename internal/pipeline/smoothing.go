package pipeline

import (
	"fmt"
	"math"
)

// Smoothing replaces each detection's velocity with the mean frame-to-frame
// depth change over the finger's recent history. Positive velocity means the
// depth is shrinking, i.e. the finger moves toward the cameras.
type Smoothing struct {
	base
	window  int
	history map[int]*ring

	totalSmoothed int
	avgEffect     float64
}

// NewSmoothing creates an enabled smoothing stage keeping window depth
// samples per finger. A window below 1 is raised to 1.
func NewSmoothing(window int) *Smoothing {
	return &Smoothing{
		base:    base{name: StageSmoothing, enabled: true},
		window:  max(window, 1),
		history: make(map[int]*ring),
	}
}

func (s *Smoothing) Process(dets []Detection, ctx *Context) []Detection {
	out := make([]Detection, 0, len(dets))

	for _, det := range dets {
		h, ok := s.history[det.FingerID]
		if !ok {
			h = newRing(s.window)
			s.history[det.FingerID] = h
		}
		h.Push(det.Depth)

		if h.Len() < 2 {
			out = append(out, det)
			continue
		}

		var sum float64
		for i := 0; i < h.Len()-1; i++ {
			sum += h.At(i) - h.At(i+1)
		}
		smoothed := sum / float64(h.Len()-1)

		if orig := math.Abs(det.Velocity); orig > 0 {
			effect := math.Abs(math.Abs(smoothed)-orig) / orig
			s.avgEffect = (s.avgEffect*float64(s.totalSmoothed) + effect) / float64(s.totalSmoothed+1)
		}
		s.totalSmoothed++

		det.Velocity = smoothed
		out = append(out, det)
	}
	return out
}

// Configure accepts smoothing_window (samples, at least 1). Existing
// histories keep their most recent samples.
func (s *Smoothing) Configure(params map[string]any) error {
	w, ok, err := intParam(params, "smoothing_window")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if w < 1 {
		return fmt.Errorf("%w: smoothing_window must be at least 1, got %d", ErrInvalidParam, w)
	}

	s.window = w
	for id, h := range s.history {
		s.history[id] = h.Resize(w)
	}
	return nil
}

func (s *Smoothing) Reset() {
	clear(s.history)
	s.totalSmoothed = 0
	s.avgEffect = 0
}

func (s *Smoothing) Stats() map[string]any {
	return map[string]any{
		"total_smoothed":       s.totalSmoothed,
		"avg_smoothing_effect": s.avgEffect,
	}
}

func (s *Smoothing) Config() map[string]any {
	return map[string]any{"smoothing_window": s.window}
}

// History returns a finger's depth samples, oldest first.
func (s *Smoothing) History(fingerID int) []float64 {
	h, ok := s.history[fingerID]
	if !ok {
		return nil
	}
	return h.Values()
}

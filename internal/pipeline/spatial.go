package pipeline

import (
	"math"
	"slices"
)

// positionMaxAge is how long, in seconds, a finger that has stopped
// reaching the stage keeps taking part in conflicts.
const positionMaxAge = 0.1

type fingerPosition struct {
	x, y  float64
	key   *int
	depth float64
	seen  float64
}

// Spatial suppresses one of two fingers that sit close together over nearby
// keys, keeping the one with the smaller depth. Positions persist across
// frames, so a finger seen in a recent frame still takes part in conflicts.
// A finger unseen for longer than positionMaxAge is forgotten.
type Spatial struct {
	base
	minFingerDistance     float64
	adjacentKeysThreshold int
	positions             map[int]fingerPosition

	totalConflicts     int
	resolvedByDepth    int
	resolvedByDistance int
}

// NewSpatial creates an enabled spatial conflict stage. minFingerDistance is
// in pixels, adjacentKeysThreshold in keys.
func NewSpatial(minFingerDistance float64, adjacentKeysThreshold int) *Spatial {
	return &Spatial{
		base:                  base{name: StageSpatial, enabled: true},
		minFingerDistance:     minFingerDistance,
		adjacentKeysThreshold: adjacentKeysThreshold,
		positions:             make(map[int]fingerPosition),
	}
}

// Process compares every pair of known fingers in ascending id order. A
// finger that loses any pair is removed from the output even if it wins
// another.
func (s *Spatial) Process(dets []Detection, ctx *Context) []Detection {
	now := ctx.Timestamp
	for _, det := range dets {
		s.positions[det.FingerID] = fingerPosition{x: det.X, y: det.Y, key: det.Key, depth: det.Depth, seen: now}
	}
	for id, p := range s.positions {
		if now-p.seen > positionMaxAge {
			delete(s.positions, id)
		}
	}

	ids := make([]int, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	removed := make(map[int]bool)
	for i := 0; i < len(ids); i++ {
		a := s.positions[ids[i]]
		if a.key == nil {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			b := s.positions[ids[j]]
			if b.key == nil {
				continue
			}

			dist := math.Hypot(b.x-a.x, b.y-a.y)
			keyDist := *b.key - *a.key
			if keyDist < 0 {
				keyDist = -keyDist
			}
			if dist >= s.minFingerDistance || keyDist > s.adjacentKeysThreshold {
				continue
			}

			s.totalConflicts++
			if a.depth < b.depth {
				removed[ids[j]] = true
			} else {
				removed[ids[i]] = true
			}
			s.resolvedByDepth++
		}
	}

	if len(removed) == 0 {
		return dets
	}

	out := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if !removed[det.FingerID] {
			out = append(out, det)
		}
	}
	return out
}

// Configure accepts min_finger_distance (pixels) and adjacent_keys_threshold (keys).
func (s *Spatial) Configure(params map[string]any) error {
	dist, hasDist, err := floatParam(params, "min_finger_distance")
	if err != nil {
		return err
	}
	keys, hasKeys, err := intParam(params, "adjacent_keys_threshold")
	if err != nil {
		return err
	}

	if hasDist {
		s.minFingerDistance = dist
	}
	if hasKeys {
		s.adjacentKeysThreshold = keys
	}
	return nil
}

func (s *Spatial) Reset() {
	clear(s.positions)
	s.totalConflicts = 0
	s.resolvedByDepth = 0
	s.resolvedByDistance = 0
}

func (s *Spatial) Stats() map[string]any {
	return map[string]any{
		"total_conflicts":      s.totalConflicts,
		"resolved_by_depth":    s.resolvedByDepth,
		"resolved_by_distance": s.resolvedByDistance,
	}
}

func (s *Spatial) Config() map[string]any {
	return map[string]any{
		"min_finger_distance":     s.minFingerDistance,
		"adjacent_keys_threshold": s.adjacentKeysThreshold,
	}
}

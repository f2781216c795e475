// Package detector locates fingertips in camera frames.
package detector

import (
	"cmp"
	"slices"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// FingersPerHand is the number of fingertips tracked on each hand.
const FingersPerHand = 5

// tipLandmarks lists fingertip landmarks from thumb to pinky.
var tipLandmarks = [FingersPerHand]int{ThumbTip, IndexTip, MiddleTip, RingTip, PinkyTip}

// Point3D is a landmark in normalized image coordinates. X and Y are in
// [0, 1]; Z is MediaPipe's relative depth and is not metric.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// HandSlot returns 0 for a left hand and 1 for a right hand.
func HandSlot(handedness string) (int, bool) {
	switch handedness {
	case "Left":
		return 0, true
	case "Right":
		return 1, true
	}
	return 0, false
}

// FingerID returns the id shared by the same fingertip in both camera views.
func FingerID(slot, finger int) int {
	return slot*FingersPerHand + finger
}

// Fingertip is one fingertip in pixel coordinates of a raw camera frame.
type Fingertip struct {
	ID    int     `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// Fingertips converts detected hands into pixel-space fingertips sorted by
// id. Hands of unknown handedness are ignored; when two hands claim the same
// side, the higher-scoring one wins.
func Fingertips(hands []HandLandmarks, width, height int) []Fingertip {
	var best [2]*HandLandmarks
	for i := range hands {
		slot, ok := HandSlot(hands[i].Handedness)
		if !ok {
			continue
		}
		if best[slot] == nil || hands[i].Score > best[slot].Score {
			best[slot] = &hands[i]
		}
	}

	var tips []Fingertip
	for slot, h := range best {
		if h == nil {
			continue
		}
		for finger, lm := range tipLandmarks {
			p := h.Points[lm]
			tips = append(tips, Fingertip{
				ID:    FingerID(slot, finger),
				X:     p.X * float64(width),
				Y:     p.Y * float64(height),
				Score: h.Score,
			})
		}
	}

	slices.SortFunc(tips, func(a, b Fingertip) int { return cmp.Compare(a.ID, b.ID) })
	return tips
}

// FramePair holds the fingertips seen by both cameras at one instant.
type FramePair struct {
	// Timestamp is the capture time in seconds.
	Timestamp float64     `json:"timestamp"`
	Left      []Fingertip `json:"left"`
	Right     []Fingertip `json:"right"`
}

package tracking

import "fmt"

// Kind is the type of a key event.
type Kind string

const (
	Press   Kind = "press"
	Release Kind = "release"
)

// KeyEvent is a key going down or coming up. It is what the sinks receive.
type KeyEvent struct {
	Kind Kind `json:"kind"`
	Key  int  `json:"key"`
	// Note is the MIDI note number.
	Note     int     `json:"note"`
	Name     string  `json:"name"`
	FingerID int     `json:"finger"`
	Velocity float64 `json:"velocity"`
	// Depth is the fingertip depth in centimeters.
	Depth float64 `json:"depth"`
	// Chord lists every key of the chord this press belongs to, if any.
	Chord     []int   `json:"chord,omitempty"`
	Timestamp float64 `json:"timestamp"`
	SessionID string  `json:"session_id,omitempty"`
}

func (e KeyEvent) String() string {
	if len(e.Chord) > 0 {
		return fmt.Sprintf("%s %s (key %d, finger %d, chord %v)", e.Kind, e.Name, e.Key, e.FingerID, e.Chord)
	}
	return fmt.Sprintf("%s %s (key %d, finger %d)", e.Kind, e.Name, e.Key, e.FingerID)
}

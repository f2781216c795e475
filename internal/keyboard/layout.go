// Package keyboard maps pixel positions on the rectified left image to piano
// keys of a virtual keyboard.
//
// Key ids are semitone offsets from the keyboard's first C, so key 0 is middle
// C (MIDI 60) and an eight-white-key layout spans keys 0 through 12.
package keyboard

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// MiddleC is the MIDI note of key 0.
const MiddleC = 60

// Placement of the keyboard rectangle as fractions of the canvas.
const (
	left   = 0.20
	top    = 0.35
	right  = 0.80
	bottom = 0.55
)

// blackWidthRatio is the width of a black key relative to a white key.
const blackWidthRatio = 0.54 / 0.93

// ErrInvalidLayout is returned for a canvas or key count that cannot hold a keyboard.
var ErrInvalidLayout = errors.New("invalid keyboard layout")

// whiteSemitones maps a white key's position within an octave to its semitone.
var whiteSemitones = [7]int{0, 2, 4, 5, 7, 9, 11}

// blackSemitones maps the white key position a black key follows to the black
// key's semitone. E and B have no black key after them.
var blackSemitones = map[int]int{0: 1, 1: 3, 3: 6, 4: 8, 5: 10}

var noteNames = [12]string{"Do", "Do#", "Re", "Re#", "Mi", "Fa", "Fa#", "Sol", "Sol#", "La", "La#", "Si"}

// Key is one key's id and its rectangle on the canvas.
type Key struct {
	ID    int             `json:"id"`
	Black bool            `json:"black"`
	Rect  image.Rectangle `json:"rect"`
}

// Layout is an immutable keyboard geometry for one canvas size.
type Layout struct {
	bounds      image.Rectangle
	whiteKeys   int
	whiteWidth  float64
	blackWidth  float64
	blackHeight float64
	blacks      []Key
	// gaps are the x ranges of the upper zone around white key boundaries
	// that have no black key (E-F and B-C).
	gaps [][2]float64
}

// NewLayout builds a keyboard of whiteKeys white keys on a width x height canvas.
func NewLayout(width, height, whiteKeys int) (*Layout, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: canvas %dx%d", ErrInvalidLayout, width, height)
	}
	if whiteKeys < 1 {
		return nil, fmt.Errorf("%w: %d white keys", ErrInvalidLayout, whiteKeys)
	}

	bounds := image.Rect(
		roundHalfUp(float64(width)*left),
		roundHalfUp(float64(height)*top),
		roundHalfUp(float64(width)*right),
		roundHalfUp(float64(height)*bottom),
	)
	if bounds.Dx() < whiteKeys {
		return nil, fmt.Errorf("%w: %d px is too narrow for %d keys", ErrInvalidLayout, bounds.Dx(), whiteKeys)
	}

	l := &Layout{
		bounds:      bounds,
		whiteKeys:   whiteKeys,
		whiteWidth:  float64(bounds.Dx()) / float64(whiteKeys),
		blackHeight: float64(bounds.Dy()) * 2 / 3,
	}
	l.blackWidth = l.whiteWidth * blackWidthRatio

	// The last white key never has a black key after it.
	for p := 0; p < whiteKeys-1; p++ {
		line := float64(bounds.Min.X) + l.whiteWidth*float64(p+1)
		semi, ok := blackSemitones[p%7]
		if !ok {
			l.gaps = append(l.gaps, [2]float64{line - l.blackWidth/2, line + l.blackWidth/2})
			continue
		}

		var x0, x1 float64
		switch p % 7 {
		case 0, 3, 4:
			x0, x1 = line-l.blackWidth*2/3, line+l.blackWidth/3
		case 1, 5:
			x0, x1 = line-l.blackWidth/3, line+l.blackWidth*2/3
		default:
			x0, x1 = line-l.blackWidth/2, line+l.blackWidth/2
		}

		l.blacks = append(l.blacks, Key{
			ID:    12*(p/7) + semi,
			Black: true,
			Rect: image.Rect(
				roundHalfUp(x0), bounds.Min.Y,
				roundHalfUp(x1), roundHalfUp(float64(bounds.Min.Y)+l.blackHeight),
			),
		})
	}

	return l, nil
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// Bounds returns the keyboard rectangle.
func (l *Layout) Bounds() image.Rectangle {
	return l.bounds
}

// Contains reports whether (x, y) lies strictly inside the keyboard.
func (l *Layout) Contains(x, y float64) bool {
	return x > float64(l.bounds.Min.X) && x < float64(l.bounds.Max.X) &&
		y > float64(l.bounds.Min.Y) && y < float64(l.bounds.Max.Y)
}

// FindKey returns the key under (x, y), or nil outside the keyboard. In the
// upper zone a black key takes precedence over the white keys beneath it, and
// a position on an E-F or B-C boundary, where a black key would sit, is nil.
func (l *Layout) FindKey(x, y float64) *int {
	if !l.Contains(x, y) {
		return nil
	}

	if y-float64(l.bounds.Min.Y) < l.blackHeight {
		for _, k := range l.blacks {
			if x > float64(k.Rect.Min.X) && x < float64(k.Rect.Max.X) {
				id := k.ID
				return &id
			}
		}
		for _, g := range l.gaps {
			if x > g[0] && x < g[1] {
				return nil
			}
		}
	}

	wi := int(math.Floor((x - float64(l.bounds.Min.X)) / l.whiteWidth))
	wi = min(wi, l.whiteKeys-1)
	id := whiteID(wi)
	return &id
}

func whiteID(wi int) int {
	return 12*(wi/7) + whiteSemitones[wi%7]
}

// KeyCount returns the number of semitone ids the layout spans.
func (l *Layout) KeyCount() int {
	return whiteID(l.whiteKeys-1) + 1
}

// Keys returns every key, white keys first in ascending order, then black keys.
func (l *Layout) Keys() []Key {
	keys := make([]Key, 0, l.whiteKeys+len(l.blacks))
	for wi := 0; wi < l.whiteKeys; wi++ {
		x0 := float64(l.bounds.Min.X) + l.whiteWidth*float64(wi)
		keys = append(keys, Key{
			ID: whiteID(wi),
			Rect: image.Rect(
				roundHalfUp(x0), l.bounds.Min.Y,
				roundHalfUp(x0+l.whiteWidth), l.bounds.Max.Y,
			),
		})
	}
	return append(keys, l.blacks...)
}

// Note returns the MIDI note number for key.
func (l *Layout) Note(key int) (int, bool) {
	if key < 0 || key >= l.KeyCount() || MiddleC+key > 127 {
		return 0, false
	}
	return MiddleC + key, true
}

// Name returns the solfège name of key, e.g. "Sol" or "Fa#".
func Name(key int) string {
	if key < 0 {
		return ""
	}
	return noteNames[key%12]
}

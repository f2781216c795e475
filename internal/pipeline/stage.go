// Package pipeline filters per-frame fingertip detections into accepted key
// presses through an ordered chain of stateful stages.
//
// Stages are not safe for concurrent use. A Manager and its stages must be
// driven from a single goroutine.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Stage names used by configuration, the HTTP API and persisted settings.
const (
	StageDebounce  = "debounce"
	StageSmoothing = "smoothing"
	StageSpatial   = "spatial"
	StageChord     = "chord"
)

var (
	// ErrUnknownStage is returned when a stage name is not registered.
	ErrUnknownStage = errors.New("unknown pipeline stage")
	// ErrDuplicateStage is returned when registering a name twice.
	ErrDuplicateStage = errors.New("pipeline stage already registered")
	// ErrInvalidParam is returned when a stage parameter has the wrong type or range.
	ErrInvalidParam = errors.New("invalid stage parameter")
)

// Detection is one fingertip observation on the keyboard plane.
type Detection struct {
	FingerID int `json:"finger_id"`
	// Key is nil when the fingertip is not over a key.
	Key      *int    `json:"key"`
	Depth    float64 `json:"depth"`
	Velocity float64 `json:"velocity"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// KeyValue returns the key index and whether one is set.
func (d Detection) KeyValue() (int, bool) {
	if d.Key == nil {
		return 0, false
	}
	return *d.Key, true
}

// KeyPtr returns a pointer to k, for building detections.
func KeyPtr(k int) *int { return &k }

// Context carries per-frame values shared by all stages.
type Context struct {
	// Timestamp is the frame time in seconds.
	Timestamp    float64
	HasTimestamp bool
	Values       map[string]any
}

// NewContext returns a context stamped with ts.
func NewContext(ts float64) *Context {
	return &Context{Timestamp: ts, HasTimestamp: true}
}

// Set stores an auxiliary value for later stages.
func (c *Context) Set(key string, v any) {
	if c.Values == nil {
		c.Values = make(map[string]any)
	}
	c.Values[key] = v
}

// Get returns an auxiliary value.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Values[key]
	return v, ok
}

// Stage is one filter in the detection pipeline.
type Stage interface {
	Name() string
	Enabled() bool
	SetEnabled(enabled bool)
	// Process returns the detections that survive this stage.
	Process(dets []Detection, ctx *Context) []Detection
	// Configure applies the recognised keys of params and ignores the rest.
	Configure(params map[string]any) error
	// Reset clears history and counters.
	Reset()
	Stats() map[string]any
	Config() map[string]any
}

// base holds the state every stage shares.
type base struct {
	name    string
	enabled bool
}

func (b *base) Name() string { return b.name }

func (b *base) Enabled() bool { return b.enabled }

func (b *base) SetEnabled(enabled bool) { b.enabled = enabled }

// floatParam reads a numeric parameter. JSON-decoded numbers arrive as
// float64; config and Go callers may pass ints.
func floatParam(params map[string]any, name string) (float64, bool, error) {
	raw, ok := params[name]
	if !ok {
		return 0, false, nil
	}

	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s: %v", ErrInvalidParam, name, err)
		}
		v = f
	default:
		return 0, false, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidParam, name, raw)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("%w: %s must be finite", ErrInvalidParam, name)
	}
	if v < 0 {
		return 0, false, fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidParam, name, v)
	}
	return v, true, nil
}

// intParam reads a numeric parameter and truncates it to an integer.
func intParam(params map[string]any, name string) (int, bool, error) {
	v, ok, err := floatParam(params, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	return int(v), true, nil
}

package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a scripted Detector for tests and for running without
// MediaPipe. Queued results are returned one per call; once the queue is
// empty the last configured hands repeat.
type MockDetector struct {
	mu     sync.Mutex
	queue  [][]HandLandmarks
	hands  []HandLandmarks
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands returned once the queue is drained.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// Enqueue appends one call's worth of hands.
func (m *MockDetector) Enqueue(hands ...HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, hands)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the next queued hands, the configured hands, or the error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	return m.hands, nil
}

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// HandWithTips returns a hand whose five fingertips sit at the given
// normalized positions, thumb first. Other landmarks are placed below the
// tips so the hand looks like it is resting over a keyboard.
func HandWithTips(handedness string, tips [FingersPerHand]Point3D) HandLandmarks {
	h := HandLandmarks{Handedness: handedness, Score: 0.95}

	var cx float64
	for _, t := range tips {
		cx += t.X
	}
	cx /= FingersPerHand
	h.Points[Wrist] = Point3D{X: cx, Y: tips[2].Y + 0.25}

	for finger, tip := range tips {
		base := 1 + finger*4
		for joint := 0; joint < 3; joint++ {
			lift := 0.06 * float64(3-joint)
			h.Points[base+joint] = Point3D{X: tip.X, Y: tip.Y + lift, Z: tip.Z}
		}
		h.Points[tipLandmarks[finger]] = tip
	}
	return h
}

// RestingHand returns a hand with fingertips spread evenly across
// [x0, x1] at height y, in normalized coordinates.
func RestingHand(handedness string, x0, x1, y float64) HandLandmarks {
	var tips [FingersPerHand]Point3D
	step := (x1 - x0) / (FingersPerHand - 1)
	for i := range tips {
		tips[i] = Point3D{X: x0 + step*float64(i), Y: y}
	}
	return HandWithTips(handedness, tips)
}

package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// blurSize is the Gaussian kernel applied before differencing.
	blurSize = 21
	// diffThreshold is the per-pixel intensity change that counts as motion.
	diffThreshold = 25
)

// MotionDetector watches a region of the frame for change between
// consecutive frames. The app uses it over the keyboard area to decide
// when the cameras can drop to the idle frame rate.
type MotionDetector struct {
	mu          sync.Mutex
	threshold   float64
	region      image.Rectangle
	prevGray    gocv.Mat
	initialized bool
}

// NewMotionDetector watches region, which is clipped to each frame. An empty
// region watches the whole frame. threshold is the percentage of watched
// pixels that must change.
func NewMotionDetector(region image.Rectangle, threshold float64) *MotionDetector {
	return &MotionDetector{
		threshold: threshold,
		region:    region,
		prevGray:  gocv.NewMat(),
	}
}

// Detect compares frame with the previous one and reports whether the
// changed share of the region exceeds the threshold, plus that share in
// percent. The first frame only sets the baseline.
func (m *MotionDetector) Detect(frame *gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	roi := bounds
	if !m.region.Empty() {
		roi = m.region.Intersect(bounds)
		if roi.Empty() {
			return false, 0
		}
	}

	view := frame.Region(roi)
	defer view.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if view.Channels() > 1 {
		gocv.CvtColor(view, &gray, gocv.ColorBGRToGray)
	} else {
		view.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: blurSize, Y: blurSize}, 0, 0, gocv.BorderDefault)

	// A resized frame invalidates the baseline.
	if !m.initialized || m.prevGray.Cols() != blurred.Cols() || m.prevGray.Rows() != blurred.Rows() {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, diffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&m.prevGray)

	return changed > m.threshold, changed
}

// SetRegion changes the watched region and drops the baseline.
func (m *MotionDetector) SetRegion(region image.Rectangle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.region = region
	m.initialized = false
}

// Reset drops the baseline so the next frame starts fresh.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
}

// Close releases the baseline frame.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prevGray.Close()
	m.prevGray = gocv.NewMat()
	m.initialized = false
}

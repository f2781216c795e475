package detector

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// Python and Script override interpreter and service discovery.
	Python string
	Script string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        2,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
	}
}

// ErrFrameSize is returned when a frame has no pixels to scale landmarks by.
var ErrFrameSize = errors.New("frame has no size")

// PairDetector runs one detector per camera. MediaPipe tracks hands across
// frames, so each view keeps its own detector.
type PairDetector struct {
	left  Detector
	right Detector
}

// NewPairDetector combines the detectors for the left and right views.
func NewPairDetector(left, right Detector) *PairDetector {
	return &PairDetector{left: left, right: right}
}

// Detect runs both views concurrently and returns their fingertips in pixels.
func (p *PairDetector) Detect(left, right *gocv.Mat, timestamp float64) (FramePair, error) {
	pair := FramePair{Timestamp: timestamp}

	var g errgroup.Group
	g.Go(func() error {
		tips, err := detectTips(p.left, left)
		if err != nil {
			return fmt.Errorf("left view: %w", err)
		}
		pair.Left = tips
		return nil
	})
	g.Go(func() error {
		tips, err := detectTips(p.right, right)
		if err != nil {
			return fmt.Errorf("right view: %w", err)
		}
		pair.Right = tips
		return nil
	})

	if err := g.Wait(); err != nil {
		return FramePair{}, err
	}
	return pair, nil
}

func detectTips(d Detector, frame *gocv.Mat) ([]Fingertip, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrFrameSize
	}
	hands, err := d.Detect(frame)
	if err != nil {
		return nil, err
	}
	return Fingertips(hands, frame.Cols(), frame.Rows()), nil
}

// Close closes both detectors.
func (p *PairDetector) Close() error {
	return errors.Join(p.left.Close(), p.right.Close())
}

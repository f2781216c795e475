package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/stereopiano/internal/calibration"
	"github.com/ayusman/stereopiano/internal/config"
	"gocv.io/x/gocv"
)

// Pair is one frame from each camera. Close releases both.
type Pair struct {
	Left  *gocv.Mat
	Right *gocv.Mat
	// Skew is the time between the two reads. Depth from a moving
	// fingertip degrades as it grows.
	Skew time.Duration
}

// Close releases both frames.
func (p Pair) Close() {
	if p.Left != nil {
		p.Left.Close()
	}
	if p.Right != nil {
		p.Right.Close()
	}
}

// StereoCamera drives the left and right cameras as one device.
type StereoCamera struct {
	left  Camera
	right Camera
}

// NewStereoCamera pairs two cameras.
func NewStereoCamera(left, right Camera) *StereoCamera {
	return &StereoCamera{left: left, right: right}
}

// DeviceIDs picks the capture devices. With UseCalibrationIDs set and ids
// recorded during calibration, those win over the configured ones.
func DeviceIDs(cfg config.Camera, st *calibration.State) (left, right int) {
	if cfg.UseCalibrationIDs && st != nil {
		if ids, ok := st.CameraIDs(); ok {
			return ids.Left, ids.Right
		}
	}
	return cfg.LeftID, cfg.RightID
}

// OpenDevices builds a StereoCamera over local video devices.
func OpenDevices(cfg config.Camera, st *calibration.State) (*StereoCamera, error) {
	leftID, rightID := DeviceIDs(cfg, st)
	if leftID == rightID {
		return nil, fmt.Errorf("left and right camera share device %d", leftID)
	}

	sc := NewStereoCamera(
		NewCamera(leftID, cfg.Width, cfg.Height),
		NewCamera(rightID, cfg.Width, cfg.Height),
	)
	if err := sc.Open(); err != nil {
		return nil, err
	}
	if st != nil {
		if err := sc.CheckSize(st.ImageSize()); err != nil {
			sc.Close()
			return nil, err
		}
	}
	return sc, nil
}

// CheckSize verifies that both cameras deliver the calibrated resolution.
// Rectification tables are built for that size only.
func (s *StereoCamera) CheckSize(want calibration.ImageSize) error {
	for _, side := range []struct {
		name string
		cam  Camera
	}{{"left", s.left}, {"right", s.right}} {
		w, h := side.cam.Size()
		if w != want.Width || h != want.Height {
			return fmt.Errorf("%s camera is %dx%d, calibrated for %dx%d: %w",
				side.name, w, h, want.Width, want.Height, ErrSizeMismatch)
		}
	}
	return nil
}

// Open opens both cameras. If the right one fails the left is closed again.
func (s *StereoCamera) Open() error {
	if err := s.left.Open(); err != nil {
		return fmt.Errorf("left camera: %w", err)
	}
	if err := s.right.Open(); err != nil {
		s.left.Close()
		return fmt.Errorf("right camera: %w", err)
	}
	return nil
}

// Close closes both cameras.
func (s *StereoCamera) Close() error {
	return errors.Join(s.left.Close(), s.right.Close())
}

// IsOpen reports whether both cameras are open.
func (s *StereoCamera) IsOpen() bool {
	return s.left.IsOpen() && s.right.IsOpen()
}

// ReadPair reads one frame from each camera, left first. On error no frame
// is returned.
func (s *StereoCamera) ReadPair() (Pair, error) {
	left, err := s.left.ReadFrame()
	if err != nil {
		return Pair{}, fmt.Errorf("left camera: %w", err)
	}
	start := time.Now()
	right, err := s.right.ReadFrame()
	if err != nil {
		left.Close()
		return Pair{}, fmt.Errorf("right camera: %w", err)
	}
	if left.Cols() != right.Cols() || left.Rows() != right.Rows() {
		left.Close()
		right.Close()
		return Pair{}, fmt.Errorf("frame sizes differ: %dx%d and %dx%d",
			left.Cols(), left.Rows(), right.Cols(), right.Rows())
	}
	return Pair{Left: left, Right: right, Skew: time.Since(start)}, nil
}

// SetFPS sets the capture rate of both cameras.
func (s *StereoCamera) SetFPS(fps int) {
	s.left.SetFPS(fps)
	s.right.SetFPS(fps)
}

// FPS returns the capture rate of the left camera.
func (s *StereoCamera) FPS() int {
	return s.left.FPS()
}

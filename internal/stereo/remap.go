package stereo

import (
	"errors"
	"fmt"
	"image/color"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when an input frame has no pixels.
var ErrEmptyFrame = errors.New("empty frame")

// cvMap is a RectificationMap uploaded into CV_32FC1 matrices.
type cvMap struct {
	x, y gocv.Mat
}

// toMats copies the remap tables into CV_32FC1 matrices. The caller closes both.
func (m *RectificationMap) toMats() (cvMap, error) {
	mx := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV32FC1)
	my := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV32FC1)
	out := cvMap{x: mx, y: my}

	dx, err := mx.DataPtrFloat32()
	if err != nil {
		out.Close()
		return cvMap{}, fmt.Errorf("map x: %w", err)
	}
	dy, err := my.DataPtrFloat32()
	if err != nil {
		out.Close()
		return cvMap{}, fmt.Errorf("map y: %w", err)
	}
	copy(dx, m.MapX)
	copy(dy, m.MapY)

	return out, nil
}

func (c cvMap) Close() {
	c.x.Close()
	c.y.Close()
}

func (c cvMap) remap(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, ErrEmptyFrame
	}
	dst := gocv.NewMat()
	gocv.Remap(src, &dst, &c.x, &c.y, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return dst, nil
}

// Remap produces the rectified image for one raw frame. The caller closes the
// result. The tables are uploaded on every call; use a Remapper for a stream
// of frames.
func (m *RectificationMap) Remap(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, ErrEmptyFrame
	}

	c, err := m.toMats()
	if err != nil {
		return gocv.Mat{}, err
	}
	defer c.Close()

	return c.remap(src)
}

// RectifyImagePair remaps both raw frames with bilinear interpolation. The
// caller closes both results.
func RectifyImagePair(maps *Maps, left, right gocv.Mat) (gocv.Mat, gocv.Mat, error) {
	l, err := maps.Left.Remap(left)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("rectify left: %w", err)
	}
	r, err := maps.Right.Remap(right)
	if err != nil {
		l.Close()
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("rectify right: %w", err)
	}
	return l, r, nil
}

// Remapper rectifies a stream of frame pairs, keeping the uploaded tables of
// the last Maps it saw until the rig publishes new ones. It is not safe for
// concurrent use.
type Remapper struct {
	maps        *Maps
	left, right cvMap
	uploads     int
}

// NewRemapper returns an empty Remapper.
func NewRemapper() *Remapper {
	return &Remapper{}
}

// Rectify remaps both frames through maps. The caller closes both results.
func (r *Remapper) Rectify(maps *Maps, left, right gocv.Mat) (gocv.Mat, gocv.Mat, error) {
	if left.Empty() || right.Empty() {
		return gocv.Mat{}, gocv.Mat{}, ErrEmptyFrame
	}
	if err := r.load(maps); err != nil {
		return gocv.Mat{}, gocv.Mat{}, err
	}

	l, err := r.left.remap(left)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("rectify left: %w", err)
	}
	rr, err := r.right.remap(right)
	if err != nil {
		l.Close()
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("rectify right: %w", err)
	}
	return l, rr, nil
}

// load uploads maps unless they are the ones already held.
func (r *Remapper) load(maps *Maps) error {
	if maps == r.maps {
		return nil
	}

	left, err := maps.Left.toMats()
	if err != nil {
		return fmt.Errorf("upload left map: %w", err)
	}
	right, err := maps.Right.toMats()
	if err != nil {
		left.Close()
		return fmt.Errorf("upload right map: %w", err)
	}

	r.Close()
	r.maps, r.left, r.right = maps, left, right
	r.uploads++
	return nil
}

// Close releases the uploaded tables.
func (r *Remapper) Close() {
	if r.maps == nil {
		return
	}
	r.left.Close()
	r.right.Close()
	r.maps = nil
}

// Package stereo rectifies and triangulates fingertip observations from a
// calibrated stereo rig.
package stereo

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/stereopiano/internal/calibration"
)

// undistortIterations matches the default fixed-point iteration count of
// OpenCV's undistortPoints.
const undistortIterations = 5

// ErrInvalidGeometry is returned when intrinsics or rectification matrices cannot
// produce a usable map (zero focal length, singular projection, empty image).
var ErrInvalidGeometry = errors.New("invalid rectification geometry")

// Interpolation selects how a sparse point is looked up in a RectificationMap.
type Interpolation int

const (
	// Nearest truncates the observation to integer pixel coordinates and reads
	// the table entry there.
	Nearest Interpolation = iota
	// Bilinear blends the four surrounding table entries.
	Bilinear
)

// Point2D is a pixel coordinate.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RectificationMap holds dense per-pixel lookup tables for one camera.
// It is never modified after BuildMap returns.
type RectificationMap struct {
	Width  int
	Height int

	// MapX and MapY give, for each rectified pixel, the raw source coordinate.
	// This is the table cv::remap consumes.
	MapX []float32
	MapY []float32

	// ForwardX and ForwardY give, for each raw pixel, its rectified coordinate.
	// Sparse fingertip observations are looked up here.
	ForwardX []float32
	ForwardY []float32
}

// distortion unpacks OpenCV ordered coefficients k1, k2, p1, p2, k3, k4, k5, k6.
type distortion struct {
	k1, k2, p1, p2, k3, k4, k5, k6 float64
}

func newDistortion(d []float64) distortion {
	var c [8]float64
	copy(c[:], d)
	return distortion{k1: c[0], k2: c[1], p1: c[2], p2: c[3], k3: c[4], k4: c[5], k5: c[6], k6: c[7]}
}

// radial returns the rational radial distortion factor for r2 = x^2 + y^2.
func (d distortion) radial(r2 float64) float64 {
	num := 1 + ((d.k3*r2+d.k2)*r2+d.k1)*r2
	den := 1 + ((d.k6*r2+d.k5)*r2+d.k4)*r2
	return num / den
}

// BuildMap evaluates the undistortion and rectification model over the full
// image grid. R is the 3x3 rectifying rotation and P the 3x4 rectified projection.
func BuildMap(intr calibration.CameraIntrinsics, R, P *mat.Dense, size calibration.ImageSize) (*RectificationMap, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrInvalidGeometry, size.Width, size.Height)
	}
	if r, c := R.Dims(); r != 3 || c != 3 {
		return nil, fmt.Errorf("%w: rotation is %dx%d, want 3x3", ErrInvalidGeometry, r, c)
	}
	if r, c := P.Dims(); r != 3 || c < 3 {
		return nil, fmt.Errorf("%w: projection is %dx%d, want 3x4", ErrInvalidGeometry, r, c)
	}

	fx, fy := intr.Focal()
	cx, cy := intr.PrincipalPoint()
	if fx == 0 || fy == 0 {
		return nil, fmt.Errorf("%w: zero focal length", ErrInvalidGeometry)
	}
	dist := newDistortion(intr.Distortion)

	// M maps normalized undistorted camera rays into rectified pixels.
	var m mat.Dense
	m.Mul(P.Slice(0, 3, 0, 3), R)

	var inv mat.Dense
	if err := inv.Inverse(&m); err != nil {
		return nil, fmt.Errorf("%w: rectified projection is singular: %v", ErrInvalidGeometry, err)
	}

	n := size.Width * size.Height
	rm := &RectificationMap{
		Width:    size.Width,
		Height:   size.Height,
		MapX:     make([]float32, n),
		MapY:     make([]float32, n),
		ForwardX: make([]float32, n),
		ForwardY: make([]float32, n),
	}

	ir := inv.RawMatrix()
	mr := m.RawMatrix()
	at := func(raw blas64.General, i, j int) float64 { return raw.Data[i*raw.Stride+j] }

	for v := 0; v < size.Height; v++ {
		for u := 0; u < size.Width; u++ {
			idx := v*size.Width + u
			fu, fv := float64(u), float64(v)

			// rectified pixel -> raw pixel (initUndistortRectifyMap)
			xw := fu*at(ir, 0, 0) + fv*at(ir, 0, 1) + at(ir, 0, 2)
			yw := fu*at(ir, 1, 0) + fv*at(ir, 1, 1) + at(ir, 1, 2)
			ww := fu*at(ir, 2, 0) + fv*at(ir, 2, 1) + at(ir, 2, 2)
			sx, sy := math.Inf(1), math.Inf(1)
			if ww != 0 {
				x, y := xw/ww, yw/ww
				x2, y2, xy2 := x*x, y*y, 2*x*y
				r2 := x2 + y2
				kr := dist.radial(r2)
				sx = fx*(x*kr+dist.p1*xy2+dist.p2*(r2+2*x2)) + cx
				sy = fy*(y*kr+dist.p1*(r2+2*y2)+dist.p2*xy2) + cy
			}
			rm.MapX[idx] = float32(sx)
			rm.MapY[idx] = float32(sy)

			// raw pixel -> rectified pixel (undistortPoints with R and P)
			x0 := (fu - cx) / fx
			y0 := (fv - cy) / fy
			x, y := x0, y0
			for i := 0; i < undistortIterations; i++ {
				r2 := x*x + y*y
				icdist := 1 / dist.radial(r2)
				dx := 2*dist.p1*x*y + dist.p2*(r2+2*x*x)
				dy := dist.p1*(r2+2*y*y) + 2*dist.p2*x*y
				x = (x0 - dx) * icdist
				y = (y0 - dy) * icdist
			}
			X := at(mr, 0, 0)*x + at(mr, 0, 1)*y + at(mr, 0, 2)
			Y := at(mr, 1, 0)*x + at(mr, 1, 1)*y + at(mr, 1, 2)
			W := at(mr, 2, 0)*x + at(mr, 2, 1)*y + at(mr, 2, 2)
			rx, ry := math.Inf(1), math.Inf(1)
			if W != 0 {
				rx, ry = X/W, Y/W
			}
			rm.ForwardX[idx] = float32(rx)
			rm.ForwardY[idx] = float32(ry)
		}
	}

	return rm, nil
}

// contains reports whether (x, y) lies on the map grid.
func (m *RectificationMap) contains(x, y float64) bool {
	return x >= 0 && y >= 0 && x < float64(m.Width) && y < float64(m.Height)
}

// RectifyPoint maps a raw observation to rectified coordinates by reading the
// table at the truncated integer pixel. No interpolation is performed, so the
// result can be off by up to one pixel's worth of map gradient.
func (m *RectificationMap) RectifyPoint(x, y float64) (float64, float64, bool) {
	if !m.contains(x, y) {
		return 0, 0, false
	}
	idx := int(y)*m.Width + int(x)
	rx, ry := float64(m.ForwardX[idx]), float64(m.ForwardY[idx])
	if math.IsInf(rx, 0) || math.IsInf(ry, 0) {
		return 0, 0, false
	}
	return rx, ry, true
}

// RectifyPointBilinear maps a raw observation by blending the four surrounding
// table entries. At the last row or column the edge entries are reused.
func (m *RectificationMap) RectifyPointBilinear(x, y float64) (float64, float64, bool) {
	if !m.contains(x, y) {
		return 0, 0, false
	}

	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, m.Width-1), min(y0+1, m.Height-1)
	ax, ay := x-float64(x0), y-float64(y0)

	sample := func(table []float32) float64 {
		v00 := float64(table[y0*m.Width+x0])
		v10 := float64(table[y0*m.Width+x1])
		v01 := float64(table[y1*m.Width+x0])
		v11 := float64(table[y1*m.Width+x1])
		top := v00 + (v10-v00)*ax
		bottom := v01 + (v11-v01)*ax
		return top + (bottom-top)*ay
	}

	rx, ry := sample(m.ForwardX), sample(m.ForwardY)
	if math.IsInf(rx, 0) || math.IsInf(ry, 0) || math.IsNaN(rx) || math.IsNaN(ry) {
		return 0, 0, false
	}
	return rx, ry, true
}

// Maps holds the rectification tables for both cameras.
type Maps struct {
	Left  *RectificationMap
	Right *RectificationMap
}

// BuildMaps builds both cameras' tables from a complete calibration.
// This is an O(width*height) one-time cost per calibration load.
func BuildMaps(st *calibration.State) (*Maps, error) {
	if !st.IsComplete().All() {
		return nil, fmt.Errorf("build rectification maps: %w", calibration.ErrIncompleteCalibration)
	}

	rect := st.Rectification()
	size := st.ImageSize()

	left, err := BuildMap(st.Intrinsics(calibration.SideLeft), rect.R1, rect.P1, size)
	if err != nil {
		return nil, fmt.Errorf("left camera: %w", err)
	}
	right, err := BuildMap(st.Intrinsics(calibration.SideRight), rect.R2, rect.P2, size)
	if err != nil {
		return nil, fmt.Errorf("right camera: %w", err)
	}

	return &Maps{Left: left, Right: right}, nil
}

// For returns the map for one camera.
func (m *Maps) For(side calibration.Side) *RectificationMap {
	if side == calibration.SideRight {
		return m.Right
	}
	return m.Left
}

// RectifyPoint rectifies a single observation from the given camera.
func (m *Maps) RectifyPoint(side calibration.Side, p Point2D, mode Interpolation) (Point2D, bool) {
	table := m.For(side)

	var x, y float64
	var ok bool
	if mode == Bilinear {
		x, y, ok = table.RectifyPointBilinear(p.X, p.Y)
	} else {
		x, y, ok = table.RectifyPoint(p.X, p.Y)
	}
	return Point2D{X: x, Y: y}, ok
}

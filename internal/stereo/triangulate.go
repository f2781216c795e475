package stereo

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned by BatchTriangulate when the left and right
// point lists differ in length.
var ErrShapeMismatch = errors.New("left and right point lists differ in length")

// metersToCM converts the metric output of Q into centimeters.
const metersToCM = 100.0

// Point3D is a triangulated point in centimeters, in the left rectified
// camera frame.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TriangulationStats counts rejected correspondences.
type TriangulationStats struct {
	Triangulated uint64 `json:"triangulated"`
	NonPositive  uint64 `json:"non_positive_disparity"`
	ZeroWeight   uint64 `json:"zero_weight"`
}

// Triangulator reprojects rectified correspondences through a 4x4 Q matrix.
// It is safe for concurrent use.
type Triangulator struct {
	q *mat.Dense

	triangulated atomic.Uint64
	nonPositive  atomic.Uint64
	zeroWeight   atomic.Uint64
}

// NewTriangulator creates a triangulator for the given disparity-to-depth matrix.
func NewTriangulator(q *mat.Dense) (*Triangulator, error) {
	if r, c := q.Dims(); r != 4 || c != 4 {
		return nil, fmt.Errorf("%w: Q is %dx%d, want 4x4", ErrInvalidGeometry, r, c)
	}
	return &Triangulator{q: mat.DenseCopyOf(q)}, nil
}

// TriangulatePoint returns the 3D point for a rectified correspondence.
// It reports false when disparity is not positive or the homogeneous weight
// vanishes.
func (t *Triangulator) TriangulatePoint(left, right Point2D) (Point3D, bool) {
	disparity := left.X - right.X
	if disparity <= 0 {
		t.nonPositive.Add(1)
		return Point3D{}, false
	}

	v := mat.NewVecDense(4, []float64{left.X, left.Y, disparity, 1})
	var h mat.VecDense
	h.MulVec(t.q, v)

	w := h.AtVec(3)
	if w == 0 {
		t.zeroWeight.Add(1)
		return Point3D{}, false
	}

	p := Point3D{
		X: h.AtVec(0) / w * metersToCM,
		Y: h.AtVec(1) / w * metersToCM,
		Z: h.AtVec(2) / w * metersToCM,
	}
	if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
		t.zeroWeight.Add(1)
		return Point3D{}, false
	}

	t.triangulated.Add(1)
	return p, true
}

// Depth returns only the Z component of TriangulatePoint.
func (t *Triangulator) Depth(left, right Point2D) (float64, bool) {
	p, ok := t.TriangulatePoint(left, right)
	return p.Z, ok
}

// BatchTriangulate triangulates index-aligned correspondences. Entries that
// cannot be triangulated are nil. Nothing is computed on a length mismatch.
func (t *Triangulator) BatchTriangulate(left, right []Point2D) ([]*Point3D, error) {
	if len(left) != len(right) {
		return nil, fmt.Errorf("%w: %d left, %d right", ErrShapeMismatch, len(left), len(right))
	}

	out := make([]*Point3D, len(left))
	for i := range left {
		if p, ok := t.TriangulatePoint(left[i], right[i]); ok {
			out[i] = &p
		}
	}
	return out, nil
}

// Stats returns counters accumulated since the triangulator was created.
func (t *Triangulator) Stats() TriangulationStats {
	return TriangulationStats{
		Triangulated: t.triangulated.Load(),
		NonPositive:  t.nonPositive.Load(),
		ZeroWeight:   t.zeroWeight.Load(),
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

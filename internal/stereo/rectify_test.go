package stereo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/stereopiano/internal/calibration"
	"github.com/ayusman/stereopiano/internal/calibration/calibrationtest"
)

func TestBuildMaps_IdealRigIsIdentity(t *testing.T) {
	rig := calibrationtest.DefaultRig()
	maps, err := BuildMaps(rig.State(t))
	require.NoError(t, err)

	for _, side := range []calibration.Side{calibration.SideLeft, calibration.SideRight} {
		m := maps.For(side)
		assert.Equal(t, 640, m.Width, side.String())
		assert.Equal(t, 480, m.Height, side.String())

		for _, px := range [][2]int{{0, 0}, {320, 240}, {639, 479}, {17, 401}} {
			idx := px[1]*m.Width + px[0]
			assert.InDelta(t, float64(px[0]), float64(m.ForwardX[idx]), 1e-3)
			assert.InDelta(t, float64(px[1]), float64(m.ForwardY[idx]), 1e-3)
			assert.InDelta(t, float64(px[0]), float64(m.MapX[idx]), 1e-3)
			assert.InDelta(t, float64(px[1]), float64(m.MapY[idx]), 1e-3)
		}
	}
}

func TestRectifyPoint_NearestVersusBilinear(t *testing.T) {
	maps, err := BuildMaps(calibrationtest.DefaultRig().State(t))
	require.NoError(t, err)

	// Nearest truncates to the integer pixel, so the fractional part is lost.
	x, y, ok := maps.Left.RectifyPoint(100.7, 50.3)
	require.True(t, ok)
	assert.InDelta(t, 100.0, x, 1e-3)
	assert.InDelta(t, 50.0, y, 1e-3)

	x, y, ok = maps.Left.RectifyPointBilinear(100.7, 50.3)
	require.True(t, ok)
	assert.InDelta(t, 100.7, x, 1e-3)
	assert.InDelta(t, 50.3, y, 1e-3)

	p, ok := maps.RectifyPoint(calibration.SideRight, Point2D{X: 10.9, Y: 20.9}, Nearest)
	require.True(t, ok)
	assert.InDelta(t, 10.0, p.X, 1e-3)
	assert.InDelta(t, 20.0, p.Y, 1e-3)
}

func TestRectifyPoint_OutOfBounds(t *testing.T) {
	maps, err := BuildMaps(calibrationtest.DefaultRig().State(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		x, y float64
	}{
		{"negative x", -1, 10},
		{"negative y", 10, -0.5},
		{"x at width", 640, 10},
		{"y past height", 10, 480.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := maps.Left.RectifyPoint(tt.x, tt.y)
			assert.False(t, ok)
			_, _, ok = maps.Left.RectifyPointBilinear(tt.x, tt.y)
			assert.False(t, ok)
		})
	}
}

func TestBuildMap_DistortionRoundTrip(t *testing.T) {
	rig := calibrationtest.DefaultRig()
	rig.Distortion = []float64{0.1, -0.02, 0, 0, 0}
	st := rig.State(t)

	maps, err := BuildMaps(st)
	require.NoError(t, err)
	m := maps.Left

	// A rectified pixel mapped back to raw and then forward again lands where it started.
	idx := 400*m.Width + 500
	rawX, rawY := float64(m.MapX[idx]), float64(m.MapY[idx])
	assert.Greater(t, rawX, 500.0, "positive k1 pushes the raw pixel outward")

	x, y, ok := m.RectifyPointBilinear(rawX, rawY)
	require.True(t, ok)
	assert.InDelta(t, 500.0, x, 0.05)
	assert.InDelta(t, 400.0, y, 0.05)

	x, y, ok = m.RectifyPoint(rawX, rawY)
	require.True(t, ok)
	assert.InDelta(t, 500.0, x, 1.5)
	assert.InDelta(t, 400.0, y, 1.5)
}

func TestRectifyPoint_ReadsForwardTable(t *testing.T) {
	rig := calibrationtest.DefaultRig()
	rig.Distortion = []float64{0.1, -0.02, 0, 0, 0}
	maps, err := BuildMaps(rig.State(t))
	require.NoError(t, err)
	m := maps.Left

	// Reading the remap table at a raw pixel goes the wrong way: it returns
	// the raw source of that rectified pixel, pushed outward by k1, while the
	// rectified position of a raw pixel lies inward.
	idx := 400*m.Width + 500
	remapX, remapY := float64(m.MapX[idx]), float64(m.MapY[idx])
	x, y, ok := m.RectifyPoint(500, 400)
	require.True(t, ok)

	assert.Greater(t, remapX, 501.0)
	assert.Greater(t, remapY, 401.0)
	assert.Less(t, x, 499.0)
	assert.Less(t, y, 399.0)
	assert.Greater(t, remapX-x, 3.0, "the two tables disagree by twice the distortion")
}

func TestBuildMap_InvalidGeometry(t *testing.T) {
	st := calibrationtest.DefaultRig().State(t)
	intr := st.Intrinsics(calibration.SideLeft)
	rect := st.Rectification()

	t.Run("empty image", func(t *testing.T) {
		_, err := BuildMap(intr, rect.R1, rect.P1, calibration.ImageSize{})
		assert.True(t, errors.Is(err, ErrInvalidGeometry))
	})

	t.Run("singular projection", func(t *testing.T) {
		_, err := BuildMap(intr, rect.R1, mat.NewDense(3, 4, nil), st.ImageSize())
		assert.True(t, errors.Is(err, ErrInvalidGeometry))
	})

	t.Run("wrong rotation shape", func(t *testing.T) {
		_, err := BuildMap(intr, mat.NewDense(2, 2, nil), rect.P1, st.ImageSize())
		assert.True(t, errors.Is(err, ErrInvalidGeometry))
	})
}

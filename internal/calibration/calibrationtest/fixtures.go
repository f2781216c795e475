// Package calibrationtest builds synthetic calibration records for tests.
package calibrationtest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/stereopiano/internal/calibration"
)

// Rig describes an ideal, already rectified stereo pair: identity rotation,
// translation along x and a shared pinhole camera.
type Rig struct {
	Focal      float64
	Cx, Cy     float64
	BaselineM  float64
	Width      int
	Height     int
	Distortion []float64
}

// DefaultRig is a 640x480 rig with f=700 px and a 6 cm baseline.
func DefaultRig() Rig {
	return Rig{
		Focal:     700,
		Cx:        320,
		Cy:        240,
		BaselineM: 0.06,
		Width:     640,
		Height:    480,
	}
}

// BaselineCM returns the baseline in centimeters.
func (r Rig) BaselineCM() float64 {
	return r.BaselineM * 100
}

// ExpectedDepthCM is the depth a point with the given disparity must triangulate to.
func (r Rig) ExpectedDepthCM(disparity float64) float64 {
	return r.BaselineCM() * r.Focal / disparity
}

func (r Rig) cameraMatrix() calibration.Matrix {
	return calibration.Matrix{
		{r.Focal, 0, r.Cx},
		{0, r.Focal, r.Cy},
		{0, 0, 1},
	}
}

func identity() calibration.Matrix {
	return calibration.Matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Record returns a complete calibration record for the rig.
func (r Rig) Record() calibration.Record {
	reproj := 0.21
	rms := 0.35
	pairs := 15
	tx := -r.BaselineM
	dist := r.Distortion
	if dist == nil {
		dist = []float64{0, 0, 0, 0, 0}
	}

	cam := func() *calibration.CameraRecord {
		return &calibration.CameraRecord{
			CameraMatrix:      r.cameraMatrix(),
			DistortionCoeffs:  append(calibration.Values(nil), dist...),
			ImageSize:         []int{r.Width, r.Height},
			ReprojectionError: &reproj,
		}
	}

	return calibration.Record{
		Version:     "1.0",
		LeftCamera:  cam(),
		RightCamera: cam(),
		Stereo: &calibration.StereoRecord{
			RotationMatrix:    identity(),
			TranslationVector: calibration.Values{tx, 0, 0},
			RMSError:          &rms,
			NumPairs:          &pairs,
			Rectification: &calibration.RectificationRecord{
				R1: identity(),
				R2: identity(),
				P1: calibration.Matrix{
					{r.Focal, 0, r.Cx, 0},
					{0, r.Focal, r.Cy, 0},
					{0, 0, 1, 0},
				},
				P2: calibration.Matrix{
					{r.Focal, 0, r.Cx, tx * r.Focal},
					{0, r.Focal, r.Cy, 0},
					{0, 0, 1, 0},
				},
				Q: calibration.Matrix{
					{1, 0, 0, -r.Cx},
					{0, 1, 0, -r.Cy},
					{0, 0, 0, r.Focal},
					{0, 0, -1 / tx, 0},
				},
			},
		},
		CameraIDs: &calibration.CameraIDs{Left: 1, Right: 2},
	}
}

// JSON returns the record serialized the way the calibration tooling writes it.
func (r Rig) JSON(tb testing.TB) []byte {
	tb.Helper()
	return Marshal(tb, r.Record())
}

// State parses the rig's record into a validated state.
func (r Rig) State(tb testing.TB) *calibration.State {
	tb.Helper()
	st, err := calibration.Parse(r.JSON(tb), "calibrationtest")
	if err != nil {
		tb.Fatalf("parse synthetic calibration: %v", err)
	}
	return st
}

// Marshal serializes any record value, failing the test on error.
func Marshal(tb testing.TB, v any) []byte {
	tb.Helper()
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		tb.Fatalf("marshal calibration record: %v", err)
	}
	return data
}

// WriteFile writes data as calibration.json under dir and returns its path.
func WriteFile(tb testing.TB, dir string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, "calibration.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write calibration file: %v", err)
	}
	return path
}

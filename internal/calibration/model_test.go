package calibration_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/stereopiano/internal/calibration"
	"github.com/ayusman/stereopiano/internal/calibration/calibrationtest"
)

func TestLoad_MissingFile(t *testing.T) {
	_, err := calibration.Load(filepath.Join(t.TempDir(), "calibration.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, calibration.ErrMissingCalibrationFile))
}

func TestLoad_CompleteRecord(t *testing.T) {
	rig := calibrationtest.DefaultRig()
	path := calibrationtest.WriteFile(t, t.TempDir(), rig.JSON(t))

	st, err := calibration.Load(path)
	require.NoError(t, err)

	c := st.IsComplete()
	assert.True(t, c.Phase1)
	assert.True(t, c.Phase2)
	assert.True(t, c.Rectification)
	assert.True(t, c.All())

	assert.NotEmpty(t, st.ID())
	assert.Equal(t, path, st.Source())
	assert.Equal(t, calibration.ImageSize{Width: 640, Height: 480}, st.ImageSize())

	fx, fy := st.Intrinsics(calibration.SideLeft).Focal()
	assert.Equal(t, 700.0, fx)
	assert.Equal(t, 700.0, fy)

	q := st.Rectification().Q
	r, cols := q.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 4, cols)

	ids, ok := st.CameraIDs()
	require.True(t, ok)
	assert.Equal(t, 2, ids.Right)
}

func TestParse_IncompletePhases(t *testing.T) {
	rig := calibrationtest.DefaultRig()

	tests := []struct {
		name   string
		mutate func(rec *calibration.Record)
		phase  calibration.Phase
	}{
		{
			name:   "missing left camera",
			mutate: func(rec *calibration.Record) { rec.LeftCamera = nil },
			phase:  calibration.PhaseOne,
		},
		{
			name:   "right camera without camera matrix",
			mutate: func(rec *calibration.Record) { rec.RightCamera.CameraMatrix = nil },
			phase:  calibration.PhaseOne,
		},
		{
			name:   "stereo null",
			mutate: func(rec *calibration.Record) { rec.Stereo = nil },
			phase:  calibration.PhaseTwo,
		},
		{
			name:   "stereo without rectification",
			mutate: func(rec *calibration.Record) { rec.Stereo.Rectification = nil },
			phase:  calibration.PhaseRectification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := rig.Record()
			tt.mutate(&rec)

			_, err := calibration.Parse(calibrationtest.Marshal(t, rec), "test")
			require.Error(t, err)
			assert.True(t, errors.Is(err, calibration.ErrIncompleteCalibration))
			assert.True(t, calibration.IsIncomplete(err, tt.phase), "got %v", err)

			var ic *calibration.IncompleteCalibrationError
			require.True(t, errors.As(err, &ic))
			assert.Equal(t, tt.phase, ic.Phase)
		})
	}
}

func TestParse_StereoExplicitNull(t *testing.T) {
	rec := calibrationtest.DefaultRig().Record()
	rec.Stereo = nil
	data := calibrationtest.Marshal(t, rec)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, "null", string(raw["stereo"]))

	_, err := calibration.Parse(data, "test")
	assert.True(t, calibration.IsIncomplete(err, calibration.PhaseTwo))
}

func TestParse_RectificationKeyAbsent(t *testing.T) {
	rec := calibrationtest.DefaultRig().Record()
	rec.Stereo.Rectification = nil
	data := calibrationtest.Marshal(t, rec)

	var raw struct {
		Stereo map[string]json.RawMessage `json:"stereo"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	_, present := raw.Stereo["rectification"]
	require.False(t, present)

	_, err := calibration.Parse(data, "test")
	assert.True(t, calibration.IsIncomplete(err, calibration.PhaseRectification))
}

func TestParse_Baseline(t *testing.T) {
	t.Run("computed from translation norm", func(t *testing.T) {
		st := calibrationtest.DefaultRig().State(t)
		assert.InDelta(t, 6.0, st.BaselineCM(), 1e-9)
	})

	t.Run("stored value wins", func(t *testing.T) {
		rec := calibrationtest.DefaultRig().Record()
		stored := 7.25
		rec.Stereo.BaselineCM = &stored

		st, err := calibration.Parse(calibrationtest.Marshal(t, rec), "test")
		require.NoError(t, err)
		assert.Equal(t, 7.25, st.BaselineCM())
	})
}

func TestParse_NestedVectors(t *testing.T) {
	// numpy writes distortion as a (1, 5) row and translation as a (3, 1) column.
	rec := calibrationtest.DefaultRig().Record()
	data := calibrationtest.Marshal(t, rec)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["left_camera"].(map[string]any)["distortion_coeffs"] = []any{[]any{0.1, -0.05, 0.001, 0.002, 0.0}}
	doc["stereo"].(map[string]any)["translation_vector"] = []any{[]any{-0.06}, []any{0.0}, []any{0.0}}

	st, err := calibration.Parse(calibrationtest.Marshal(t, doc), "test")
	require.NoError(t, err)

	assert.Equal(t, []float64{0.1, -0.05, 0.001, 0.002, 0.0}, st.Intrinsics(calibration.SideLeft).Distortion)
	assert.InDelta(t, -0.06, st.Extrinsics().Translation.AtVec(0), 1e-12)
}

func TestParse_ImageSizeFallback(t *testing.T) {
	rec := calibrationtest.DefaultRig().Record()
	rec.LeftCamera.ImageSize = nil
	rec.RightCamera.ImageSize = nil

	st, err := calibration.Parse(calibrationtest.Marshal(t, rec), "test")
	require.NoError(t, err)
	assert.Equal(t, calibration.ImageSize{Width: 640, Height: 480}, st.ImageSize())
}

func TestParse_Malformed(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		_, err := calibration.Parse([]byte("{"), "test")
		assert.True(t, errors.Is(err, calibration.ErrMalformedCalibration))
	})

	t.Run("Q with wrong shape", func(t *testing.T) {
		rec := calibrationtest.DefaultRig().Record()
		rec.Stereo.Rectification.Q = rec.Stereo.Rectification.Q[:3]

		_, err := calibration.Parse(calibrationtest.Marshal(t, rec), "test")
		assert.True(t, errors.Is(err, calibration.ErrMalformedCalibration))
		assert.Contains(t, err.Error(), "stereo.rectification.Q")
	})
}

func TestState_AccessorsReturnCopies(t *testing.T) {
	st := calibrationtest.DefaultRig().State(t)

	q := st.Rectification().Q
	q.Set(0, 0, 42)

	assert.Equal(t, 1.0, st.Rectification().Q.At(0, 0))
}

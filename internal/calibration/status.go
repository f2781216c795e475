package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Status is a non-fatal report on a calibration record, used for diagnostics.
type Status struct {
	Completeness

	LeftReprojectionError  *float64 `json:"left_reprojection_error,omitempty"`
	RightReprojectionError *float64 `json:"right_reprojection_error,omitempty"`
	BaselineCM             *float64 `json:"baseline_cm,omitempty"`
	RMSError               *float64 `json:"rms_error,omitempty"`
	NumPairs               *int     `json:"num_pairs,omitempty"`
}

// Inspect reports which phases a record contains without validating matrix shapes.
// It only fails if data is not a JSON object.
func Inspect(data []byte) (Status, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformedCalibration, err)
	}

	var st Status
	hasLeft := rec.LeftCamera != nil && len(rec.LeftCamera.CameraMatrix) > 0
	hasRight := rec.RightCamera != nil && len(rec.RightCamera.CameraMatrix) > 0
	st.Phase1 = hasLeft && hasRight
	st.Phase2 = st.Phase1 && rec.Stereo != nil
	st.Rectification = st.Phase2 && rec.Stereo.Rectification != nil

	if hasLeft {
		st.LeftReprojectionError = rec.LeftCamera.ReprojectionError
	}
	if hasRight {
		st.RightReprojectionError = rec.RightCamera.ReprojectionError
	}
	if rec.Stereo != nil {
		st.BaselineCM = rec.Stereo.BaselineCM
		st.RMSError = rec.Stereo.RMSError
		st.NumPairs = rec.Stereo.NumPairs
	}

	return st, nil
}

// StatusOf inspects the record at path.
func StatusOf(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, fmt.Errorf("%w: %s", ErrMissingCalibrationFile, path)
		}
		return Status{}, fmt.Errorf("read calibration file: %w", err)
	}
	return Inspect(data)
}

// Summary renders the status as a short multi-line report.
func (s Status) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "phase1 (camera intrinsics): %s\n", mark(s.Phase1))
	if s.LeftReprojectionError != nil {
		fmt.Fprintf(&b, "  left reprojection error:  %.6f px\n", *s.LeftReprojectionError)
	}
	if s.RightReprojectionError != nil {
		fmt.Fprintf(&b, "  right reprojection error: %.6f px\n", *s.RightReprojectionError)
	}

	fmt.Fprintf(&b, "phase2 (stereo extrinsics): %s\n", mark(s.Phase2))
	if s.BaselineCM != nil {
		fmt.Fprintf(&b, "  baseline: %.2f cm\n", *s.BaselineCM)
	}
	if s.RMSError != nil {
		fmt.Fprintf(&b, "  rms error: %.4f\n", *s.RMSError)
	}
	if s.NumPairs != nil {
		fmt.Fprintf(&b, "  pairs: %d\n", *s.NumPairs)
	}

	fmt.Fprintf(&b, "rectification: %s\n", mark(s.Rectification))

	switch {
	case s.All():
		b.WriteString("calibration complete\n")
	case s.Phase1 && !s.Phase2:
		b.WriteString("phase1 complete, run stereo calibration\n")
	case s.Phase2 && !s.Rectification:
		b.WriteString("stereo calibration lacks rectification, re-run stereo calibration\n")
	default:
		b.WriteString("calibration incomplete, run full calibration\n")
	}

	return b.String()
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "missing"
}

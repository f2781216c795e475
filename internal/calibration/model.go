// Package calibration loads and validates the stereo rig calibration record.
//
// A State is built once from a persisted record and never mutated afterwards.
// Re-calibration produces a new State; readers holding the old one keep a
// consistent view.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Side selects one camera of the stereo rig.
type Side int

const (
	// SideLeft is the reference camera; rectified disparity is measured from it.
	SideLeft Side = iota
	// SideRight is the second camera.
	SideRight
)

func (s Side) String() string {
	if s == SideRight {
		return "right"
	}
	return "left"
}

// ImageSize is an image resolution in pixels.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CameraIntrinsics holds the per-camera pinhole and lens distortion model.
type CameraIntrinsics struct {
	// CameraMatrix is the 3x3 focal length / principal point matrix.
	CameraMatrix *mat.Dense
	// Distortion holds k1, k2, p1, p2[, k3[, k4, k5, k6]].
	Distortion        []float64
	ImageSize         ImageSize
	ReprojectionError float64
}

// Focal returns fx and fy in pixels.
func (c CameraIntrinsics) Focal() (fx, fy float64) {
	return c.CameraMatrix.At(0, 0), c.CameraMatrix.At(1, 1)
}

// PrincipalPoint returns cx and cy in pixels.
func (c CameraIntrinsics) PrincipalPoint() (cx, cy float64) {
	return c.CameraMatrix.At(0, 2), c.CameraMatrix.At(1, 2)
}

func (c CameraIntrinsics) clone() CameraIntrinsics {
	out := c
	out.CameraMatrix = mat.DenseCopyOf(c.CameraMatrix)
	out.Distortion = append([]float64(nil), c.Distortion...)
	return out
}

// StereoExtrinsics relates the right camera frame to the left one.
type StereoExtrinsics struct {
	Rotation    *mat.Dense
	Translation *mat.VecDense
	// BaselineCM is the stored baseline, or the translation norm converted to centimeters.
	BaselineCM float64
	RMSError   float64
	NumPairs   int
}

func (e StereoExtrinsics) clone() StereoExtrinsics {
	out := e
	out.Rotation = mat.DenseCopyOf(e.Rotation)
	out.Translation = mat.VecDenseCopyOf(e.Translation)
	return out
}

// RectificationParams holds the stereo rectification output.
type RectificationParams struct {
	R1, R2 *mat.Dense // 3x3 rectifying rotations
	P1, P2 *mat.Dense // 3x4 projections in the rectified frame
	Q      *mat.Dense // 4x4 disparity-to-depth mapping
}

func (r RectificationParams) clone() RectificationParams {
	return RectificationParams{
		R1: mat.DenseCopyOf(r.R1),
		R2: mat.DenseCopyOf(r.R2),
		P1: mat.DenseCopyOf(r.P1),
		P2: mat.DenseCopyOf(r.P2),
		Q:  mat.DenseCopyOf(r.Q),
	}
}

// Completeness reports which calibration phases are present.
// Phase2 implies Phase1 and Rectification implies Phase2.
type Completeness struct {
	Phase1        bool `json:"phase1"`
	Phase2        bool `json:"phase2"`
	Rectification bool `json:"rectification"`
}

// All reports whether every phase is present.
func (c Completeness) All() bool {
	return c.Phase1 && c.Phase2 && c.Rectification
}

// State is an immutable, validated calibration.
type State struct {
	id       string
	source   string
	loadedAt time.Time
	raw      []byte
	record   Record

	left, right *CameraIntrinsics
	stereo      *StereoExtrinsics
	rect        *RectificationParams
}

// Load reads and validates the calibration record at path.
// It fails with ErrMissingCalibrationFile if the file does not exist and with an
// IncompleteCalibrationError if any phase is missing.
func Load(path string) (*State, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingCalibrationFile, path)
		}
		return nil, fmt.Errorf("stat calibration file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	return Parse(data, path)
}

// Parse validates a calibration record held in memory. source is informational
// (a file path or a store record id).
func Parse(data []byte, source string) (*State, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCalibration, err)
	}

	st, err := fromRecord(&rec)
	if err != nil {
		return nil, err
	}

	c := st.IsComplete()
	switch {
	case !c.Phase1:
		return nil, incomplete(PhaseOne, "left and right camera intrinsics are required")
	case !c.Phase2:
		return nil, incomplete(PhaseTwo, "stereo extrinsics are missing")
	case !c.Rectification:
		return nil, incomplete(PhaseRectification, "stereo rectification parameters are missing, re-run stereo calibration")
	}

	st.id = uuid.NewString()
	st.source = source
	st.loadedAt = time.Now()
	st.raw = append([]byte(nil), data...)
	return st, nil
}

func fromRecord(rec *Record) (*State, error) {
	st := &State{record: *rec}

	if rec.LeftCamera != nil && len(rec.LeftCamera.CameraMatrix) > 0 &&
		rec.RightCamera != nil && len(rec.RightCamera.CameraMatrix) > 0 {
		left, err := intrinsicsFrom(rec.LeftCamera, "left_camera", nil)
		if err != nil {
			return nil, err
		}
		right, err := intrinsicsFrom(rec.RightCamera, "right_camera", &left.ImageSize)
		if err != nil {
			return nil, err
		}
		st.left, st.right = &left, &right
	}

	if st.left == nil || rec.Stereo == nil {
		return st, nil
	}

	ext, err := extrinsicsFrom(rec.Stereo)
	if err != nil {
		return nil, err
	}
	st.stereo = &ext

	if rec.Stereo.Rectification == nil {
		return st, nil
	}

	rect, err := rectificationFrom(rec.Stereo.Rectification)
	if err != nil {
		return nil, err
	}
	st.rect = &rect

	return st, nil
}

func intrinsicsFrom(cr *CameraRecord, field string, fallback *ImageSize) (CameraIntrinsics, error) {
	k, err := dense(cr.CameraMatrix, 3, 3, field+".camera_matrix")
	if err != nil {
		return CameraIntrinsics{}, err
	}

	switch len(cr.DistortionCoeffs) {
	case 0, 4, 5, 8:
	default:
		return CameraIntrinsics{}, fmt.Errorf("%w: %s.distortion_coeffs has %d values, want 4, 5 or 8",
			ErrMalformedCalibration, field, len(cr.DistortionCoeffs))
	}

	intr := CameraIntrinsics{
		CameraMatrix: k,
		Distortion:   append([]float64(nil), cr.DistortionCoeffs...),
	}
	if cr.ReprojectionError != nil {
		intr.ReprojectionError = *cr.ReprojectionError
	}

	switch {
	case len(cr.ImageSize) == 2:
		intr.ImageSize = ImageSize{Width: cr.ImageSize[0], Height: cr.ImageSize[1]}
	case len(cr.ImageSize) != 0:
		return CameraIntrinsics{}, fmt.Errorf("%w: %s.image_size must be [width, height]", ErrMalformedCalibration, field)
	case fallback != nil:
		intr.ImageSize = *fallback
	default:
		// Older records lack image_size; assume the principal point is centered.
		cx, cy := intr.PrincipalPoint()
		intr.ImageSize = ImageSize{Width: int(cx * 2), Height: int(cy * 2)}
	}

	if intr.ImageSize.Width <= 0 || intr.ImageSize.Height <= 0 {
		return CameraIntrinsics{}, fmt.Errorf("%w: %s image size %dx%d", ErrMalformedCalibration,
			field, intr.ImageSize.Width, intr.ImageSize.Height)
	}

	return intr, nil
}

func extrinsicsFrom(sr *StereoRecord) (StereoExtrinsics, error) {
	r, err := dense(sr.RotationMatrix, 3, 3, "stereo.rotation_matrix")
	if err != nil {
		return StereoExtrinsics{}, err
	}
	if len(sr.TranslationVector) != 3 {
		return StereoExtrinsics{}, fmt.Errorf("%w: stereo.translation_vector has %d values, want 3",
			ErrMalformedCalibration, len(sr.TranslationVector))
	}
	t := mat.NewVecDense(3, append([]float64(nil), sr.TranslationVector...))

	ext := StereoExtrinsics{Rotation: r, Translation: t}
	if sr.BaselineCM != nil {
		ext.BaselineCM = *sr.BaselineCM
	} else {
		// translation is stored in meters
		ext.BaselineCM = mat.Norm(t, 2) * 100
	}
	if sr.RMSError != nil {
		ext.RMSError = *sr.RMSError
	}
	if sr.NumPairs != nil {
		ext.NumPairs = *sr.NumPairs
	}
	return ext, nil
}

func rectificationFrom(rr *RectificationRecord) (RectificationParams, error) {
	var (
		out RectificationParams
		err error
	)
	if out.R1, err = dense(rr.R1, 3, 3, "stereo.rectification.R1"); err != nil {
		return out, err
	}
	if out.R2, err = dense(rr.R2, 3, 3, "stereo.rectification.R2"); err != nil {
		return out, err
	}
	if out.P1, err = dense(rr.P1, 3, 4, "stereo.rectification.P1"); err != nil {
		return out, err
	}
	if out.P2, err = dense(rr.P2, 3, 4, "stereo.rectification.P2"); err != nil {
		return out, err
	}
	if out.Q, err = dense(rr.Q, 4, 4, "stereo.rectification.Q"); err != nil {
		return out, err
	}
	return out, nil
}

func dense(m Matrix, rows, cols int, field string) (*mat.Dense, error) {
	if len(m) != rows {
		return nil, fmt.Errorf("%w: %s has %d rows, want %d", ErrMalformedCalibration, field, len(m), rows)
	}
	data := make([]float64, 0, rows*cols)
	for i, row := range m {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: %s row %d has %d columns, want %d",
				ErrMalformedCalibration, field, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(rows, cols, data), nil
}

// ID returns the identifier assigned when the state was loaded.
func (s *State) ID() string { return s.id }

// Source returns the file path or store id the state was loaded from.
func (s *State) Source() string { return s.source }

// LoadedAt returns when the state was parsed.
func (s *State) LoadedAt() time.Time { return s.loadedAt }

// Raw returns a copy of the record bytes the state was parsed from.
func (s *State) Raw() []byte { return append([]byte(nil), s.raw...) }

// IsComplete reports the three completeness flags.
func (s *State) IsComplete() Completeness {
	var c Completeness
	c.Phase1 = s.left != nil && s.right != nil
	c.Phase2 = c.Phase1 && s.stereo != nil
	c.Rectification = c.Phase2 && s.rect != nil
	return c
}

// Intrinsics returns a copy of the intrinsics for one camera.
func (s *State) Intrinsics(side Side) CameraIntrinsics {
	if side == SideRight {
		return s.right.clone()
	}
	return s.left.clone()
}

// Extrinsics returns a copy of the stereo extrinsics.
func (s *State) Extrinsics() StereoExtrinsics {
	return s.stereo.clone()
}

// Rectification returns a copy of the rectification parameters.
func (s *State) Rectification() RectificationParams {
	return s.rect.clone()
}

// ImageSize is the resolution the rectification maps are built for.
// Both cameras share the left camera's resolution.
func (s *State) ImageSize() ImageSize {
	return s.left.ImageSize
}

// BaselineCM returns the stereo baseline in centimeters.
func (s *State) BaselineCM() float64 {
	return s.stereo.BaselineCM
}

// CameraIDs returns the capture device ids stored with the record, if any.
func (s *State) CameraIDs() (CameraIDs, bool) {
	if s.record.CameraIDs == nil {
		return CameraIDs{}, false
	}
	return *s.record.CameraIDs, true
}

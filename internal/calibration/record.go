package calibration

import (
	"encoding/json"
	"fmt"
)

// Record is the persisted calibration document as written by the calibration tooling.
// Optional sections carried over from older tooling (board_config, camera_ids,
// resolution) are decoded but never required.
type Record struct {
	Version     string        `json:"version,omitempty"`
	BoardConfig *BoardConfig  `json:"board_config,omitempty"`
	LeftCamera  *CameraRecord `json:"left_camera,omitempty"`
	RightCamera *CameraRecord `json:"right_camera,omitempty"`
	Stereo      *StereoRecord `json:"stereo"`
	CameraIDs   *CameraIDs    `json:"camera_ids,omitempty"`
	Resolution  *Resolution   `json:"resolution,omitempty"`
}

// BoardConfig describes the chessboard used during calibration.
type BoardConfig struct {
	Cols         int     `json:"cols"`
	Rows         int     `json:"rows"`
	SquareSizeMM float64 `json:"square_size_mm"`
}

// CameraIDs records which capture devices were calibrated as left and right.
type CameraIDs struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Resolution is the capture resolution used during calibration.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CameraRecord holds the phase 1 result for a single camera.
type CameraRecord struct {
	CameraMatrix      Matrix   `json:"camera_matrix"`
	DistortionCoeffs  Values   `json:"distortion_coeffs"`
	ImageSize         []int    `json:"image_size,omitempty"`
	ReprojectionError *float64 `json:"reprojection_error,omitempty"`
}

// StereoRecord holds the phase 2 result. Rectification is nil for records
// produced before rectification parameters were stored.
type StereoRecord struct {
	RotationMatrix    Matrix               `json:"rotation_matrix"`
	TranslationVector Values               `json:"translation_vector"`
	BaselineCM        *float64             `json:"baseline_cm,omitempty"`
	RMSError          *float64             `json:"rms_error,omitempty"`
	NumPairs          *int                 `json:"num_pairs,omitempty"`
	Rectification     *RectificationRecord `json:"rectification,omitempty"`
}

// RectificationRecord holds the stereo rectification output.
type RectificationRecord struct {
	R1 Matrix `json:"R1"`
	R2 Matrix `json:"R2"`
	P1 Matrix `json:"P1"`
	P2 Matrix `json:"P2"`
	Q  Matrix `json:"Q"`
}

// Matrix is a row-major matrix as serialized by numpy's tolist().
type Matrix [][]float64

// Values is a flat list of numbers. Nested arrays such as the (1, 5)
// distortion row or the (3, 1) translation column are flattened on decode.
type Values []float64

// UnmarshalJSON flattens arbitrarily nested number arrays.
func (v *Values) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out []float64
	var walk func(x any) error
	walk = func(x any) error {
		switch t := x.(type) {
		case nil:
			return nil
		case float64:
			out = append(out, t)
		case []any:
			for _, e := range t {
				if err := walk(e); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("unexpected value %v of type %T", t, t)
		}
		return nil
	}
	if err := walk(raw); err != nil {
		return err
	}

	*v = out
	return nil
}

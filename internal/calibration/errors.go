package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCalibrationFile is returned when the calibration record does not exist.
	ErrMissingCalibrationFile = errors.New("calibration file not found")

	// ErrIncompleteCalibration matches every IncompleteCalibrationError via errors.Is.
	ErrIncompleteCalibration = errors.New("incomplete calibration")

	// ErrMalformedCalibration is returned when a section is present but has the wrong shape.
	ErrMalformedCalibration = errors.New("malformed calibration")
)

// Phase names a calibration stage that must be complete before triangulation.
type Phase string

const (
	// PhaseOne is the individual calibration of both cameras.
	PhaseOne Phase = "phase1"
	// PhaseTwo is the stereo calibration (rotation and translation between cameras).
	PhaseTwo Phase = "phase2"
	// PhaseRectification is the stereo rectification output (R1, R2, P1, P2, Q).
	PhaseRectification Phase = "rectification"
)

// IncompleteCalibrationError reports which phase is missing from a record.
type IncompleteCalibrationError struct {
	Phase  Phase
	Reason string
}

func (e *IncompleteCalibrationError) Error() string {
	return fmt.Sprintf("incomplete calibration (%s): %s", e.Phase, e.Reason)
}

// Unwrap lets errors.Is(err, ErrIncompleteCalibration) match any phase.
func (e *IncompleteCalibrationError) Unwrap() error {
	return ErrIncompleteCalibration
}

func incomplete(phase Phase, reason string) error {
	return &IncompleteCalibrationError{Phase: phase, Reason: reason}
}

// IsIncomplete reports whether err is an IncompleteCalibrationError for the given phase.
func IsIncomplete(err error, phase Phase) bool {
	var ic *IncompleteCalibrationError
	if !errors.As(err, &ic) {
		return false
	}
	return ic.Phase == phase
}

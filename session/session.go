// Package session ties a completed calibration to the collaborators that
// produce and consume it: corner detectors, frame sources, and keyframe
// stores. A CalibrationSession is the value object handed between the
// calibration step and the tracking loop.
package session

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/calib"
	"github.com/camgeom/boardtrack/spatialmath"
	"github.com/camgeom/boardtrack/transform"
)

// CalibrationSession is everything a tracking run needs from a prior
// calibration: the board that was observed, the camera model, and the
// per-sample extrinsics kept for diagnostics.
type CalibrationSession struct {
	Board      board.Geometry                    `json:"board"`
	Intrinsics transform.PinholeCameraIntrinsics `json:"intrinsics"`
	Distortion *transform.BrownConrady           `json:"distortion,omitempty"`
	Extrinsics []spatialmath.Pose                `json:"extrinsics,omitempty"`
	RMS        float64                           `json:"rms_px"`
}

// NewCalibrationSession packages a calibration result with the board it was
// computed against.
func NewCalibrationSession(geom board.Geometry, result *calib.Result) *CalibrationSession {
	return &CalibrationSession{
		Board:      geom,
		Intrinsics: result.Intrinsics,
		Distortion: result.Distortion,
		Extrinsics: result.Extrinsics,
		RMS:        result.RMS,
	}
}

// CheckValid checks if the fields for CalibrationSession have valid inputs.
func (s *CalibrationSession) CheckValid() error {
	if s == nil {
		return errors.New("CalibrationSession is nil")
	}
	var err error
	err = multierr.Append(err, s.Board.CheckValid())
	err = multierr.Append(err, s.Intrinsics.CheckValid())
	if s.RMS < 0 {
		err = multierr.Append(err, errors.Errorf("negative rms %f", s.RMS))
	}
	return err
}

// Save writes the session as indented JSON.
func (s *CalibrationSession) Save(path string) error {
	if err := s.CheckValid(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(path, data, 0o644)
}

// LoadCalibrationSession reads a session previously written by Save.
func LoadCalibrationSession(path string) (*CalibrationSession, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	session := &CalibrationSession{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, errors.Wrapf(err, "error parsing session from %s", path)
	}
	if err := session.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "invalid session in %s", path)
	}
	return session, nil
}

package session

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/spatialmath"
	"github.com/camgeom/boardtrack/transform"
)

func testSession(t *testing.T) *CalibrationSession {
	t.Helper()
	dist, err := transform.NewBrownConrady([]float64{-0.2, 0.05, 0.0008, -0.0004, 0})
	test.That(t, err, test.ShouldBeNil)
	return &CalibrationSession{
		Board: board.Geometry{Rows: 6, Cols: 8, SquareSize: 1},
		Intrinsics: transform.PinholeCameraIntrinsics{
			Width: 640, Height: 480,
			Fx: 800, Fy: 820, Ppx: 325, Ppy: 245,
		},
		Distortion: dist,
		Extrinsics: []spatialmath.Pose{
			spatialmath.NewPose(r3.Vector{X: 0.1}, r3.Vector{X: -3.5, Y: -2.5, Z: 12}),
		},
		RMS: 0.42,
	}
}

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	sess := testSession(t)
	path := filepath.Join(t.TempDir(), "session.json")

	test.That(t, sess.Save(path), test.ShouldBeNil)

	loaded, err := LoadCalibrationSession(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Board, test.ShouldResemble, sess.Board)
	test.That(t, loaded.Intrinsics, test.ShouldResemble, sess.Intrinsics)
	test.That(t, loaded.Distortion.RadialK1, test.ShouldEqual, sess.Distortion.RadialK1)
	test.That(t, loaded.Distortion.TangentialP2, test.ShouldEqual, sess.Distortion.TangentialP2)
	test.That(t, len(loaded.Extrinsics), test.ShouldEqual, 1)
	test.That(t, loaded.Extrinsics[0], test.ShouldResemble, sess.Extrinsics[0])
	test.That(t, loaded.RMS, test.ShouldEqual, sess.RMS)
}

func TestSessionValidation(t *testing.T) {
	sess := testSession(t)
	sess.Intrinsics.Fx = 0
	test.That(t, sess.CheckValid(), test.ShouldNotBeNil)
	test.That(t, sess.Save(filepath.Join(t.TempDir(), "bad.json")), test.ShouldNotBeNil)

	var nilSession *CalibrationSession
	test.That(t, nilSession.CheckValid(), test.ShouldNotBeNil)
}

func TestLoadCalibrationSessionMissingFile(t *testing.T) {
	_, err := LoadCalibrationSession(filepath.Join(t.TempDir(), "absent.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
